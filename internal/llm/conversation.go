package llm

import "github.com/aristath/stockagent/internal/domain"

// Conversation is one agent's append-only dialogue log. It accumulates across
// the whole simulation and is passed into every transport call, so the model
// sees its own prior replies. Each conversation is owned by exactly one agent
// pipeline; it is not safe for concurrent use.
type Conversation struct {
	messages []domain.Message
}

// NewConversation creates an empty conversation
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds one message to the log
func (c *Conversation) Append(role domain.Role, content string) {
	c.messages = append(c.messages, domain.Message{Role: role, Content: content})
}

// Messages returns a copy of the log, oldest first
func (c *Conversation) Messages() []domain.Message {
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages in the log
func (c *Conversation) Len() int {
	return len(c.messages)
}
