package secretary

import (
	"errors"
	"fmt"
)

// ViolationKind distinguishes structural parse failures from semantic ones.
// Both are recoverable via retry; the kind is only used for logging and tests.
type ViolationKind string

const (
	ViolationStructural ViolationKind = "structural"
	ViolationSemantic   ViolationKind = "semantic"
)

// ValidationError describes one rejected reply. Reason is the message fed
// back into the retry prompt, so it has to stand on its own.
type ValidationError struct {
	Kind   ViolationKind
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func structural(format string, args ...any) *ValidationError {
	return &ValidationError{Kind: ViolationStructural, Reason: fmt.Sprintf(format, args...)}
}

func semantic(format string, args ...any) *ValidationError {
	return &ValidationError{Kind: ViolationSemantic, Reason: fmt.Sprintf(format, args...)}
}

// AsValidationError unwraps err into a *ValidationError if possible
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
