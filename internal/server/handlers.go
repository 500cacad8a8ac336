package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/stockagent/internal/domain"
	"github.com/aristath/stockagent/internal/sim"
)

type agentStatus struct {
	Order           int           `json:"order"`
	ID              string        `json:"id"`
	Character       string        `json:"character"`
	Cash            float64       `json:"cash"`
	HoldingA        int           `json:"holding_a"`
	HoldingB        int           `json:"holding_b"`
	NetWorth        float64       `json:"net_worth"`
	TotalDebt       float64       `json:"total_debt"`
	InitialProperty float64       `json:"initial_property"`
	Bankrupt        bool          `json:"bankrupt"`
	Exited          bool          `json:"exited"`
	Loans           []domain.Loan `json:"loans"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.HealthCheck(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	priceA, priceB := s.quotes.Snapshot()

	active := 0
	exited := 0
	for _, state := range s.driver.AgentStates() {
		if state.Exited {
			exited++
		} else {
			active++
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":        s.driver.RunID(),
		"day":           s.driver.Day(),
		"done":          s.driver.Done(),
		"active_agents": active,
		"exited_agents": exited,
		"price_a":       priceA,
		"price_b":       priceB,
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	states := s.driver.AgentStates()
	out := make([]agentStatus, 0, len(states))
	for _, state := range states {
		out = append(out, newAgentStatus(state))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	states := s.driver.AgentStates()
	order, err := strconv.Atoi(chi.URLParam(r, "order"))
	if err != nil || order < 0 || order >= len(states) {
		http.Error(w, "unknown agent", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, newAgentStatus(states[order]))
}

func newAgentStatus(state sim.AgentState) agentStatus {
	return agentStatus{
		Order:           state.Order,
		ID:              state.ID,
		Character:       state.Character,
		Cash:            state.Cash,
		HoldingA:        state.HoldingA,
		HoldingB:        state.HoldingB,
		NetWorth:        state.NetWorth,
		TotalDebt:       state.TotalDebt,
		InitialProperty: state.InitialProperty,
		Bankrupt:        state.Bankrupt,
		Exited:          state.Exited,
		Loans:           state.Loans,
	}
}

// handleReport returns the market report for the last completed day
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	day := s.driver.Day()
	if day == 0 {
		http.Error(w, "no completed days yet", http.StatusConflict)
		return
	}

	rep, err := s.reports.Build(s.driver.RunID(), day)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleForum(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.Atoi(r.URL.Query().Get("day"))
	if err != nil || day < 1 {
		day = s.driver.Day()
	}

	posts, err := s.store.ForumPostsForDay(s.driver.RunID(), day)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"day": day, "posts": posts})
}

// handleStep advances the simulation by one day
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if s.driver.Done() {
		http.Error(w, "run already completed", http.StatusConflict)
		return
	}

	if err := s.driver.StepDay(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"day":  s.driver.Day(),
		"done": s.driver.Done(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Error().Err(err).Int("status", status).Msg("Request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
