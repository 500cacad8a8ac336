package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/stockagent/internal/domain"
)

// AgentSnapshot is one agent's end-of-day state
type AgentSnapshot struct {
	AgentID  string
	Day      int
	Cash     float64
	HoldingA int
	HoldingB int
	NetWorth float64
	Bankrupt bool
	Exited   bool
	Loans    []domain.Loan
}

// TradeRecord is one settled trade
type TradeRecord struct {
	AgentID  string
	Day      int
	Asset    domain.Asset
	Side     domain.TradeKind
	Quantity int
	Price    float64
}

// LoanEvent records a loan origination or repayment
type LoanEvent struct {
	AgentID      string
	Day          int
	Kind         string // "originated" or "repaid"
	Amount       float64
	LoanType     int
	RepaymentDay int
}

// AgentRecord describes one agent at run creation
type AgentRecord struct {
	AgentID         string
	Order           int
	Character       string
	InitialProperty float64
}

// RunStore persists everything a simulation run produces
type RunStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunStore creates a run store
func NewRunStore(db *DB, log zerolog.Logger) *RunStore {
	return &RunStore{
		db:  db.Conn(),
		log: log.With().Str("component", "storage").Logger(),
	}
}

// CreateRun registers a new run and its agents
func (s *RunStore) CreateRun(runID string, totalDays int, agents []AgentRecord) error {
	return WithTransaction(s.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO runs (id, agents, total_days) VALUES (?, ?, ?)`,
			runID, len(agents), totalDays,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		for _, a := range agents {
			_, err := tx.Exec(
				`INSERT INTO run_agents (run_id, agent_id, agent_order, character, initial_property)
				 VALUES (?, ?, ?, ?, ?)`,
				runID, a.AgentID, a.Order, a.Character, a.InitialProperty,
			)
			if err != nil {
				return fmt.Errorf("failed to insert agent %s: %w", a.AgentID, err)
			}
		}
		return nil
	})
}

// CompleteRun stamps the run as finished
func (s *RunStore) CompleteRun(runID string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ? WHERE id = ?`,
		time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// SaveSnapshots writes all agents' end-of-day state in one transaction.
// The loan book is serialized as a msgpack blob; it is opaque to queries.
func (s *RunStore) SaveSnapshots(runID string, snapshots []AgentSnapshot) error {
	return WithTransaction(s.db, func(tx *sql.Tx) error {
		for _, snap := range snapshots {
			loanBook, err := msgpack.Marshal(snap.Loans)
			if err != nil {
				return fmt.Errorf("failed to encode loan book for %s: %w", snap.AgentID, err)
			}

			_, err = tx.Exec(
				`INSERT OR REPLACE INTO snapshots
				 (run_id, day, agent_id, cash, holding_a, holding_b, net_worth, bankrupt, exited, loan_book)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, snap.Day, snap.AgentID, snap.Cash, snap.HoldingA, snap.HoldingB,
				snap.NetWorth, snap.Bankrupt, snap.Exited, loanBook,
			)
			if err != nil {
				return fmt.Errorf("failed to insert snapshot for %s: %w", snap.AgentID, err)
			}
		}
		return nil
	})
}

// RecordTrade persists one settled trade
func (s *RunStore) RecordTrade(runID string, t TradeRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO trades (run_id, day, agent_id, asset, side, quantity, price)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, t.Day, t.AgentID, string(t.Asset), string(t.Side), t.Quantity, t.Price,
	)
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// RecordLoanEvent persists a loan origination or repayment
func (s *RunStore) RecordLoanEvent(runID string, e LoanEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO loan_events (run_id, day, agent_id, kind, amount, loan_type, repayment_day)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, e.Day, e.AgentID, e.Kind, e.Amount, e.LoanType, e.RepaymentDay,
	)
	if err != nil {
		return fmt.Errorf("failed to record loan event: %w", err)
	}
	return nil
}

// RecordPrices persists both closing prices for a day
func (s *RunStore) RecordPrices(runID string, day int, priceA, priceB float64) error {
	return WithTransaction(s.db, func(tx *sql.Tx) error {
		for asset, price := range map[domain.Asset]float64{
			domain.AssetA: priceA,
			domain.AssetB: priceB,
		} {
			_, err := tx.Exec(
				`INSERT OR REPLACE INTO prices (run_id, day, asset, price) VALUES (?, ?, ?, ?)`,
				runID, day, string(asset), price,
			)
			if err != nil {
				return fmt.Errorf("failed to record price for %s: %w", asset, err)
			}
		}
		return nil
	})
}

// RecordForumPost persists one end-of-day forum message
func (s *RunStore) RecordForumPost(runID string, day int, agentID, message string) error {
	_, err := s.db.Exec(
		`INSERT INTO forum_posts (run_id, day, agent_id, message) VALUES (?, ?, ?, ?)`,
		runID, day, agentID, message,
	)
	if err != nil {
		return fmt.Errorf("failed to record forum post: %w", err)
	}
	return nil
}

// SnapshotsForDay returns all agents' snapshots for one day, decoded
func (s *RunStore) SnapshotsForDay(runID string, day int) ([]AgentSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT agent_id, day, cash, holding_a, holding_b, net_worth, bankrupt, exited, loan_book
		 FROM snapshots WHERE run_id = ? AND day = ? ORDER BY agent_id`,
		runID, day,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []AgentSnapshot
	for rows.Next() {
		var snap AgentSnapshot
		var loanBook []byte
		if err := rows.Scan(&snap.AgentID, &snap.Day, &snap.Cash, &snap.HoldingA, &snap.HoldingB,
			&snap.NetWorth, &snap.Bankrupt, &snap.Exited, &loanBook); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if len(loanBook) > 0 {
			if err := msgpack.Unmarshal(loanBook, &snap.Loans); err != nil {
				return nil, fmt.Errorf("failed to decode loan book for %s: %w", snap.AgentID, err)
			}
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// NetWorthSeries returns one agent's net worth ordered by day
func (s *RunStore) NetWorthSeries(runID, agentID string) ([]float64, error) {
	rows, err := s.db.Query(
		`SELECT net_worth FROM snapshots WHERE run_id = ? AND agent_id = ? ORDER BY day`,
		runID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query net worth series: %w", err)
	}
	defer rows.Close()

	var series []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan net worth: %w", err)
		}
		series = append(series, v)
	}
	return series, rows.Err()
}

// PriceSeries returns one asset's closing prices ordered by day
func (s *RunStore) PriceSeries(runID string, asset domain.Asset) ([]float64, error) {
	rows, err := s.db.Query(
		`SELECT price FROM prices WHERE run_id = ? AND asset = ? ORDER BY day`,
		runID, string(asset),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query price series: %w", err)
	}
	defer rows.Close()

	var series []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		series = append(series, v)
	}
	return series, rows.Err()
}

// ForumPostsForDay returns the messages posted on one day, oldest first
func (s *RunStore) ForumPostsForDay(runID string, day int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT message FROM forum_posts WHERE run_id = ? AND day = ? ORDER BY id`,
		runID, day,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query forum posts: %w", err)
	}
	defer rows.Close()

	var posts []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan forum post: %w", err)
		}
		posts = append(posts, m)
	}
	return posts, rows.Err()
}
