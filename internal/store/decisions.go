// Package store is the durable decision store: the portfolio-aware verdict
// cache, the append-only decision log, the trade history and the judge
// audit trail.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/domain"
)

// DecisionRepository handles decision cache and log database operations.
type DecisionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewDecisionRepository creates a new decision repository.
func NewDecisionRepository(db *sql.DB, log zerolog.Logger) *DecisionRepository {
	return &DecisionRepository{
		db:  db,
		log: log.With().Str("repo", "decision").Logger(),
	}
}

// CacheDecision upserts a verdict under (symbol, portfolio_hash, timestamp).
// Re-inserting the same key is idempotent last-writer-wins.
func (r *DecisionRepository) CacheDecision(d *domain.TradeDecision, portfolioHash string) error {
	query := `
		INSERT OR REPLACE INTO decision_cache
		(symbol, portfolio_hash, timestamp, verdict, score, direction,
		 entry, stop, tp1, tp2, risk_reward, size_hint, justification)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		d.Symbol,
		portfolioHash,
		d.Timestamp.UTC().Format(time.RFC3339),
		string(d.Verdict),
		d.FinalScore,
		string(d.Direction),
		d.Entry,
		d.Stop,
		d.TP1,
		d.TP2,
		d.RiskReward,
		string(d.SizeHint),
		d.Justification,
	)
	if err != nil {
		return fmt.Errorf("failed to cache decision: %w", err)
	}
	return nil
}

// CachedDecision returns the most recent cached verdict for
// (symbol, portfolioHash) no older than maxAge, or nil on a miss.
func (r *DecisionRepository) CachedDecision(symbol, portfolioHash string, maxAge time.Duration) (*domain.TradeDecision, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)

	query := `
		SELECT symbol, timestamp, verdict, score, direction,
		       entry, stop, tp1, tp2, risk_reward, size_hint, justification
		FROM decision_cache
		WHERE symbol = ? AND portfolio_hash = ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	row := r.db.QueryRow(query, symbol, portfolioHash, cutoff)

	var d domain.TradeDecision
	var ts, verdict, direction, sizeHint string
	err := row.Scan(&d.Symbol, &ts, &verdict, &d.FinalScore, &direction,
		&d.Entry, &d.Stop, &d.TP1, &d.TP2, &d.RiskReward, &sizeHint, &d.Justification)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query decision cache: %w", err)
	}

	d.Verdict = domain.Verdict(verdict)
	d.Direction = domain.Direction(direction)
	d.SizeHint = domain.SizeHint(sizeHint)
	if parsed, perr := time.Parse(time.RFC3339, ts); perr == nil {
		d.Timestamp = parsed
	}
	return &d, nil
}

// ClearOldCache deletes cache rows older than the given number of hours.
func (r *DecisionRepository) ClearOldCache(hours float64) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour))).Format(time.RFC3339)

	res, err := r.db.Exec(`DELETE FROM decision_cache WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clear old cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Debug().Int64("deleted", n).Msg("Expired cache entries cleared")
	}
	return n, nil
}

// LogDecision appends a verdict to the immutable decision log.
func (r *DecisionRepository) LogDecision(d *domain.TradeDecision) error {
	alerts, err := json.Marshal(d.Alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	query := `
		INSERT INTO decision_log
		(symbol, verdict, score, direction, entry, stop, tp1, tp2,
		 risk_reward, justification, alerts, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.db.Exec(query,
		d.Symbol,
		string(d.Verdict),
		d.FinalScore,
		string(d.Direction),
		d.Entry,
		d.Stop,
		d.TP1,
		d.TP2,
		d.RiskReward,
		d.Justification,
		string(alerts),
		d.Timestamp.UTC().Format(time.RFC3339),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to log decision: %w", err)
	}
	return nil
}

// RecentDecisions returns the newest entries of the decision log.
func (r *DecisionRepository) RecentDecisions(limit int) ([]domain.TradeDecision, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT symbol, verdict, score, direction, entry, stop, tp1, tp2,
		       risk_reward, justification, alerts, timestamp
		FROM decision_log
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision log: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeDecision
	for rows.Next() {
		var d domain.TradeDecision
		var verdict, direction, alerts, ts string
		if err := rows.Scan(&d.Symbol, &verdict, &d.FinalScore, &direction,
			&d.Entry, &d.Stop, &d.TP1, &d.TP2, &d.RiskReward,
			&d.Justification, &alerts, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		d.Verdict = domain.Verdict(verdict)
		d.Direction = domain.Direction(direction)
		_ = json.Unmarshal([]byte(alerts), &d.Alerts)
		if parsed, perr := time.Parse(time.RFC3339, ts); perr == nil {
			d.Timestamp = parsed
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
