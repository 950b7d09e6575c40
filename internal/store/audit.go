package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// AuditEntry is one prompt/verdict pair of the judge's audit trail.
type AuditEntry struct {
	Symbol    string    `json:"symbol"`
	Origin    string    `json:"origin"` // AI Call, Cache Hit, Correlation Veto, ...
	Prompt    string    `json:"prompt,omitempty"`
	Result    string    `json:"result"`
	Score     float64   `json:"score"`
	Direction string    `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditRepository appends judge audit entries. Append-only; nothing ever
// updates or deletes rows.
type AuditRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *sql.DB, log zerolog.Logger) *AuditRepository {
	return &AuditRepository{
		db:  db,
		log: log.With().Str("repo", "audit").Logger(),
	}
}

// Append writes one audit entry.
func (r *AuditRepository) Append(e AuditEntry) error {
	_, err := r.db.Exec(`
		INSERT INTO judge_audit (symbol, origin, prompt, result, score, direction, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Symbol, e.Origin, e.Prompt, e.Result, e.Score, e.Direction,
		e.Timestamp.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest audit entries.
func (r *AuditRepository) Recent(limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(`
		SELECT symbol, origin, prompt, result, score, direction, timestamp
		FROM judge_audit
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts string
		if err := rows.Scan(&e.Symbol, &e.Origin, &e.Prompt, &e.Result, &e.Score, &e.Direction, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if parsed, perr := time.Parse(time.RFC3339, ts); perr == nil {
			e.Timestamp = parsed
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
