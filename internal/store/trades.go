package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/domain"
)

// Trade is one row of the trade history.
type Trade struct {
	ID         int64
	Symbol     string
	Direction  domain.Direction
	EntryPrice float64
	EntryTime  time.Time
	ExitPrice  *float64
	ExitTime   *time.Time
	Quantity   int
	PnL        *float64
	PnLPercent *float64
	Reason     *string
}

// TradeStats aggregates closed trades for the Kelly sizing hint.
type TradeStats struct {
	Total   int
	Wins    int
	AvgWin  float64
	AvgLoss float64
}

// WinRate returns the fraction of winning trades.
func (s TradeStats) WinRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Total)
}

// TradeRepository handles trade history database operations.
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository.
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trade").Logger(),
	}
}

// RecordEntry inserts a row when an entry order fills.
func (r *TradeRepository) RecordEntry(p *domain.Position) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO trade_history
		(symbol, direction, entry_price, entry_time, quantity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	res, err := r.db.Exec(query,
		p.Symbol,
		string(p.Direction),
		p.EntryPrice,
		p.EntryTime.UTC().Format(time.RFC3339),
		p.Quantity,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record trade entry: %w", err)
	}

	id, _ := res.LastInsertId()
	r.log.Info().
		Str("symbol", p.Symbol).
		Str("direction", string(p.Direction)).
		Int("quantity", p.Quantity).
		Msg("Trade entry recorded")
	return id, nil
}

// RecordExit completes the newest open row for symbol with the exit fill.
// P&L follows the direction: LONG (exit-entry)×qty, SHORT (entry-exit)×qty.
func (r *TradeRepository) RecordExit(symbol string, exitPrice float64, exitTime time.Time, reason string) error {
	row := r.db.QueryRow(`
		SELECT id, direction, entry_price, quantity
		FROM trade_history
		WHERE symbol = ? AND exit_time IS NULL
		ORDER BY id DESC
		LIMIT 1
	`, symbol)

	var id int64
	var direction string
	var entry float64
	var qty int
	err := row.Scan(&id, &direction, &entry, &qty)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("no open trade for %s", symbol)
	}
	if err != nil {
		return fmt.Errorf("failed to find open trade: %w", err)
	}

	pnl := (exitPrice - entry) * float64(qty)
	if domain.Direction(direction) == domain.DirectionShort {
		pnl = (entry - exitPrice) * float64(qty)
	}
	pnlPct := 0.0
	if entry > 0 {
		pnlPct = pnl / (entry * float64(qty)) * 100
	}

	_, err = r.db.Exec(`
		UPDATE trade_history
		SET exit_price = ?, exit_time = ?, pnl = ?, pnl_percent = ?, reason = ?
		WHERE id = ?
	`, exitPrice, exitTime.UTC().Format(time.RFC3339), pnl, pnlPct, reason, id)
	if err != nil {
		return fmt.Errorf("failed to record trade exit: %w", err)
	}

	r.log.Info().
		Str("symbol", symbol).
		Float64("exit", exitPrice).
		Float64("pnl", pnl).
		Str("reason", reason).
		Msg("Trade exit recorded")
	return nil
}

// Stats aggregates closed trades into the win rate and average win/loss
// figures the Kelly fraction needs.
func (r *TradeRepository) Stats() (TradeStats, error) {
	rows, err := r.db.Query(`SELECT pnl FROM trade_history WHERE pnl IS NOT NULL`)
	if err != nil {
		return TradeStats{}, fmt.Errorf("failed to query trade stats: %w", err)
	}
	defer rows.Close()

	var stats TradeStats
	var winSum, lossSum float64
	var losses int
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return TradeStats{}, fmt.Errorf("failed to scan pnl: %w", err)
		}
		stats.Total++
		if pnl >= 0 {
			stats.Wins++
			winSum += pnl
		} else {
			losses++
			lossSum += pnl
		}
	}
	if stats.Wins > 0 {
		stats.AvgWin = winSum / float64(stats.Wins)
	}
	if losses > 0 {
		stats.AvgLoss = lossSum / float64(losses)
	}
	return stats, rows.Err()
}

// History returns the newest trade rows.
func (r *TradeRepository) History(limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(`
		SELECT id, symbol, direction, entry_price, entry_time,
		       exit_price, exit_time, quantity, pnl, pnl_percent, reason
		FROM trade_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var direction, entryTime string
		var exitTime sql.NullString
		var exitPrice, pnl, pnlPct sql.NullFloat64
		var reason sql.NullString
		if err := rows.Scan(&t.ID, &t.Symbol, &direction, &t.EntryPrice, &entryTime,
			&exitPrice, &exitTime, &t.Quantity, &pnl, &pnlPct, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.Direction = domain.Direction(direction)
		if parsed, perr := time.Parse(time.RFC3339, entryTime); perr == nil {
			t.EntryTime = parsed
		}
		if exitTime.Valid {
			if parsed, perr := time.Parse(time.RFC3339, exitTime.String); perr == nil {
				t.ExitTime = &parsed
			}
		}
		if exitPrice.Valid {
			t.ExitPrice = &exitPrice.Float64
		}
		if pnl.Valid {
			t.PnL = &pnl.Float64
		}
		if pnlPct.Valid {
			t.PnLPercent = &pnlPct.Float64
		}
		if reason.Valid {
			t.Reason = &reason.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
