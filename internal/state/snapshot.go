package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/vigil/internal/domain"
)

// Snapshot is a consistent, serializable copy of the state core. External
// readers (ops API, persistence) only ever see snapshots.
type Snapshot struct {
	Capital          float64                  `json:"capital"`
	Positions        []domain.Position        `json:"positions"`
	DailyStats       domain.DailyStats        `json:"daily_stats"`
	CapitalHistory   []domain.CapitalSnapshot `json:"capital_history"`
	SystemState      domain.SystemState       `json:"system_state"`
	KillSwitchActive bool                     `json:"kill_switch_active"`
	KillReason       string                   `json:"kill_reason,omitempty"`
	TakenAt          time.Time                `json:"taken_at"`
}

// Snapshot returns a consistent copy of the whole core.
func (c *Core) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	positions := make([]domain.Position, 0, len(c.positions))
	for _, p := range c.positions {
		positions = append(positions, *p)
	}
	history := make([]domain.CapitalSnapshot, len(c.capitalHistory))
	copy(history, c.capitalHistory)

	return Snapshot{
		Capital:          c.capital,
		Positions:        positions,
		DailyStats:       c.daily,
		CapitalHistory:   history,
		SystemState:      c.systemState,
		KillSwitchActive: c.killSwitch,
		KillReason:       c.killReason,
		TakenAt:          c.now(),
	}
}

// Restore replaces the core's contents with the snapshot. Used on startup
// to resume a previous session.
func (c *Core) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.capital = s.Capital
	c.positions = make(map[string]*domain.Position, len(s.Positions))
	for _, p := range s.Positions {
		cp := p
		c.positions[p.Symbol] = &cp
	}
	c.daily = s.DailyStats
	c.capitalHistory = make([]domain.CapitalSnapshot, len(s.CapitalHistory))
	copy(c.capitalHistory, s.CapitalHistory)
	c.systemState = s.SystemState
	c.killSwitch = s.KillSwitchActive
	c.killReason = s.KillReason
}

// SaveToFile writes the snapshot atomically (write temp, rename).
func (c *Core) SaveToFile(path string) error {
	snap := c.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state snapshot: %w", err)
	}
	return nil
}

// LoadFromFile restores the core from a snapshot file. A missing file is
// not an error; the core keeps its initial state.
func (c *Core) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse state snapshot: %w", err)
	}
	c.Restore(snap)
	c.log.Info().
		Int("positions", len(snap.Positions)).
		Float64("capital", snap.Capital).
		Msg("State restored from snapshot")
	return nil
}
