package guardian

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// snapshot is the on-disk guardian state: the watchdog's price windows,
// the sentinel's headline dedup set and the poison-pill scan marker.
// Losing it is harmless; restarts just rebuild windows and may re-alert
// on a headline once.
type snapshot struct {
	Rings    map[string]*priceRing `msgpack:"rings"`
	Seen     map[string]time.Time  `msgpack:"seen"`
	LastScan time.Time             `msgpack:"last_scan"`
	SavedAt  time.Time             `msgpack:"saved_at"`
}

// Persistence snapshots the guardian loops to a msgpack file across
// restarts.
type Persistence struct {
	path     string
	watchdog *Watchdog
	sentinel *Sentinel
	poison   *PoisonPill
	log      zerolog.Logger
}

// NewPersistence wires the snapshot layer.
func NewPersistence(path string, w *Watchdog, s *Sentinel, pp *PoisonPill, log zerolog.Logger) *Persistence {
	return &Persistence{
		path:     path,
		watchdog: w,
		sentinel: s,
		poison:   pp,
		log:      log.With().Str("component", "guardian_persistence").Logger(),
	}
}

// Save writes the current guardian state atomically.
func (p *Persistence) Save() error {
	snap := snapshot{
		Rings:    p.watchdog.exportRings(),
		Seen:     p.sentinel.exportSeen(),
		LastScan: p.poison.lastScan,
		SavedAt:  time.Now(),
	}

	b, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode guardian snapshot: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("failed to write guardian snapshot: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("failed to commit guardian snapshot: %w", err)
	}

	p.log.Debug().Str("path", p.path).Msg("Guardian state saved")
	return nil
}

// Load restores guardian state from disk. A missing or unreadable file
// leaves the loops with fresh state.
func (p *Persistence) Load() error {
	b, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read guardian snapshot: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(b, &snap); err != nil {
		p.log.Warn().Err(err).Msg("Corrupt guardian snapshot, starting fresh")
		return nil
	}

	p.watchdog.restoreRings(snap.Rings)
	p.sentinel.restoreSeen(snap.Seen)
	p.poison.lastScan = snap.LastScan

	p.log.Info().Time("saved_at", snap.SavedAt).Msg("Guardian state restored")
	return nil
}

func (w *Watchdog) exportRings() map[string]*priceRing {
	out := make(map[string]*priceRing, len(w.rings))
	for symbol, r := range w.rings {
		clone := &priceRing{Samples: make([]sample, len(r.Samples))}
		copy(clone.Samples, r.Samples)
		out[symbol] = clone
	}
	return out
}

func (w *Watchdog) restoreRings(rings map[string]*priceRing) {
	if rings == nil {
		return
	}
	w.rings = rings
}

func (s *Sentinel) exportSeen() map[string]time.Time {
	out := make(map[string]time.Time, len(s.seen))
	for k, v := range s.seen {
		out[k] = v
	}
	return out
}

func (s *Sentinel) restoreSeen(seen map[string]time.Time) {
	if seen == nil {
		return
	}
	s.seen = seen
}
