package news

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// QuotaCounter meters calls against a per-day allowance. Usage is
// persisted to disk so a restart mid-day does not reset the count, and
// the counter rolls over automatically at the calendar date boundary.
type QuotaCounter struct {
	mu    sync.Mutex
	path  string
	limit int
	date  string
	used  int
}

type quotaFile struct {
	Date string `json:"date"`
	Used int    `json:"used"`
}

// NewQuotaCounter loads (or initializes) the counter persisted at path.
func NewQuotaCounter(path string, limit int) (*QuotaCounter, error) {
	q := &QuotaCounter{
		path:  path,
		limit: limit,
		date:  today(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return q, nil
		}
		return nil, fmt.Errorf("failed to read quota file: %w", err)
	}

	var f quotaFile
	if err := json.Unmarshal(data, &f); err != nil {
		// Corrupt quota file: start fresh rather than block the feed
		return q, nil
	}
	if f.Date == q.date {
		q.used = f.Used
	}
	return q, nil
}

// TrySpend consumes one unit if the daily allowance permits. It returns
// false once the allowance is exhausted.
func (q *QuotaCounter) TrySpend() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollover()
	if q.used >= q.limit {
		return false
	}
	q.used++
	q.persist()
	return true
}

// Remaining reports the unused allowance for today.
func (q *QuotaCounter) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollover()
	return q.limit - q.used
}

// rollover resets the count when the calendar date has advanced.
// Callers hold q.mu.
func (q *QuotaCounter) rollover() {
	if d := today(); d != q.date {
		q.date = d
		q.used = 0
		q.persist()
	}
}

// persist writes the current count. Callers hold q.mu. Write failures
// are tolerated: the in-memory count still governs this process.
func (q *QuotaCounter) persist() {
	data, err := json.Marshal(quotaFile{Date: q.date, Used: q.used})
	if err != nil {
		return
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, q.path)
}

func today() string {
	return time.Now().Format("2006-01-02")
}

// DefaultQuotaPath returns the conventional quota file location under
// the data directory.
func DefaultQuotaPath(dataDir string) string {
	return filepath.Join(dataDir, "news_quota.json")
}
