// Package universe loads the symbol lists the buzz factory scans.
package universe

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Universe is the externally curated symbol document: the Tier 1
// watchlist and the wider scan list swept for volume spikes and gaps.
type Universe struct {
	Watchlist []string `yaml:"watchlist"`
	ScanList  []string `yaml:"scan_list"`
}

// Load reads the universe document from path. Symbols are uppercased
// and deduplicated; a missing file yields an empty universe so the
// engine can still run on news catalysts alone.
func Load(path string) (*Universe, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Universe{}, nil
		}
		return nil, fmt.Errorf("failed to read universe file: %w", err)
	}

	var u Universe
	if err := yaml.Unmarshal(b, &u); err != nil {
		return nil, fmt.Errorf("failed to parse universe file: %w", err)
	}

	u.Watchlist = normalize(u.Watchlist)
	u.ScanList = normalize(u.ScanList)
	return &u, nil
}

func normalize(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
