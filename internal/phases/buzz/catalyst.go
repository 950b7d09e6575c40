package buzz

import (
	"context"
	"regexp"
	"strings"

	"github.com/aristath/vigil/internal/domain"
)

// catalystKeywords is the closed keyword set that marks a headline as a
// potential catalyst. Matching is case-insensitive substring matching
// over headline plus summary.
var catalystKeywords = []string{
	// earnings
	"earnings", "beats estimates", "misses estimates", "guidance", "revenue",
	"profit warning", "quarterly results", "resultados", "lucro", "balanço",
	// regulatory
	"fda approval", "fda rejects", "sec investigation", "antitrust",
	"regulator", "probe", "lawsuit", "settlement", "anvisa",
	// M&A
	"merger", "acquisition", "acquires", "takeover", "buyout",
	"tender offer", "fusão", "aquisição",
	// mover verbs
	"surges", "soars", "plunges", "tumbles", "jumps", "rallies",
	"crashes", "halted", "dispara", "despenca",
	// analyst actions
	"upgrade", "downgrade", "price target", "initiates coverage",
	// corporate actions
	"dividend", "stock split", "buyback", "spinoff", "spin-off",
	"bankruptcy", "chapter 11", "recall", "contract win", "partnership",
	"dividendo", "recompra",
}

// tickerExclusions filters the common all-caps tokens that pattern-match
// like tickers but never are: regulators, organizations, geography and
// generic English/Portuguese particles.
var tickerExclusions = map[string]bool{
	// regulators and agencies
	"SEC": true, "FDA": true, "FTC": true, "DOJ": true, "EPA": true,
	"CFTC": true, "FED": true, "ECB": true, "FINRA": true, "IRS": true,
	// organizations and venues
	"OPEC": true, "NATO": true, "IMF": true, "WHO": true, "NYSE": true,
	"AMEX": true, "CNBC": true, "WSJ": true, "OECD": true,
	// geography
	"USA": true, "EUA": true, "NYC": true, "EUROPE": true, "CHINA": true,
	"BRAZIL": true, "LATAM": true,
	// finance shorthand
	"IPO": true, "ETF": true, "GDP": true, "CPI": true, "PCE": true,
	"EPS": true, "YOY": true, "QOQ": true, "ATH": true, "CEO": true,
	"CFO": true, "CTO": true, "COO": true, "ESG": true, "FOMC": true,
	// generic English
	"THE": true, "AND": true, "FOR": true, "NEW": true, "NOW": true,
	"TOP": true, "BIG": true, "ALL": true, "NOT": true, "HAS": true,
	"ARE": true, "ITS": true, "BUY": true, "SELL": true, "HOLD": true,
	"NEWS": true, "LIVE": true, "DEAL": true, "TALK": true,
	// Portuguese particles
	"DOS": true, "DAS": true, "COM": true, "PARA": true, "MAIS": true,
	"APOS": true, "BOLSA": true, "ACAO": true, "ALTA": true,
}

// tickerPattern matches bare or $-prefixed all-caps tokens of 2-6
// letters.
var tickerPattern = regexp.MustCompile(`\$?\b([A-Z]{2,6})\b`)

func (f *Factory) scanNewsCatalysts(ctx context.Context) []domain.Candidate {
	if f.news == nil {
		return nil
	}

	articles, err := f.news.MarketHeadlines(ctx, headlineScanLimit)
	if err != nil {
		f.log.Warn().Err(err).Msg("Catalyst scan failed")
		return nil
	}

	var out []domain.Candidate
	seen := make(map[string]bool)
	for _, a := range articles {
		text := a.Title + " " + a.Summary
		if !containsCatalystKeyword(text) {
			continue
		}
		for _, symbol := range extractTickers(text) {
			if seen[symbol] {
				continue
			}
			seen[symbol] = true
			out = append(out, domain.Candidate{
				Symbol:     symbol,
				Source:     domain.SourceNewsCatalyst,
				BuzzScore:  catalystBaseScore,
				Reason:     "news catalyst: " + a.Title,
				DetectedAt: f.now(),
				Tier:       domain.TierUnknown,
				News:       text,
			})
		}
	}
	return out
}

func containsCatalystKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range catalystKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// extractTickers pulls candidate symbols out of headline text, dropping
// known false positives.
func extractTickers(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range tickerPattern.FindAllStringSubmatch(text, -1) {
		symbol := m[1]
		if tickerExclusions[symbol] || seen[symbol] {
			continue
		}
		seen[symbol] = true
		out = append(out, symbol)
	}
	return out
}
