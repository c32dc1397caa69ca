package scorer

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// KeywordPack holds the signal vocabulary for one trade.
type KeywordPack struct {
	// TradeKeywords mark content as belonging to the trade at all.
	TradeKeywords []string `yaml:"trade_keywords"`
	// ScheduleKeywords mark tabular/legend content, the highest-value
	// signal for both the fast path and the estimator.
	ScheduleKeywords []string `yaml:"schedule_keywords"`
	// SheetPrefixes are drawing-number prefixes whose sheets usually
	// carry the trade's schedules.
	SheetPrefixes []string `yaml:"sheet_prefixes"`
}

// KeywordFile is the on-disk format: a default pack plus per-trade
// overrides keyed by trade code.
type KeywordFile struct {
	Default KeywordPack            `yaml:"default"`
	Trades  map[string]KeywordPack `yaml:"trades"`
}

// DefaultKeywords returns the built-in vocabulary, tuned for signage
// (division 10) takeoffs.
func DefaultKeywords() KeywordFile {
	return KeywordFile{
		Default: KeywordPack{
			TradeKeywords: []string{
				"sign", "signage", "wayfinding", "plaque", "placard",
				"room identification", "ada", "braille",
			},
			ScheduleKeywords: []string{
				"schedule", "legend", "sign type", "message schedule",
				"qty", "quantity", "room number",
			},
			SheetPrefixes: []string{"a-6", "a6", "g-", "t-"},
		},
		Trades: map[string]KeywordPack{},
	}
}

// LoadKeywords reads a keyword file, or returns the built-in defaults
// when path is empty.
func LoadKeywords(path string) (KeywordFile, error) {
	if path == "" {
		return DefaultKeywords(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return KeywordFile{}, eris.Wrapf(err, "scorer: read keywords %s", path)
	}
	var kf KeywordFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return KeywordFile{}, eris.Wrapf(err, "scorer: parse keywords %s", path)
	}
	if len(kf.Default.TradeKeywords) == 0 && len(kf.Default.ScheduleKeywords) == 0 {
		return KeywordFile{}, eris.Errorf("scorer: keywords %s has an empty default pack", path)
	}
	return kf, nil
}

// PackFor returns the pack for a trade code, falling back to the default
// pack with the trade-specific keywords merged in when present.
func (kf KeywordFile) PackFor(tradeCode string) KeywordPack {
	pack := kf.Default
	override, ok := kf.Trades[tradeCode]
	if !ok {
		return pack
	}
	if len(override.TradeKeywords) > 0 {
		pack.TradeKeywords = override.TradeKeywords
	}
	if len(override.ScheduleKeywords) > 0 {
		pack.ScheduleKeywords = override.ScheduleKeywords
	}
	if len(override.SheetPrefixes) > 0 {
		pack.SheetPrefixes = override.SheetPrefixes
	}
	return pack
}

func containsAny(haystack string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return kw, true
		}
	}
	return "", false
}
