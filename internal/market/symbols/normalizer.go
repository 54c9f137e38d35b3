// Package symbols maps exchange-specific perpetual contract symbols to
// canonical base assets so the same underlying coin groups together across
// exchanges with different naming conventions.
package symbols

import (
	"strings"
	"unicode"
)

// Config tunes the normalization rule set. Zero values fall back to the
// built-in defaults, so the normalizer works unconfigured.
type Config struct {
	// Exceptions maps raw symbols to canonical assets, bypassing the rule
	// chain. Keys are either "exchange:SYMBOL" or "SYMBOL" for all
	// exchanges; lookups are case-insensitive.
	Exceptions map[string]string `json:"exceptions" yaml:"exceptions"`

	// QuoteAssets are the quote-currency suffixes stripped from symbols,
	// longest first.
	QuoteAssets []string `json:"quote_assets" yaml:"quote_assets"`

	// MultiplierPrefixes are the unit-multiplier markers stripped from the
	// front of a symbol, longest first.
	MultiplierPrefixes []string `json:"multiplier_prefixes" yaml:"multiplier_prefixes"`
}

var (
	defaultQuoteAssets = []string{"USDT", "USDC", "BUSD", "USD"}

	// Longest first so 10000SATS sheds its full marker instead of a 1000
	// prefix.
	defaultMultiplierPrefixes = []string{"1000000", "10000", "1000", "1M"}

	defaultContractTokens = map[string]bool{
		"SWAP":      true,
		"PERP":      true,
		"PERPETUAL": true,
	}
)

// Normalizer derives canonical base assets from raw contract symbols. It is
// deterministic and total: unrecognized formats pass through unchanged.
type Normalizer struct {
	exceptions         map[string]string
	quoteAssets        []string
	multiplierPrefixes []string
	contractTokens     map[string]bool
}

// NewNormalizer creates a normalizer from config, filling defaults for any
// rule set left empty.
func NewNormalizer(cfg *Config) *Normalizer {
	n := &Normalizer{
		exceptions:         make(map[string]string),
		quoteAssets:        defaultQuoteAssets,
		multiplierPrefixes: defaultMultiplierPrefixes,
		contractTokens:     defaultContractTokens,
	}

	if cfg != nil {
		for key, asset := range cfg.Exceptions {
			n.exceptions[strings.ToUpper(strings.TrimSpace(key))] = strings.ToUpper(strings.TrimSpace(asset))
		}
		if len(cfg.QuoteAssets) > 0 {
			n.quoteAssets = upperAll(cfg.QuoteAssets)
		}
		if len(cfg.MultiplierPrefixes) > 0 {
			n.multiplierPrefixes = upperAll(cfg.MultiplierPrefixes)
		}
	}

	sortByLengthDesc(n.quoteAssets)
	sortByLengthDesc(n.multiplierPrefixes)
	return n
}

// Normalize maps a raw exchange symbol to its canonical base asset. It never
// fails: symbols it cannot interpret are returned unchanged (uppercased), so
// unknown listings degrade to ungrouped assets instead of crashing callers.
func (n *Normalizer) Normalize(exchange, rawSymbol string) string {
	symbol := strings.ToUpper(strings.TrimSpace(rawSymbol))
	if symbol == "" {
		return rawSymbol
	}

	if asset, ok := n.exception(exchange, symbol); ok {
		return asset
	}

	base := symbol

	// Separator formats (BTC-USDT-SWAP, BTC_USDT) reduce to their first
	// token after dropping contract-type and quote tokens.
	if strings.ContainsAny(base, "-_") {
		base = n.collapseSeparated(base)
	}

	// Micro-cap marker: a single leading k as in kSHIB or kPEPE. The raw
	// casing decides, since KSM and similar tickers legitimately start
	// with an uppercase K.
	base = n.stripMicroMarker(base, rawSymbol)

	// Multiplier prefixes come off before quote suffixes so 1000PEPEUSDT
	// reads as (1000)(PEPE)(USDT), not (1000PEPE)(USDT).
	base = n.stripMultiplierPrefix(base)
	base = n.stripQuoteSuffix(base)
	base = n.stripMultiplierSuffix(base)

	if base == "" {
		return symbol
	}
	return base
}

// NormalizeAll returns the canonical assets for a batch of raw symbols,
// preserving order.
func (n *Normalizer) NormalizeAll(exchange string, rawSymbols []string) []string {
	out := make([]string, len(rawSymbols))
	for i, raw := range rawSymbols {
		out[i] = n.Normalize(exchange, raw)
	}
	return out
}

func (n *Normalizer) exception(exchange, symbol string) (string, bool) {
	if asset, ok := n.exceptions[strings.ToUpper(exchange)+":"+symbol]; ok {
		return asset, true
	}
	if asset, ok := n.exceptions[symbol]; ok {
		return asset, true
	}
	return "", false
}

func (n *Normalizer) collapseSeparated(symbol string) string {
	tokens := strings.FieldsFunc(symbol, func(r rune) bool {
		return r == '-' || r == '_'
	})

	kept := tokens[:0]
	for _, token := range tokens {
		if n.contractTokens[token] || n.isQuoteAsset(token) {
			continue
		}
		kept = append(kept, token)
	}

	if len(kept) == 0 {
		return symbol
	}
	return kept[0]
}

func (n *Normalizer) stripMicroMarker(base, raw string) string {
	if len(base) < 3 || !strings.HasPrefix(base, "K") {
		return base
	}

	// Only the lowercase marker form counts: kPEPE yes, KAVA no.
	rawTrimmed := strings.TrimSpace(raw)
	if len(rawTrimmed) < 3 || rawTrimmed[0] != 'k' {
		return base
	}
	if !unicode.IsUpper(rune(rawTrimmed[1])) || !unicode.IsUpper(rune(rawTrimmed[2])) {
		return base
	}
	return base[1:]
}

func (n *Normalizer) stripMultiplierPrefix(base string) string {
	for _, prefix := range n.multiplierPrefixes {
		trimmed := strings.TrimPrefix(base, prefix)
		if trimmed == base || trimmed == "" {
			continue
		}
		// A multiplier marker precedes a ticker, not more digits.
		if unicode.IsDigit(rune(trimmed[0])) && prefix != "1M" {
			continue
		}
		return trimmed
	}
	return base
}

func (n *Normalizer) stripQuoteSuffix(base string) string {
	for _, quote := range n.quoteAssets {
		trimmed := strings.TrimSuffix(base, quote)
		if trimmed != base && trimmed != "" {
			return trimmed
		}
	}
	return base
}

func (n *Normalizer) stripMultiplierSuffix(base string) string {
	for _, suffix := range n.multiplierPrefixes {
		if suffix == "1M" {
			continue
		}
		trimmed := strings.TrimSuffix(base, suffix)
		if trimmed != base && trimmed != "" && !unicode.IsDigit(rune(trimmed[len(trimmed)-1])) {
			return trimmed
		}
	}
	return base
}

func (n *Normalizer) isQuoteAsset(token string) bool {
	for _, quote := range n.quoteAssets {
		if token == quote {
			return true
		}
	}
	return false
}

func upperAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sortByLengthDesc(values []string) {
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && len(values[j]) > len(values[j-1]); j-- {
			values[j], values[j-1] = values[j-1], values[j]
		}
	}
}
