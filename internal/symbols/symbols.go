// Package symbols normalizes ticker symbols and builds the order-independent
// symbol sets valuation cache keys are derived from.
package symbols

import (
	"sort"
	"strings"
)

// CryptoPrefix marks a symbol as a crypto asset rather than an equity, so
// "CRYPTO:BTC" and a hypothetical stock ticker BTC never collide.
const CryptoPrefix = "CRYPTO:"

// Normalize canonicalizes a raw user-entered symbol: whitespace trimmed,
// upper-cased, class prefix preserved.
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	return s
}

// Crypto returns the class-prefixed form of a crypto ticker.
func Crypto(ticker string) string {
	return CryptoPrefix + Normalize(ticker)
}

// IsCrypto reports whether the symbol carries the crypto class prefix.
func IsCrypto(symbol string) bool {
	return strings.HasPrefix(symbol, CryptoPrefix)
}

// Ticker strips the class prefix, returning the bare ticker.
func Ticker(symbol string) string {
	return strings.TrimPrefix(symbol, CryptoPrefix)
}

// SortedSet returns the distinct normalized symbols in ascending order.
// Two holdings lists with the same symbols in any order and any repetition
// produce identical output.
func SortedSet(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		s := Normalize(r)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SetKey collapses a symbol list into the canonical comma-joined form used
// inside cache keys.
func SetKey(raw []string) string {
	return strings.Join(SortedSet(raw), ",")
}
