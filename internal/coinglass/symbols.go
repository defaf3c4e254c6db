package coinglass

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Quote and contract suffixes stripped from user input, longest first.
var symbolSuffixes = []string{"-SWAP", "PERP", "USDT", "USDC", "BUSD", "USD"}

// NormalizeSymbol upper-cases input and strips quote/contract suffixes:
// "btcusdt", "BTC-PERP" and "BTC/USDT" all become "BTC".
func NormalizeSymbol(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.TrimPrefix(s, "$")

	for changed := true; changed; {
		changed = false
		s = strings.TrimRight(s, "-_/: ")
		for _, suffix := range symbolSuffixes {
			if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
				s = strings.TrimSuffix(s, suffix)
				changed = true
				break
			}
		}
	}
	return strings.Trim(s, "-_/: ")
}

// SymbolSource lists supported symbols.
type SymbolSource interface {
	SupportedCoins(ctx context.Context) ([]string, error)
}

// Resolver maps user input onto the cached set of supported symbols.
type Resolver struct {
	source SymbolSource
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	symbols   map[string]struct{}
	fetchedAt time.Time
}

// NewResolver creates a resolver refreshing its cache every ttl.
func NewResolver(source SymbolSource, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{source: source, ttl: ttl, now: time.Now}
}

// Resolve returns the canonical symbol for input or *UnsupportedSymbolError.
func (r *Resolver) Resolve(ctx context.Context, input string) (string, error) {
	symbol := NormalizeSymbol(input)
	if symbol == "" {
		return "", &UnsupportedSymbolError{Input: input}
	}

	set, err := r.supported(ctx)
	if err != nil {
		return "", err
	}
	if _, ok := set[symbol]; !ok {
		return "", &UnsupportedSymbolError{Input: input, Symbol: symbol}
	}
	return symbol, nil
}

// Symbols returns the supported set, sorted.
func (r *Resolver) Symbols(ctx context.Context) ([]string, error) {
	set, err := r.supported(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// supported returns the cached set, fetching it when empty or expired. A
// failed refresh keeps serving the stale set if there is one.
func (r *Resolver) supported(ctx context.Context) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.symbols != nil && r.now().Sub(r.fetchedAt) < r.ttl {
		return r.symbols, nil
	}

	coins, err := r.source.SupportedCoins(ctx)
	if err != nil {
		if r.symbols != nil {
			log.Warn().Err(err).Msg("Symbol refresh failed, serving stale list")
			return r.symbols, nil
		}
		return nil, err
	}

	set := make(map[string]struct{}, len(coins))
	for _, c := range coins {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			set[c] = struct{}{}
		}
	}
	r.symbols = set
	r.fetchedAt = r.now()
	log.Debug().Int("count", len(set)).Msg("Supported symbols refreshed")
	return set, nil
}
