// Package market assembles on-demand snapshots from CoinGlass for the bot
// commands and the HTTP API.
package market

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/glasswatch/internal/coinglass"
)

// Snapshot sections that can fail independently.
const (
	SectionMarket       = "market"
	SectionOpenInterest = "open_interest"
	SectionFunding      = "funding"
)

// Source is the subset of the CoinGlass client the service reads.
type Source interface {
	CoinMarket(ctx context.Context, symbol string) (*coinglass.CoinMarket, error)
	OpenInterestByExchange(ctx context.Context, symbol string) ([]coinglass.ExchangeOpenInterest, error)
	FundingRatesFor(ctx context.Context, symbol string) ([]coinglass.ExchangeFundingRate, error)
	LiquidationSummary(ctx context.Context, symbol, exchange string) (*coinglass.LiquidationSummary, error)
	WhaleAlerts(ctx context.Context) ([]coinglass.WhaleAlert, error)
	OrderbookDepth(ctx context.Context, pair, exchange, interval, rangePct string) ([]coinglass.OrderbookDepth, error)
}

// Resolver maps user input to supported symbols.
type Resolver interface {
	Resolve(ctx context.Context, input string) (string, error)
	Symbols(ctx context.Context) ([]string, error)
}

// Service builds market snapshots.
type Service struct {
	source   Source
	resolver Resolver
	now      func() time.Time
}

// NewService creates a snapshot service.
func NewService(source Source, resolver Resolver) *Service {
	return &Service{source: source, resolver: resolver, now: time.Now}
}

// ExchangeOI is one venue's open interest.
type ExchangeOI struct {
	Exchange        string  `json:"exchange"`
	OpenInterestUSD float64 `json:"open_interest_usd"`
	Change24h       float64 `json:"change_24h_pct"`
}

// ExchangeFunding is one venue's current funding rate, in percent.
type ExchangeFunding struct {
	Exchange string  `json:"exchange"`
	Rate     float64 `json:"rate_pct"`
}

// RawSnapshot is the /raw view of a symbol.
type RawSnapshot struct {
	Symbol              string            `json:"symbol"`
	Price               float64           `json:"price"`
	PriceChange24h      float64           `json:"price_change_24h_pct"`
	OpenInterestUSD     float64           `json:"open_interest_usd"`
	OIChange24h         float64           `json:"open_interest_change_24h_pct"`
	FundingRate         float64           `json:"funding_rate_pct"`
	LongShortRatio      float64           `json:"long_short_ratio_24h"`
	Liquidations24h     float64           `json:"liquidations_24h_usd"`
	LongLiquidations    float64           `json:"long_liquidations_24h_usd"`
	ShortLiquidations   float64           `json:"short_liquidations_24h_usd"`
	OpenInterestByVenue []ExchangeOI      `json:"open_interest_by_exchange"`
	FundingByVenue      []ExchangeFunding `json:"funding_by_exchange"`
	Unavailable         []string          `json:"unavailable,omitempty"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Available reports whether section was fetched.
func (s RawSnapshot) Available(section string) bool {
	for _, u := range s.Unavailable {
		if u == section {
			return false
		}
	}
	return true
}

// Raw returns price, open interest, funding and 24h liquidations for input.
// Sections that fail are listed in Unavailable; if every section fails the
// first error is returned.
func (s *Service) Raw(ctx context.Context, input string) (*RawSnapshot, error) {
	symbol, err := s.resolver.Resolve(ctx, input)
	if err != nil {
		return nil, err
	}

	snap := &RawSnapshot{Symbol: symbol, UpdatedAt: s.now()}
	var firstErr error
	fail := func(section string, err error) {
		log.Warn().Err(err).Str("symbol", symbol).Str("section", section).Msg("Snapshot section unavailable")
		snap.Unavailable = append(snap.Unavailable, section)
		if firstErr == nil {
			firstErr = err
		}
	}

	switch m, err := s.source.CoinMarket(ctx, symbol); {
	case err != nil:
		fail(SectionMarket, err)
	case m == nil:
		snap.Unavailable = append(snap.Unavailable, SectionMarket)
	default:
		snap.Price = m.CurrentPrice.F()
		snap.PriceChange24h = m.PriceChangePercent24h.F()
		snap.OpenInterestUSD = m.OpenInterestUSD.F()
		snap.OIChange24h = m.OpenInterestChangePercent24h.F()
		snap.FundingRate = m.AvgFundingRateByOI.F()
		snap.LongShortRatio = m.LongShortRatio24h.F()
		snap.Liquidations24h = m.LiquidationUSD24h.F()
		snap.LongLiquidations = m.LongLiquidationUSD24h.F()
		snap.ShortLiquidations = m.ShortLiquidationUSD24h.F()
	}

	if rows, err := s.source.OpenInterestByExchange(ctx, symbol); err != nil {
		fail(SectionOpenInterest, err)
	} else {
		for _, r := range rows {
			if strings.EqualFold(r.Exchange, "All") {
				if snap.OpenInterestUSD == 0 {
					snap.OpenInterestUSD = r.OpenInterestUSD.F()
				}
				continue
			}
			snap.OpenInterestByVenue = append(snap.OpenInterestByVenue, ExchangeOI{
				Exchange:        r.Exchange,
				OpenInterestUSD: r.OpenInterestUSD.F(),
				Change24h:       r.OpenInterestChangePercent24h.F(),
			})
		}
		sort.SliceStable(snap.OpenInterestByVenue, func(i, j int) bool {
			return snap.OpenInterestByVenue[i].OpenInterestUSD > snap.OpenInterestByVenue[j].OpenInterestUSD
		})
	}

	if rates, err := s.source.FundingRatesFor(ctx, symbol); err != nil {
		fail(SectionFunding, err)
	} else {
		for _, r := range rates {
			snap.FundingByVenue = append(snap.FundingByVenue, ExchangeFunding{Exchange: r.Exchange, Rate: r.FundingRate.F()})
		}
	}

	if len(snap.Unavailable) == 3 && firstErr != nil {
		return nil, firstErr
	}
	return snap, nil
}

// Whale is one large position change.
type Whale struct {
	User       string    `json:"user"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Action     string    `json:"action"`
	AmountUSD  float64   `json:"amount_usd"`
	EntryPrice float64   `json:"entry_price"`
	LiqPrice   float64   `json:"liquidation_price"`
	At         time.Time `json:"timestamp"`
}

// Whales returns the newest whale moves for input, at most limit.
func (s *Service) Whales(ctx context.Context, input string, limit int) ([]Whale, error) {
	symbol, err := s.resolver.Resolve(ctx, input)
	if err != nil {
		return nil, err
	}
	alerts, err := s.source.WhaleAlerts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Whale, 0)
	for _, a := range alerts {
		if coinglass.NormalizeSymbol(a.Symbol) != symbol {
			continue
		}
		action := "open"
		if a.PositionAction == coinglass.PositionClose {
			action = "close"
		}
		out = append(out, Whale{
			User:       a.User,
			Symbol:     symbol,
			Side:       a.Side(),
			Action:     action,
			AmountUSD:  math.Abs(a.PositionValueUSD.F()),
			EntryPrice: a.EntryPrice.F(),
			LiqPrice:   a.LiqPrice.F(),
			At:         a.CreateTime.Time(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LiquidationWindow is one lookback of long and short liquidations.
type LiquidationWindow struct {
	Window string  `json:"window"`
	Total  float64 `json:"total_usd"`
	Long   float64 `json:"long_usd"`
	Short  float64 `json:"short_usd"`
}

// Dominant returns the side that was liquidated more, or "" when balanced.
func (w LiquidationWindow) Dominant() string {
	switch {
	case w.Long > w.Short:
		return "long"
	case w.Short > w.Long:
		return "short"
	default:
		return ""
	}
}

// Liquidations is the /liq view of a symbol.
type Liquidations struct {
	Symbol    string              `json:"symbol"`
	Windows   []LiquidationWindow `json:"windows"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Liquidations returns 1h/4h/12h/24h liquidation totals across exchanges.
func (s *Service) Liquidations(ctx context.Context, input string) (*Liquidations, error) {
	symbol, err := s.resolver.Resolve(ctx, input)
	if err != nil {
		return nil, err
	}
	sum, err := s.source.LiquidationSummary(ctx, symbol, "")
	if err != nil {
		return nil, err
	}

	out := &Liquidations{Symbol: symbol, Windows: []LiquidationWindow{}, UpdatedAt: s.now()}
	if sum == nil {
		return out, nil
	}
	out.Windows = []LiquidationWindow{
		{"1h", sum.LiquidationUSD1h.F(), sum.LongLiquidationUSD1h.F(), sum.ShortLiquidationUSD1h.F()},
		{"4h", sum.LiquidationUSD4h.F(), sum.LongLiquidationUSD4h.F(), sum.ShortLiquidationUSD4h.F()},
		{"12h", sum.LiquidationUSD12h.F(), sum.LongLiquidationUSD12h.F(), sum.ShortLiquidationUSD12h.F()},
		{"24h", sum.LiquidationUSD24h.F(), sum.LongLiquidationUSD24h.F(), sum.ShortLiquidationUSD24h.F()},
	}
	return out, nil
}

// Orderbook is the bid/ask depth balance of a pair.
type Orderbook struct {
	Symbol    string    `json:"symbol"`
	Pair      string    `json:"pair"`
	Exchange  string    `json:"exchange"`
	BidsUSD   float64   `json:"bids_usd"`
	AsksUSD   float64   `json:"asks_usd"`
	Imbalance float64   `json:"imbalance"` // (bids-asks)/(bids+asks), in [-1, 1]
	BidsDelta float64   `json:"bids_change_usd"`
	AsksDelta float64   `json:"asks_change_usd"`
	At        time.Time `json:"timestamp"`
}

// DefaultOrderbookExchange is used when the caller names none.
const DefaultOrderbookExchange = "Binance"

// Orderbook returns the latest ±1% depth for input's USDT pair on exchange.
// An empty history yields nil with no error.
func (s *Service) Orderbook(ctx context.Context, input, exchange string) (*Orderbook, error) {
	symbol, err := s.resolver.Resolve(ctx, input)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		exchange = DefaultOrderbookExchange
	}
	pair := symbol + "USDT"

	rows, err := s.source.OrderbookDepth(ctx, pair, exchange, "1h", "1")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time < rows[j].Time })

	last := rows[len(rows)-1]
	ob := &Orderbook{
		Symbol:   symbol,
		Pair:     pair,
		Exchange: exchange,
		BidsUSD:  last.BidsUSD.F(),
		AsksUSD:  last.AsksUSD.F(),
		At:       last.Time.Time(),
	}
	if total := ob.BidsUSD + ob.AsksUSD; total > 0 {
		ob.Imbalance = (ob.BidsUSD - ob.AsksUSD) / total
	}
	if len(rows) > 1 {
		prev := rows[len(rows)-2]
		ob.BidsDelta = ob.BidsUSD - prev.BidsUSD.F()
		ob.AsksDelta = ob.AsksUSD - prev.AsksUSD.F()
	}
	return ob, nil
}

// Symbols returns every supported symbol, sorted.
func (s *Service) Symbols(ctx context.Context) ([]string, error) {
	return s.resolver.Symbols(ctx)
}
