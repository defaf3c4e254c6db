package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/glasswatch/internal/coinglass"
	"github.com/web3guy0/glasswatch/internal/database"
	"github.com/web3guy0/glasswatch/internal/history"
	"github.com/web3guy0/glasswatch/internal/signals"
)

// LiquidationSource is the liquidation order feed.
type LiquidationSource interface {
	LiquidationOrders(ctx context.Context, symbol, exchange string, minUSD float64) ([]coinglass.LiquidationOrder, error)
}

// LiquidationMonitor tracks liquidation orders per symbol on one exchange
// and emits pump/dump alerts from the long/short balance.
type LiquidationMonitor struct {
	source   LiquidationSource
	store    Store
	emitter  *emitter
	params   signals.LiquidationParams
	symbols  []string
	exchange string
	history  *history.Store[signals.LiquidationObservation]

	mu     sync.Mutex
	cursor map[string]time.Time
}

// NewLiquidationMonitor watches symbols on exchange.
func NewLiquidationMonitor(source LiquidationSource, store Store, symbols []string, exchange string, params signals.LiquidationParams, opts Options) *LiquidationMonitor {
	return &LiquidationMonitor{
		source:   source,
		store:    store,
		emitter:  newEmitter(store, opts),
		params:   params,
		symbols:  symbols,
		exchange: exchange,
		history:  history.New[signals.LiquidationObservation](24 * time.Hour),
		cursor:   make(map[string]time.Time),
	}
}

// HistorySize returns the number of observations held in memory.
func (m *LiquidationMonitor) HistorySize() int {
	return m.history.Len()
}

// Poll fetches new liquidation orders for every symbol. A failing symbol does
// not stop the others; their errors are joined.
func (m *LiquidationMonitor) Poll(ctx context.Context) error {
	var errs []error
	for _, symbol := range m.symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.pollSymbol(ctx, symbol); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
		}
	}
	return errors.Join(errs...)
}

func (m *LiquidationMonitor) pollSymbol(ctx context.Context, symbol string) error {
	orders, err := m.source.LiquidationOrders(ctx, symbol, m.exchange, 0)
	if err != nil {
		return err
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].Time < orders[j].Time })

	cursor, err := m.cursorFor(symbol)
	if err != nil {
		return err
	}

	// Orders at the cursor itself are offered again: the store drops the
	// ones it already has, so a later order sharing that millisecond is kept.
	added := 0
	for _, o := range orders {
		at := o.Time.Time()
		if at.IsZero() || at.Before(cursor) {
			continue
		}
		obs := toLiquidationObservation(o, m.exchange, at)
		inserted, err := m.store.SaveLiquidationEvent(&database.LiquidationEvent{
			Symbol:         symbol,
			Exchange:       obs.Exchange,
			LiquidationUSD: decimal.NewFromFloat(obs.USD),
			Price:          decimal.NewFromFloat(o.Price.F()),
			Side:           obs.Side,
			Timestamp:      at,
		})
		if err != nil {
			if added > 0 {
				m.evaluate(ctx, symbol)
			}
			return err
		}
		if at.After(cursor) {
			cursor = at
			m.setCursor(symbol, at)
		}
		if !inserted {
			continue
		}
		m.history.Add(symbol, at, obs)
		added++
	}
	if added == 0 {
		return nil
	}
	m.evaluate(ctx, symbol)
	return nil
}

// evaluate runs the liquidation heuristic over the symbol's history and
// queues an alert when it fires.
func (m *LiquidationMonitor) evaluate(ctx context.Context, symbol string) {
	now := m.emitter.now()
	window := m.history.Values(symbol, time.Time{})
	sig := signals.Liquidation(symbol, window, now, m.params)
	if sig == nil {
		return
	}
	if _, err := m.emitter.emit(ctx, *sig, decimal.NewFromFloat(sig.Metrics["total_usd"])); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Failed to queue liquidation alert")
	}
}

// cursorFor returns the newest processed order time, seeded from the
// database on first use.
func (m *LiquidationMonitor) cursorFor(symbol string) (time.Time, error) {
	m.mu.Lock()
	c, ok := m.cursor[symbol]
	m.mu.Unlock()
	if ok {
		return c, nil
	}
	c, err := m.store.LatestLiquidationTime(symbol, m.exchange)
	if err != nil {
		return time.Time{}, err
	}
	m.setCursor(symbol, c)
	return c, nil
}

func (m *LiquidationMonitor) setCursor(symbol string, t time.Time) {
	m.mu.Lock()
	m.cursor[symbol] = t
	m.mu.Unlock()
}

func toLiquidationObservation(o coinglass.LiquidationOrder, exchange string, at time.Time) signals.LiquidationObservation {
	side := signals.SideShort
	if o.IsLong() {
		side = signals.SideLong
	}
	if o.Exchange != "" {
		exchange = o.Exchange
	}
	return signals.LiquidationObservation{
		Exchange: exchange,
		Side:     side,
		USD:      o.USDValue.F(),
		At:       at,
	}
}
