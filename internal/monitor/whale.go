package monitor

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/glasswatch/internal/coinglass"
	"github.com/web3guy0/glasswatch/internal/database"
	"github.com/web3guy0/glasswatch/internal/history"
	"github.com/web3guy0/glasswatch/internal/signals"
)

// Whale alerts older than this are recorded but never alerted on.
const whaleStaleAfter = time.Hour

// WhaleSource is the whale feed.
type WhaleSource interface {
	WhaleAlerts(ctx context.Context) ([]coinglass.WhaleAlert, error)
}

// WhaleMonitor turns new whale transactions into accumulation and
// distribution alerts.
type WhaleMonitor struct {
	source  WhaleSource
	store   Store
	emitter *emitter
	params  signals.WhaleParams
	symbols map[string]struct{}
	history *history.Store[signals.WhaleTransaction]
}

// NewWhaleMonitor watches symbols; an empty list watches every symbol.
func NewWhaleMonitor(source WhaleSource, store Store, symbols []string, params signals.WhaleParams, opts Options) *WhaleMonitor {
	return &WhaleMonitor{
		source:  source,
		store:   store,
		emitter: newEmitter(store, opts),
		params:  params,
		symbols: symbolSet(symbols),
		history: history.New[signals.WhaleTransaction](24 * time.Hour),
	}
}

// HistorySize returns the number of transactions held in memory.
func (m *WhaleMonitor) HistorySize() int {
	return m.history.Len()
}

// Poll fetches the whale feed once and processes unseen transactions.
func (m *WhaleMonitor) Poll(ctx context.Context) error {
	alerts, err := m.source.WhaleAlerts(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].CreateTime < alerts[j].CreateTime })

	now := m.emitter.now()
	fresh, queued := 0, 0
	for _, a := range alerts {
		tx := toWhaleTransaction(a, now)
		if tx.Symbol == "" || tx.AmountUSD <= 0 {
			continue
		}
		if m.symbols != nil {
			if _, ok := m.symbols[tx.Symbol]; !ok {
				continue
			}
		}

		inserted, err := m.store.SaveWhaleTransaction(&database.WhaleTransaction{
			TransactionHash: tx.Hash,
			Symbol:          tx.Symbol,
			Side:            tx.Side,
			AmountUSD:       decimal.NewFromFloat(tx.AmountUSD),
			Timestamp:       tx.At,
		})
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		fresh++

		recent := m.history.Values(tx.Symbol, time.Time{})
		m.history.Add(tx.Symbol, tx.At, tx)

		if now.Sub(tx.At) > whaleStaleAfter {
			continue
		}
		sig := signals.Whale(tx, recent, m.params)
		if sig == nil {
			continue
		}
		ok, err := m.emitter.emit(ctx, *sig, decimal.NewFromFloat(tx.AmountUSD))
		if err != nil {
			log.Error().Err(err).Str("symbol", tx.Symbol).Msg("Failed to queue whale alert")
			continue
		}
		if ok {
			queued++
		}
	}

	if fresh > 0 {
		log.Debug().Int("new", fresh).Int("queued", queued).Msg("🐋 Whale feed processed")
	}
	return nil
}

func toWhaleTransaction(a coinglass.WhaleAlert, now time.Time) signals.WhaleTransaction {
	at := a.CreateTime.Time()
	if at.IsZero() {
		at = now
	}
	return signals.WhaleTransaction{
		Hash:      a.Hash(),
		Symbol:    coinglass.NormalizeSymbol(a.Symbol),
		Side:      a.Side(),
		AmountUSD: math.Abs(a.PositionValueUSD.F()),
		At:        at,
	}
}
