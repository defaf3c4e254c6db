package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/glasswatch/internal/coinglass"
	"github.com/web3guy0/glasswatch/internal/history"
	"github.com/web3guy0/glasswatch/internal/signals"
)

// FundingSource is the funding rate feed.
type FundingSource interface {
	FundingRates(ctx context.Context) ([]coinglass.SymbolFundingRates, error)
}

// FundingMonitor flags funding extremes against a trailing average.
type FundingMonitor struct {
	source  FundingSource
	emitter *emitter
	params  signals.FundingParams
	symbols map[string]struct{}
	history *history.Store[signals.FundingObservation]
}

// NewFundingMonitor watches symbols; an empty list watches every symbol.
func NewFundingMonitor(source FundingSource, store Store, symbols []string, params signals.FundingParams, opts Options) *FundingMonitor {
	return &FundingMonitor{
		source:  source,
		emitter: newEmitter(store, opts),
		params:  params,
		symbols: symbolSet(symbols),
		history: history.New[signals.FundingObservation](48 * time.Hour),
	}
}

// HistorySize returns the number of rates held in memory.
func (m *FundingMonitor) HistorySize() int {
	return m.history.Len()
}

// Poll fetches current funding rates once.
func (m *FundingMonitor) Poll(ctx context.Context) error {
	rows, err := m.source.FundingRates(ctx)
	if err != nil {
		return err
	}

	now := m.emitter.now()
	for _, row := range rows {
		symbol := coinglass.NormalizeSymbol(row.Symbol)
		if m.symbols != nil {
			if _, ok := m.symbols[symbol]; !ok {
				continue
			}
		}

		current := make([]signals.FundingObservation, 0, len(row.Stablecoin))
		for _, r := range row.Stablecoin {
			current = append(current, signals.FundingObservation{Exchange: r.Exchange, Rate: r.FundingRate.F(), At: now})
		}
		if len(current) == 0 {
			continue
		}

		// Compare against history before today's rates join it.
		trailing := m.history.Values(symbol, time.Time{})
		for _, obs := range current {
			m.history.Add(symbol, now, obs)
		}

		sig := signals.Funding(symbol, current, trailing, now, m.params)
		if sig == nil {
			continue
		}
		if _, err := m.emitter.emit(ctx, *sig, decimal.Zero); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("Failed to queue funding alert")
		}
	}
	return nil
}
