package signals

import (
	"math"
	"time"
)

const maxPlausibleWhaleUSD = 1e10

// Whale trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// WhaleTransaction is one large trade.
type WhaleTransaction struct {
	Hash      string
	Symbol    string
	Side      string
	AmountUSD float64
	At        time.Time
}

// WhaleParams tune the whale heuristic.
type WhaleParams struct {
	ThresholdUSD      float64
	ConsistencyWindow time.Duration // default 1h
}

// Whale classifies a single transaction at or above the threshold: buys are
// accumulation, sells distribution. Confidence grows with size and with how
// many of the symbol's recent transactions were on the same side.
func Whale(tx WhaleTransaction, recent []WhaleTransaction, p WhaleParams) *Signal {
	if p.ConsistencyWindow <= 0 {
		p.ConsistencyWindow = time.Hour
	}
	if tx.AmountUSD < p.ThresholdUSD || tx.AmountUSD <= 0 || tx.AmountUSD > maxPlausibleWhaleUSD {
		return nil
	}

	var typ Type
	switch tx.Side {
	case SideBuy:
		typ = Accumulation
	case SideSell:
		typ = Distribution
	default:
		return nil
	}

	since := tx.At.Add(-p.ConsistencyWindow)
	same, count := 1, 1
	for _, r := range recent {
		if r.Hash == tx.Hash || r.Symbol != tx.Symbol {
			continue
		}
		if r.At.Before(since) || r.At.After(tx.At) || r.AmountUSD <= 0 || r.AmountUSD > maxPlausibleWhaleUSD {
			continue
		}
		count++
		if r.Side == tx.Side {
			same++
		}
	}
	consistency := float64(same) / float64(count)

	sizeScore := 1.0
	if p.ThresholdUSD > 0 {
		sizeScore = clamp01(tx.AmountUSD/p.ThresholdUSD - 1)
	}
	confidence := math.Min(0.95, 0.4+0.2*sizeScore+0.3*consistency)

	return &Signal{
		Type:   typ,
		Symbol: tx.Symbol,
		Metrics: map[string]float64{
			"amount_usd":   tx.AmountUSD,
			"same_side":    float64(same),
			"recent_count": float64(count),
			"consistency":  round(consistency, 4),
		},
		Confidence: confidence,
		Timestamp:  tx.At,
	}
}
