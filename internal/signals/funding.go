package signals

import (
	"math"
	"time"
)

// Funding rates are in percent; anything beyond ±10% is bad data.
const maxPlausibleFundingRate = 10.0

// FundingObservation is one exchange's funding rate, in percent.
type FundingObservation struct {
	Exchange string
	Rate     float64
	At       time.Time
}

// FundingParams tune the funding heuristic.
type FundingParams struct {
	Threshold      float64       // percent, default 1.0
	TrailingWindow time.Duration // default 24h
}

// Funding averages the current rates across exchanges. An average at or above
// the threshold means crowded longs (reversal_short); at or below minus the
// threshold crowded shorts (reversal_long). Confidence blends how close the
// average is to twice the threshold with its deviation from the trailing mean.
func Funding(symbol string, current, trailing []FundingObservation, now time.Time, p FundingParams) *Signal {
	if p.Threshold <= 0 {
		p.Threshold = 1.0
	}
	if p.TrailingWindow <= 0 {
		p.TrailingWindow = 24 * time.Hour
	}

	avg, n := meanRate(current, time.Time{}, now)
	if n == 0 {
		return nil
	}

	var typ Type
	switch {
	case avg >= p.Threshold:
		typ = ReversalShort
	case avg <= -p.Threshold:
		typ = ReversalLong
	default:
		return nil
	}

	trailingAvg, tn := meanRate(trailing, now.Add(-p.TrailingWindow), now)
	if tn == 0 {
		trailingAvg = avg
	}

	proximity := clamp01(math.Abs(avg) / (2 * p.Threshold))
	deviation := clamp01(math.Abs(avg-trailingAvg) / p.Threshold)
	confidence := math.Min(0.9, 0.6*proximity+0.4*deviation)

	return &Signal{
		Type:   typ,
		Symbol: symbol,
		Metrics: map[string]float64{
			"avg_rate":     round(avg, 6),
			"trailing_avg": round(trailingAvg, 6),
			"exchanges":    float64(n),
			"threshold":    p.Threshold,
		},
		Confidence: confidence,
		Timestamp:  now,
	}
}

func meanRate(obs []FundingObservation, from, to time.Time) (float64, int) {
	var sum float64
	n := 0
	for _, o := range obs {
		if math.Abs(o.Rate) > maxPlausibleFundingRate || math.IsNaN(o.Rate) {
			continue
		}
		if !from.IsZero() && (o.At.Before(from) || o.At.After(to)) {
			continue
		}
		sum += o.Rate
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
