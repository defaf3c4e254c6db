package signals

import (
	"math"
	"time"
)

const (
	// Liquidations above this are treated as bad data.
	maxPlausibleLiquidationUSD = 1e9

	dumpRatio = 2.0
	pumpRatio = 0.5

	// Reported ratio when one side has no liquidations at all.
	ratioCap = 999.0
)

// Liquidation sides.
const (
	SideLong  = "long"
	SideShort = "short"
)

// LiquidationObservation is one liquidation amount on one side.
type LiquidationObservation struct {
	Exchange string
	Side     string
	USD      float64
	At       time.Time
}

// LiquidationParams tune the liquidation heuristic.
type LiquidationParams struct {
	ThresholdUSD float64
	Window       time.Duration // analysis window, default 1h
	BurstWindow  time.Duration // short window bypassing the volume gate, default 15m
}

func (p LiquidationParams) withDefaults() LiquidationParams {
	if p.Window <= 0 {
		p.Window = time.Hour
	}
	if p.BurstWindow <= 0 {
		p.BurstWindow = 15 * time.Minute
	}
	return p
}

// Liquidation compares long against short liquidations in the analysis window.
// A long/short ratio above 2 is a dump, below 0.5 a pump. The window total must
// reach the threshold, unless the last BurstWindow alone exceeds half of it.
func Liquidation(symbol string, obs []LiquidationObservation, now time.Time, p LiquidationParams) *Signal {
	p = p.withDefaults()
	windowStart := now.Add(-p.Window)
	burstStart := now.Add(-p.BurstWindow)

	var long, short, burst float64
	for _, o := range obs {
		if o.USD <= 0 || o.USD > maxPlausibleLiquidationUSD || o.At.Before(windowStart) || o.At.After(now) {
			continue
		}
		switch o.Side {
		case SideLong:
			long += o.USD
		case SideShort:
			short += o.USD
		default:
			continue
		}
		if !o.At.Before(burstStart) {
			burst += o.USD
		}
	}

	total := long + short
	if total == 0 {
		return nil
	}
	if p.ThresholdUSD > 0 && total < p.ThresholdUSD && burst <= p.ThresholdUSD/2 {
		return nil
	}

	ratio := ratioCap
	if short > 0 {
		ratio = math.Min(long/short, ratioCap)
	}

	var typ Type
	var extremity float64
	switch {
	case ratio > dumpRatio:
		typ, extremity = Dump, ratio
	case ratio < pumpRatio:
		typ = Pump
		extremity = ratioCap
		if long > 0 {
			extremity = short / long
		}
	default:
		return nil
	}

	ratioScore := clamp01((extremity - 1) / 4)
	volumeScore := 1.0
	if p.ThresholdUSD > 0 {
		volumeScore = clamp01(total / p.ThresholdUSD)
	}
	confidence := math.Min(0.9, 0.6*ratioScore+0.4*volumeScore)

	return &Signal{
		Type:   typ,
		Symbol: symbol,
		Metrics: map[string]float64{
			"long_usd":  long,
			"short_usd": short,
			"total_usd": total,
			"burst_usd": burst,
			"ratio":     round(ratio, 4),
		},
		Confidence: confidence,
		Timestamp:  now,
	}
}
