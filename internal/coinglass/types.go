package coinglass

import (
	"strconv"
	"strings"
	"time"
)

// Float decodes JSON numbers, numeric strings and null alike. Values that
// cannot be parsed decode to zero rather than failing the whole payload.
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = Float(v)
	return nil
}

// F returns the value as float64.
func (f Float) F() float64 { return float64(f) }

// Time interprets the value as a unix timestamp in milliseconds (or seconds
// for small values).
func (f Float) Time() time.Time {
	v := int64(f)
	if v == 0 {
		return time.Time{}
	}
	if v < 1e12 {
		return time.Unix(v, 0)
	}
	return time.UnixMilli(v)
}

// CoinMarket is one row of /api/futures/coins-markets.
type CoinMarket struct {
	Symbol                       string `json:"symbol"`
	CurrentPrice                 Float  `json:"current_price"`
	PriceChangePercent24h        Float  `json:"price_change_percent_24h"`
	MarketCapUSD                 Float  `json:"market_cap_usd"`
	OpenInterestUSD              Float  `json:"open_interest_usd"`
	OpenInterestChangePercent24h Float  `json:"open_interest_change_percent_24h"`
	AvgFundingRateByOI           Float  `json:"avg_funding_rate_by_oi"`
	AvgFundingRateByVol          Float  `json:"avg_funding_rate_by_vol"`
	LongShortRatio24h            Float  `json:"long_short_ratio_24h"`
	LiquidationUSD24h            Float  `json:"liquidation_usd_24h"`
	LongLiquidationUSD24h        Float  `json:"long_liquidation_usd_24h"`
	ShortLiquidationUSD24h       Float  `json:"short_liquidation_usd_24h"`
}

// ExchangeOpenInterest is one row of /api/futures/open-interest/exchange-list.
type ExchangeOpenInterest struct {
	Exchange                     string `json:"exchange"`
	Symbol                       string `json:"symbol"`
	OpenInterestUSD              Float  `json:"open_interest_usd"`
	OpenInterestQuantity         Float  `json:"open_interest_quantity"`
	OpenInterestChangePercent24h Float  `json:"open_interest_change_percent_24h"`
}

// ExchangeFundingRate is a single venue's current funding rate in percent.
type ExchangeFundingRate struct {
	Exchange            string `json:"exchange"`
	FundingRate         Float  `json:"funding_rate"`
	FundingRateInterval Float  `json:"funding_rate_interval"`
	NextFundingTime     Float  `json:"next_funding_time"`
}

// SymbolFundingRates is one row of /api/futures/funding-rate/exchange-list.
type SymbolFundingRates struct {
	Symbol     string                `json:"symbol"`
	Stablecoin []ExchangeFundingRate `json:"stablecoin_margin_list"`
	Token      []ExchangeFundingRate `json:"token_margin_list"`
}

// LiquidationSummary is one row of /api/futures/liquidation/coin-list.
type LiquidationSummary struct {
	Symbol                 string `json:"symbol"`
	LiquidationUSD1h       Float  `json:"liquidation_usd_1h"`
	LongLiquidationUSD1h   Float  `json:"long_liquidation_usd_1h"`
	ShortLiquidationUSD1h  Float  `json:"short_liquidation_usd_1h"`
	LiquidationUSD4h       Float  `json:"liquidation_usd_4h"`
	LongLiquidationUSD4h   Float  `json:"long_liquidation_usd_4h"`
	ShortLiquidationUSD4h  Float  `json:"short_liquidation_usd_4h"`
	LiquidationUSD12h      Float  `json:"liquidation_usd_12h"`
	LongLiquidationUSD12h  Float  `json:"long_liquidation_usd_12h"`
	ShortLiquidationUSD12h Float  `json:"short_liquidation_usd_12h"`
	LiquidationUSD24h      Float  `json:"liquidation_usd_24h"`
	LongLiquidationUSD24h  Float  `json:"long_liquidation_usd_24h"`
	ShortLiquidationUSD24h Float  `json:"short_liquidation_usd_24h"`
}

// LiquidationOrder is one forced closure from /api/futures/liquidation/order.
// Side 1 is a long liquidation, 2 a short liquidation.
type LiquidationOrder struct {
	Exchange string `json:"exchange_name"`
	Symbol   string `json:"symbol"`
	Base     string `json:"base_asset"`
	Price    Float  `json:"price"`
	USDValue Float  `json:"usd_value"`
	Side     int    `json:"side"`
	Time     Float  `json:"time"`
}

// IsLong reports whether a long position was liquidated.
func (o LiquidationOrder) IsLong() bool { return o.Side == 1 }

// WhaleAlert is one large position change from /api/hyperliquid/whale-alert.
// Positive position size is a long (buy), negative a short (sell).
// PositionAction 1 opens, 2 closes.
type WhaleAlert struct {
	User             string `json:"user"`
	Symbol           string `json:"symbol"`
	PositionSize     Float  `json:"position_size"`
	EntryPrice       Float  `json:"entry_price"`
	LiqPrice         Float  `json:"liq_price"`
	PositionValueUSD Float  `json:"position_value_usd"`
	PositionAction   int    `json:"position_action"`
	CreateTime       Float  `json:"create_time"`
}

// Position actions.
const (
	PositionOpen  = 1
	PositionClose = 2
)

// Side returns the trade direction: opening a long or closing a short buys,
// opening a short or closing a long sells.
func (w WhaleAlert) Side() string {
	long := w.PositionSize >= 0
	if w.PositionAction == PositionClose {
		long = !long
	}
	if long {
		return "buy"
	}
	return "sell"
}

// Hash identifies the alert for dedup; the feed carries no tx hash.
func (w WhaleAlert) Hash() string {
	return w.User + ":" + w.Symbol + ":" + strconv.FormatInt(int64(w.CreateTime), 10) + ":" + strconv.FormatFloat(float64(w.PositionSize), 'f', -1, 64)
}

// OrderbookDepth is one row of /api/futures/orderbook/ask-bids-history.
type OrderbookDepth struct {
	BidsUSD      Float `json:"bids_usd"`
	BidsQuantity Float `json:"bids_quantity"`
	AsksUSD      Float `json:"asks_usd"`
	AsksQuantity Float `json:"asks_quantity"`
	Time         Float `json:"time"`
}

// Usage mirrors the API-KEY-* rate limit headers of the last response.
type Usage struct {
	Used      int
	Max       int
	UpdatedAt time.Time
}
