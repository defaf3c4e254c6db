package coinglass

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

const (
	pathSupportedCoins   = "/api/futures/supported-coins"
	pathCoinsMarkets     = "/api/futures/coins-markets"
	pathOpenInterest     = "/api/futures/open-interest/exchange-list"
	pathFundingRates     = "/api/futures/funding-rate/exchange-list"
	pathLiquidationCoins = "/api/futures/liquidation/coin-list"
	pathLiquidationOrder = "/api/futures/liquidation/order"
	pathWhaleAlert       = "/api/hyperliquid/whale-alert"
	pathOrderbookDepth   = "/api/futures/orderbook/ask-bids-history"
)

// SupportedCoins returns every futures symbol CoinGlass tracks.
func (c *Client) SupportedCoins(ctx context.Context) ([]string, error) {
	var coins []string
	if err := c.Request(ctx, pathSupportedCoins, nil).Decode(&coins); err != nil {
		return nil, err
	}
	return coins, nil
}

// CoinMarket returns the aggregated futures market row for symbol, or nil
// when CoinGlass has no row for it.
func (c *Client) CoinMarket(ctx context.Context, symbol string) (*CoinMarket, error) {
	var rows []CoinMarket
	if err := c.Request(ctx, pathCoinsMarkets, nil).Decode(&rows); err != nil {
		return nil, err
	}
	for i := range rows {
		if strings.EqualFold(rows[i].Symbol, symbol) {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// OpenInterestByExchange lists open interest per venue. The row with
// exchange "All" carries the aggregate.
func (c *Client) OpenInterestByExchange(ctx context.Context, symbol string) ([]ExchangeOpenInterest, error) {
	var rows []ExchangeOpenInterest
	params := url.Values{"symbol": {symbol}}
	if err := c.Request(ctx, pathOpenInterest, params).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FundingRates returns current funding rates per exchange for every symbol.
func (c *Client) FundingRates(ctx context.Context) ([]SymbolFundingRates, error) {
	var rows []SymbolFundingRates
	if err := c.Request(ctx, pathFundingRates, nil).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FundingRatesFor narrows FundingRates to one symbol's stablecoin-margined venues.
func (c *Client) FundingRatesFor(ctx context.Context, symbol string) ([]ExchangeFundingRate, error) {
	rows, err := c.FundingRates(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if strings.EqualFold(row.Symbol, symbol) {
			return row.Stablecoin, nil
		}
	}
	return nil, nil
}

// LiquidationSummary returns the liquidation totals for symbol on exchange.
func (c *Client) LiquidationSummary(ctx context.Context, symbol, exchange string) (*LiquidationSummary, error) {
	var rows []LiquidationSummary
	params := url.Values{}
	if exchange != "" {
		params.Set("exchange", exchange)
	}
	if err := c.Request(ctx, pathLiquidationCoins, params).Decode(&rows); err != nil {
		return nil, err
	}
	for i := range rows {
		if strings.EqualFold(rows[i].Symbol, symbol) {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// LiquidationOrders returns recent liquidation orders at or above minUSD.
func (c *Client) LiquidationOrders(ctx context.Context, symbol, exchange string, minUSD float64) ([]LiquidationOrder, error) {
	var rows []LiquidationOrder
	params := url.Values{"symbol": {symbol}, "exchange": {exchange}}
	if minUSD > 0 {
		params.Set("min_liquidation_amount", strconv.FormatFloat(minUSD, 'f', 0, 64))
	}
	if err := c.Request(ctx, pathLiquidationOrder, params).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// WhaleAlerts returns the latest large position changes across symbols.
func (c *Client) WhaleAlerts(ctx context.Context) ([]WhaleAlert, error) {
	var rows []WhaleAlert
	if err := c.Request(ctx, pathWhaleAlert, nil).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// OrderbookDepth returns bid/ask USD depth history for a pair on exchange,
// oldest first. rangePct is the depth band around mid price.
func (c *Client) OrderbookDepth(ctx context.Context, pair, exchange, interval, rangePct string) ([]OrderbookDepth, error) {
	var rows []OrderbookDepth
	params := url.Values{
		"symbol":   {pair},
		"exchange": {exchange},
		"interval": {interval},
		"range":    {rangePct},
	}
	if err := c.Request(ctx, pathOrderbookDepth, params).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}
