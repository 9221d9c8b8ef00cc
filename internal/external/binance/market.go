package binance

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/contracts"
)

// Tickers fetches the 24h snapshot for every symbol.
// Malformed entries are skipped; transport failures come back as *contracts.FeedError.
func (c *Client) Tickers(ctx context.Context) ([]contracts.Ticker, error) {
	ctx, cancel := context.WithTimeout(ctx, c.feedTimeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return nil, &contracts.FeedError{Op: "tickers", Err: err}
	}

	stats, err := c.api.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, &contracts.FeedError{Op: "tickers", Err: err}
	}

	tickers := make([]contracts.Ticker, 0, len(stats))
	skipped := 0
	for _, s := range stats {
		t, ok := toTicker(s)
		if !ok {
			skipped++
			continue
		}
		tickers = append(tickers, t)
	}

	c.logger.WithFields(map[string]interface{}{
		"received": len(stats),
		"valid":    len(tickers),
		"skipped":  skipped,
	}).Debug("Fetched 24h tickers")

	return tickers, nil
}

// Price returns the last traded price for symbol
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.feedTimeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return decimal.Zero, err
	}

	symbol = strings.ToUpper(symbol)
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list prices %s: %w", symbol, err)
	}

	for _, p := range prices {
		if p == nil || p.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse price %q: %w", p.Price, err)
		}
		if !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("non-positive price for %s", symbol)
		}
		return price, nil
	}

	return decimal.Zero, fmt.Errorf("no price for %s", symbol)
}

func toTicker(s *gobinance.PriceChangeStats) (contracts.Ticker, bool) {
	if s == nil {
		return contracts.Ticker{}, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(s.Symbol))
	if symbol == "" {
		return contracts.Ticker{}, false
	}

	last, ok := parseFloat(s.LastPrice)
	if !ok || last <= 0 {
		return contracts.Ticker{}, false
	}
	quoteVolume, ok := parseFloat(s.QuoteVolume)
	if !ok || quoteVolume < 0 {
		return contracts.Ticker{}, false
	}
	change, ok := parseFloat(s.PriceChangePercent)
	if !ok {
		return contracts.Ticker{}, false
	}

	// bid/ask 는 없을 수 있음 (0 = 스프레드 미상)
	bid, _ := parseFloat(s.BidPrice)
	ask, _ := parseFloat(s.AskPrice)

	return contracts.Ticker{
		Symbol:             symbol,
		LastPrice:          last,
		QuoteVolume:        quoteVolume,
		PriceChangePercent: change,
		TradeCount:         s.Count,
		BidPrice:           bid,
		AskPrice:           ask,
	}, true
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
