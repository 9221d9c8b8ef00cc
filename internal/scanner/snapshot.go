package scanner

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/wonny/cyclebot/internal/contracts"
)

// rawTicker is one row of the exchange 24h ticker response.
// Numeric fields arrive as strings ("0.1234") or numbers depending on the source.
type rawTicker struct {
	Symbol             string          `json:"symbol"`
	LastPrice          json.RawMessage `json:"lastPrice"`
	QuoteVolume        json.RawMessage `json:"quoteVolume"`
	PriceChangePercent json.RawMessage `json:"priceChangePercent"`
	Count              json.RawMessage `json:"count"`
	BidPrice           json.RawMessage `json:"bidPrice"`
	AskPrice           json.RawMessage `json:"askPrice"`
}

// ParseSnapshot validates a raw 24h ticker array.
// Malformed rows are skipped; undecodable input yields an empty slice.
func ParseSnapshot(data []byte) []contracts.Ticker {
	var rows []rawTicker
	if err := json.Unmarshal(data, &rows); err != nil {
		return []contracts.Ticker{}
	}

	out := make([]contracts.Ticker, 0, len(rows))
	for _, r := range rows {
		t, ok := r.toTicker()
		if ok {
			out = append(out, t)
		}
	}
	return out
}

func (r rawTicker) toTicker() (contracts.Ticker, bool) {
	if strings.TrimSpace(r.Symbol) == "" {
		return contracts.Ticker{}, false
	}

	price, ok1 := number(r.LastPrice, true)
	volume, ok2 := number(r.QuoteVolume, true)
	change, ok3 := number(r.PriceChangePercent, true)
	count, ok4 := number(r.Count, true)
	bid, ok5 := number(r.BidPrice, false)
	ask, ok6 := number(r.AskPrice, false)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return contracts.Ticker{}, false
	}

	return contracts.Ticker{
		Symbol:             strings.ToUpper(r.Symbol),
		LastPrice:          price,
		QuoteVolume:        volume,
		PriceChangePercent: change,
		TradeCount:         int64(count),
		BidPrice:           bid,
		AskPrice:           ask,
	}, true
}

// number accepts "1.5" or 1.5; a missing optional field is 0
func number(raw json.RawMessage, required bool) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, !required
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
