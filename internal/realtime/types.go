package realtime

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick represents a real-time price update
// ⭐ SSOT: 실시간 가격 데이터 구조
type PriceTick struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`        // 현재가 (close)
	Open        decimal.Decimal `json:"open"`         // 24h 시가
	ChangePct   float64         `json:"change_pct"`   // 24h 등락율
	QuoteVolume float64         `json:"quote_volume"` // 24h 거래대금
	Timestamp   time.Time       `json:"timestamp"`
	Source      string          `json:"source"` // "BINANCE_WS", "BINANCE_REST"
	IsStale     bool            `json:"is_stale"`
}

// PriceSource represents the source of price data
type PriceSource string

const (
	SourceBinanceStream PriceSource = "BINANCE_WS"
	SourceBinanceREST   PriceSource = "BINANCE_REST"
)

// Priority returns priority for source (higher = better)
func (s PriceSource) Priority() int {
	switch s {
	case SourceBinanceStream:
		return 2
	case SourceBinanceREST:
		return 1
	default:
		return 0
	}
}
