package contracts

import "time"

// =============================================================================
// Market snapshot & scanner output
// ⭐ SSOT: 스캐너 입출력 타입은 여기서만
// =============================================================================

// RiskTier 리스크 등급
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// LiquidityTier 유동성 등급
type LiquidityTier string

const (
	LiquidityLow    LiquidityTier = "low"
	LiquidityMedium LiquidityTier = "medium"
	LiquidityHigh   LiquidityTier = "high"
)

// SectorUnclassified is used when no sector keyword matches
const SectorUnclassified = "unclassified"

// Ticker is one validated row of the 24h market snapshot
type Ticker struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"last_price"`
	QuoteVolume        float64 `json:"quote_volume"`
	PriceChangePercent float64 `json:"price_change_percent"`
	TradeCount         int64   `json:"trade_count"`
	BidPrice           float64 `json:"bid_price"`
	AskPrice           float64 `json:"ask_price"`
}

// Candidate is a symbol that passed the scanner filters
// 스캔마다 새로 생성됨 (저장하지 않음)
type Candidate struct {
	Symbol           string        `json:"symbol"`
	BaseAsset        string        `json:"base_asset"`
	LastPrice        float64       `json:"last_price"`
	QuoteVolumeUSD   float64       `json:"quote_volume_usd"`
	VolatilityPct    float64       `json:"volatility_pct"`
	GrowthPct        float64       `json:"growth_pct"`
	SpreadPct        float64       `json:"spread_pct"`
	TradeCount       int64         `json:"trade_count"`
	RiskTier         RiskTier      `json:"risk_tier"`
	LiquidityTier    LiquidityTier `json:"liquidity_tier"`
	CompositeScore   float64       `json:"composite_score"` // 0 ~ 10
	Sector           string        `json:"sector"`
	EstimatedAgeDays int           `json:"estimated_age_days"`
}

// =============================================================================
// Advisory
// =============================================================================

// AdvisoryRequest is the payload sent to every advisory source
// 외부 API 계약이라 camelCase 유지
type AdvisoryRequest struct {
	Symbol        string        `json:"symbol"`
	Price         float64       `json:"price"`
	GrowthPct     float64       `json:"growthPct"`
	RiskTier      RiskTier      `json:"riskTier"`
	LiquidityTier LiquidityTier `json:"liquidityTier"`
	Score         float64       `json:"score"`
	MarketCap     *float64      `json:"marketCap,omitempty"`
}

// NewAdvisoryRequest builds the request for a candidate
func NewAdvisoryRequest(c Candidate) AdvisoryRequest {
	return AdvisoryRequest{
		Symbol:        c.Symbol,
		Price:         c.LastPrice,
		GrowthPct:     c.GrowthPct,
		RiskTier:      c.RiskTier,
		LiquidityTier: c.LiquidityTier,
		Score:         c.CompositeScore,
	}
}

// AdvisoryVerdict is one source's opinion on one candidate
type AdvisoryVerdict struct {
	SourceID    string        `json:"source_id"`
	Recommended bool          `json:"recommended"`
	Rationale   string        `json:"rationale"`
	Error       string        `json:"error,omitempty"` // fail-closed 사유
	Latency     time.Duration `json:"latency"`
}

// AdvisoryDecision is the consensus outcome for a candidate
type AdvisoryDecision struct {
	Symbol      string            `json:"symbol"`
	Recommended bool              `json:"recommended"`
	Policy      string            `json:"policy"`
	Verdicts    []AdvisoryVerdict `json:"verdicts"`
	DecidedAt   time.Time         `json:"decided_at"`
}
