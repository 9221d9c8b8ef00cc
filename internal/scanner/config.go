package scanner

// Config는 스캐너 필터/점수 설정 전체
// SSOT: config/scanner.yaml (없으면 DefaultConfig)
type Config struct {
	QuoteAsset    string              `yaml:"quote_asset" json:"quote_asset"`
	Bounds        Bounds              `yaml:"bounds" json:"bounds"`
	Exclusions    Exclusions          `yaml:"exclusions" json:"exclusions"`
	Scoring       Scoring             `yaml:"scoring" json:"scoring"`
	Risk          RiskThresholds      `yaml:"risk" json:"risk"`
	Liquidity     LiquidityThresholds `yaml:"liquidity" json:"liquidity"`
	Sectors       []Sector            `yaml:"sectors" json:"sectors"`
	Age           AgeConfig           `yaml:"age" json:"age"`
	MaxCandidates int                 `yaml:"max_candidates" json:"max_candidates"` // 0 = 제한 없음
}

// Bounds 범위 필터. max 가 0 이면 상한 없음
type Bounds struct {
	MinPrice         float64 `yaml:"min_price" json:"min_price"`
	MaxPrice         float64 `yaml:"max_price" json:"max_price"`
	MinVolumeUSD     float64 `yaml:"min_volume_usd" json:"min_volume_usd"`
	MaxVolumeUSD     float64 `yaml:"max_volume_usd" json:"max_volume_usd"`
	MinVolatilityPct float64 `yaml:"min_volatility_pct" json:"min_volatility_pct"`
	MaxVolatilityPct float64 `yaml:"max_volatility_pct" json:"max_volatility_pct"`
	MinGrowthPct     float64 `yaml:"min_growth_pct" json:"min_growth_pct"`
	MaxGrowthPct     float64 `yaml:"max_growth_pct" json:"max_growth_pct"`
}

// Exclusions 대형주/밈/스테이블/레버리지 토큰 제외
type Exclusions struct {
	Assets   []string `yaml:"assets" json:"assets"`
	Patterns []string `yaml:"patterns" json:"patterns"` // base asset 에 대한 정규식
}

// Scoring composite score 가중치
type Scoring struct {
	Weights            ScoreWeights `yaml:"weights" json:"weights"` // 합 = 1.0
	OptimalVolumeLow   float64      `yaml:"optimal_volume_low" json:"optimal_volume_low"`
	OptimalVolumeHigh  float64      `yaml:"optimal_volume_high" json:"optimal_volume_high"`
	ActivitySaturation float64      `yaml:"activity_saturation" json:"activity_saturation"` // 이 체결 수에서 activity = 1
	GrowthCapPct       float64      `yaml:"growth_cap_pct" json:"growth_cap_pct"`
	MediumRiskPenalty  float64      `yaml:"medium_risk_penalty" json:"medium_risk_penalty"`
	HighRiskPenalty    float64      `yaml:"high_risk_penalty" json:"high_risk_penalty"`
}

type ScoreWeights struct {
	Stability float64 `yaml:"stability" json:"stability"`
	Liquidity float64 `yaml:"liquidity" json:"liquidity"`
	Activity  float64 `yaml:"activity" json:"activity"`
	Growth    float64 `yaml:"growth" json:"growth"`
}

// Sum returns the sum of all weights
func (w ScoreWeights) Sum() float64 {
	return w.Stability + w.Liquidity + w.Activity + w.Growth
}

type RiskThresholds struct {
	HighVolatilityPct   float64 `yaml:"high_volatility_pct" json:"high_volatility_pct"`
	HighSpreadPct       float64 `yaml:"high_spread_pct" json:"high_spread_pct"`
	MediumVolatilityPct float64 `yaml:"medium_volatility_pct" json:"medium_volatility_pct"`
	MediumSpreadPct     float64 `yaml:"medium_spread_pct" json:"medium_spread_pct"`
}

type LiquidityThresholds struct {
	HighVolumeUSD   float64 `yaml:"high_volume_usd" json:"high_volume_usd"`
	MediumVolumeUSD float64 `yaml:"medium_volume_usd" json:"medium_volume_usd"`
}

// Sector 키워드 매칭 (순서대로 첫 매칭)
type Sector struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// AgeConfig 체결 수 → 추정 상장 일수
type AgeConfig struct {
	Buckets     []AgeBucket `yaml:"buckets" json:"buckets"` // MaxTradeCount 오름차순
	DefaultDays int         `yaml:"default_days" json:"default_days"`
}

type AgeBucket struct {
	MaxTradeCount int64 `yaml:"max_trade_count" json:"max_trade_count"` // 미만
	Days          int   `yaml:"days" json:"days"`
}

// DefaultConfig returns the built-in low-cap USDT scanner settings
func DefaultConfig() *Config {
	return &Config{
		QuoteAsset: "USDT",
		Bounds: Bounds{
			MinPrice:         0.0001,
			MaxPrice:         10,
			MinVolumeUSD:     500_000,
			MaxVolumeUSD:     50_000_000,
			MinVolatilityPct: 2,
			MaxVolatilityPct: 25,
			MinGrowthPct:     -5,
			MaxGrowthPct:     20,
		},
		Exclusions: Exclusions{
			Assets: []string{
				// large caps
				"BTC", "ETH", "BNB", "SOL", "XRP", "ADA", "TRX", "AVAX", "DOT", "LTC", "BCH",
				// memes
				"DOGE", "SHIB", "PEPE", "FLOKI", "BONK", "WIF", "MEME",
				// stablecoins / fiat
				"USDC", "FDUSD", "TUSD", "DAI", "BUSD", "USDP", "EUR", "AEUR",
			},
			Patterns: []string{`^[A-Z]{3,}(UP|DOWN)$`, `BULL$`, `BEAR$`},
		},
		Scoring: Scoring{
			Weights:            ScoreWeights{Stability: 0.3, Liquidity: 0.3, Activity: 0.2, Growth: 0.2},
			OptimalVolumeLow:   2_000_000,
			OptimalVolumeHigh:  20_000_000,
			ActivitySaturation: 100_000,
			GrowthCapPct:       20,
			MediumRiskPenalty:  0.5,
			HighRiskPenalty:    1.5,
		},
		Risk: RiskThresholds{
			HighVolatilityPct:   15,
			HighSpreadPct:       1.0,
			MediumVolatilityPct: 7,
			MediumSpreadPct:     0.4,
		},
		Liquidity: LiquidityThresholds{
			HighVolumeUSD:   10_000_000,
			MediumVolumeUSD: 1_000_000,
		},
		Sectors: []Sector{
			{Name: "layer2", Keywords: []string{"ARB", "OP", "STRK", "METIS", "MATIC", "ZK"}},
			{Name: "defi", Keywords: []string{"UNI", "AAVE", "COMP", "CRV", "SUSHI", "CAKE", "DYDX", "SNX", "LDO"}},
			{Name: "gaming", Keywords: []string{"AXS", "SAND", "MANA", "GALA", "IMX", "ENJ", "ILV", "MAGIC"}},
			{Name: "infrastructure", Keywords: []string{"LINK", "GRT", "FIL", "STORJ", "AR"}},
			{Name: "ai", Keywords: []string{"FET", "AGIX", "OCEAN", "RNDR", "TAO", "ARKM", "AI"}},
		},
		Age: AgeConfig{
			Buckets: []AgeBucket{
				{MaxTradeCount: 10_000, Days: 30},
				{MaxTradeCount: 50_000, Days: 90},
				{MaxTradeCount: 200_000, Days: 180},
				{MaxTradeCount: 1_000_000, Days: 365},
			},
			DefaultDays: 730,
		},
	}
}
