package scanner

import (
	"math"

	"github.com/wonny/cyclebot/internal/contracts"
)

// compositeScore = 10 × weighted(stability, liquidity, activity, growth) − risk penalty, clamped to [0, 10]
func (s *Scanner) compositeScore(c contracts.Candidate) float64 {
	sc := s.cfg.Scoring
	w := sc.Weights

	weighted := w.Stability*stabilityTerm(c.VolatilityPct) +
		w.Liquidity*liquidityTerm(c.QuoteVolumeUSD, sc.OptimalVolumeLow, sc.OptimalVolumeHigh) +
		w.Activity*activityTerm(c.TradeCount, sc.ActivitySaturation) +
		w.Growth*growthTerm(c.GrowthPct, sc.GrowthCapPct)

	score := 10*weighted - s.riskPenalty(c.RiskTier)
	return math.Round(clamp(score, 0, 10)*100) / 100
}

// stabilityTerm: inverse volatility, 1 at 0%
func stabilityTerm(volatilityPct float64) float64 {
	return 1 / (1 + volatilityPct/10)
}

// liquidityTerm: 1 inside the optimal band, decays outside it
func liquidityTerm(volume, low, high float64) float64 {
	switch {
	case volume <= 0:
		return 0
	case volume < low:
		return volume / low
	case volume > high:
		return high / volume
	default:
		return 1
	}
}

// activityTerm: log-scaled trade count, saturating at 1
func activityTerm(count int64, saturation float64) float64 {
	if count <= 0 {
		return 0
	}
	v := math.Log10(float64(count)+1) / math.Log10(saturation+1)
	return math.Min(v, 1)
}

// growthTerm maps growth/cap ∈ [-1, 1] onto [0, 1]
func growthTerm(growthPct, capPct float64) float64 {
	return (clamp(growthPct/capPct, -1, 1) + 1) / 2
}

func (s *Scanner) riskPenalty(tier contracts.RiskTier) float64 {
	switch tier {
	case contracts.RiskHigh:
		return s.cfg.Scoring.HighRiskPenalty
	case contracts.RiskMedium:
		return s.cfg.Scoring.MediumRiskPenalty
	default:
		return 0
	}
}

func (s *Scanner) riskTier(volatilityPct, spread float64) contracts.RiskTier {
	r := s.cfg.Risk
	switch {
	case volatilityPct >= r.HighVolatilityPct || spread >= r.HighSpreadPct:
		return contracts.RiskHigh
	case volatilityPct >= r.MediumVolatilityPct || spread >= r.MediumSpreadPct:
		return contracts.RiskMedium
	default:
		return contracts.RiskLow
	}
}

func (s *Scanner) liquidityTier(volume float64) contracts.LiquidityTier {
	switch {
	case volume >= s.cfg.Liquidity.HighVolumeUSD:
		return contracts.LiquidityHigh
	case volume >= s.cfg.Liquidity.MediumVolumeUSD:
		return contracts.LiquidityMedium
	default:
		return contracts.LiquidityLow
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
