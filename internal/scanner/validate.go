package scanner

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// ValidationError 검증 실패
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks all required constraints
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.QuoteAsset) == "" {
		return ValidationError{"quote_asset", "required"}
	}

	// === Bounds ===
	b := cfg.Bounds
	if err := validateRange("bounds.price", b.MinPrice, b.MaxPrice); err != nil {
		return err
	}
	if err := validateRange("bounds.volume_usd", b.MinVolumeUSD, b.MaxVolumeUSD); err != nil {
		return err
	}
	if b.MinVolatilityPct < 0 {
		return ValidationError{"bounds.min_volatility_pct", "must be >= 0"}
	}
	if err := validateRange("bounds.volatility_pct", b.MinVolatilityPct, b.MaxVolatilityPct); err != nil {
		return err
	}
	if b.MaxGrowthPct != 0 && b.MinGrowthPct > b.MaxGrowthPct {
		return ValidationError{"bounds.growth_pct", "min must be <= max"}
	}

	// === Exclusions ===
	for _, p := range cfg.Exclusions.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return ValidationError{"exclusions.patterns", fmt.Sprintf("invalid regex %q: %v", p, err)}
		}
	}

	// === Scoring ===
	s := cfg.Scoring
	w := s.Weights
	if w.Stability < 0 || w.Liquidity < 0 || w.Activity < 0 || w.Growth < 0 {
		return ValidationError{"scoring.weights", "must be >= 0"}
	}
	if math.Abs(w.Sum()-1.0) > 1e-6 {
		return ValidationError{"scoring.weights", fmt.Sprintf("sum must be 1.0, got %.4f", w.Sum())}
	}
	if s.OptimalVolumeLow <= 0 || s.OptimalVolumeHigh < s.OptimalVolumeLow {
		return ValidationError{"scoring.optimal_volume", "need 0 < low <= high"}
	}
	if s.ActivitySaturation <= 0 {
		return ValidationError{"scoring.activity_saturation", "must be > 0"}
	}
	if s.GrowthCapPct <= 0 {
		return ValidationError{"scoring.growth_cap_pct", "must be > 0"}
	}
	if s.MediumRiskPenalty < 0 || s.HighRiskPenalty < 0 {
		return ValidationError{"scoring.risk_penalty", "must be >= 0"}
	}

	// === Tiers ===
	if cfg.Risk.MediumVolatilityPct > cfg.Risk.HighVolatilityPct || cfg.Risk.MediumSpreadPct > cfg.Risk.HighSpreadPct {
		return ValidationError{"risk", "medium thresholds must be <= high thresholds"}
	}
	if cfg.Liquidity.MediumVolumeUSD > cfg.Liquidity.HighVolumeUSD {
		return ValidationError{"liquidity", "medium_volume_usd must be <= high_volume_usd"}
	}

	// === Sectors ===
	for i, sec := range cfg.Sectors {
		if sec.Name == "" {
			return ValidationError{fmt.Sprintf("sectors[%d].name", i), "required"}
		}
	}

	// === Age ===
	var prev int64
	for i, bucket := range cfg.Age.Buckets {
		if bucket.MaxTradeCount <= prev {
			return ValidationError{fmt.Sprintf("age.buckets[%d]", i), "max_trade_count must be ascending"}
		}
		prev = bucket.MaxTradeCount
	}
	if cfg.Age.DefaultDays <= 0 {
		return ValidationError{"age.default_days", "must be > 0"}
	}

	if cfg.MaxCandidates < 0 {
		return ValidationError{"max_candidates", "must be >= 0"}
	}
	return nil
}

// validateRange: max == 0 이면 상한 없음
func validateRange(field string, min, max float64) error {
	if min < 0 {
		return ValidationError{field, "min must be >= 0"}
	}
	if max != 0 && min > max {
		return ValidationError{field, "min must be <= max"}
	}
	return nil
}
