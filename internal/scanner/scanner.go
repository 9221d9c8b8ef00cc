// Package scanner turns a 24h ticker snapshot into ranked acquisition
// candidates. It never fails: bad input yields an empty list.
package scanner

import (
	"math"
	"regexp"
	"strings"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/pkg/logger"
)

// Filter reasons (logged as counts)
const (
	reasonQuote      = "quote"
	reasonMalformed  = "malformed"
	reasonPrice      = "price"
	reasonVolume     = "volume"
	reasonVolatility = "volatility"
	reasonGrowth     = "growth"
	reasonExcluded   = "excluded"
)

// Scanner implements candidate selection
// ⭐ SSOT: 스캔 필터/점수 로직은 여기서만
type Scanner struct {
	cfg      *Config
	excluded map[string]struct{}
	patterns []*regexp.Regexp
	orderer  Orderer
	logger   *logger.Logger
}

// Option configures a Scanner
type Option func(*Scanner)

// WithOrderer replaces the default deterministic ordering
func WithOrderer(o Orderer) Option {
	return func(s *Scanner) { s.orderer = o }
}

// New creates a scanner; cfg nil means DefaultConfig
func New(cfg *Config, log *logger.Logger, opts ...Option) (*Scanner, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	s := &Scanner{
		cfg:      cfg,
		excluded: make(map[string]struct{}, len(cfg.Exclusions.Assets)),
		orderer:  DeterministicOrder{},
		logger:   log,
	}
	for _, a := range cfg.Exclusions.Assets {
		s.excluded[strings.ToUpper(a)] = struct{}{}
	}
	for _, p := range cfg.Exclusions.Patterns {
		s.patterns = append(s.patterns, regexp.MustCompile(p))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the active configuration
func (s *Scanner) Config() *Config { return s.cfg }

// Scan filters, scores and orders the snapshot
func (s *Scanner) Scan(tickers []contracts.Ticker) []contracts.Candidate {
	candidates := make([]contracts.Candidate, 0)
	if len(tickers) == 0 {
		s.logger.Info("Empty market snapshot, no candidates")
		return candidates
	}

	filtered := make(map[string]int)
	for _, t := range tickers {
		c, reason := s.evaluate(t)
		if reason != "" {
			filtered[reason]++
			continue
		}
		candidates = append(candidates, c)
	}

	s.orderer.Order(candidates)

	if s.cfg.MaxCandidates > 0 && len(candidates) > s.cfg.MaxCandidates {
		candidates = candidates[:s.cfg.MaxCandidates]
	}

	fields := map[string]interface{}{
		"tickers":    len(tickers),
		"candidates": len(candidates),
	}
	for reason, n := range filtered {
		fields["filtered_"+reason] = n
	}
	if len(candidates) > 0 {
		fields["top_symbol"] = candidates[0].Symbol
		fields["top_score"] = candidates[0].CompositeScore
	}
	s.logger.WithFields(fields).Info("Scan completed")

	return candidates
}

// evaluate returns the candidate or the first failed filter
func (s *Scanner) evaluate(t contracts.Ticker) (contracts.Candidate, string) {
	symbol := strings.ToUpper(strings.TrimSpace(t.Symbol))
	quote := strings.ToUpper(s.cfg.QuoteAsset)
	if !strings.HasSuffix(symbol, quote) || len(symbol) == len(quote) {
		return contracts.Candidate{}, reasonQuote
	}
	base := strings.TrimSuffix(symbol, quote)

	if !finite(t.LastPrice, t.QuoteVolume, t.PriceChangePercent, t.BidPrice, t.AskPrice) ||
		t.LastPrice <= 0 || t.QuoteVolume < 0 || t.TradeCount < 0 {
		return contracts.Candidate{}, reasonMalformed
	}

	b := s.cfg.Bounds
	volatility := math.Abs(t.PriceChangePercent)
	growth := t.PriceChangePercent

	if !inRange(t.LastPrice, b.MinPrice, b.MaxPrice) {
		return contracts.Candidate{}, reasonPrice
	}
	if !inRange(t.QuoteVolume, b.MinVolumeUSD, b.MaxVolumeUSD) {
		return contracts.Candidate{}, reasonVolume
	}
	if !inRange(volatility, b.MinVolatilityPct, b.MaxVolatilityPct) {
		return contracts.Candidate{}, reasonVolatility
	}
	if growth < b.MinGrowthPct || (b.MaxGrowthPct != 0 && growth > b.MaxGrowthPct) {
		return contracts.Candidate{}, reasonGrowth
	}
	if s.isExcluded(base) {
		return contracts.Candidate{}, reasonExcluded
	}

	c := contracts.Candidate{
		Symbol:         symbol,
		BaseAsset:      base,
		LastPrice:      t.LastPrice,
		QuoteVolumeUSD: t.QuoteVolume,
		VolatilityPct:  volatility,
		GrowthPct:      growth,
		SpreadPct:      spreadPct(t.BidPrice, t.AskPrice),
		TradeCount:     t.TradeCount,
	}
	c.RiskTier = s.riskTier(c.VolatilityPct, c.SpreadPct)
	c.LiquidityTier = s.liquidityTier(c.QuoteVolumeUSD)
	c.CompositeScore = s.compositeScore(c)
	c.Sector = s.sector(base)
	c.EstimatedAgeDays = s.estimateAge(t.TradeCount)

	return c, ""
}

func (s *Scanner) isExcluded(base string) bool {
	if _, ok := s.excluded[base]; ok {
		return true
	}
	for _, p := range s.patterns {
		if p.MatchString(base) {
			return true
		}
	}
	return false
}

// sector: 키워드가 base asset 에 포함되면 매칭
func (s *Scanner) sector(base string) string {
	for _, sec := range s.cfg.Sectors {
		for _, kw := range sec.Keywords {
			if kw != "" && strings.Contains(base, strings.ToUpper(kw)) {
				return sec.Name
			}
		}
	}
	return contracts.SectorUnclassified
}

// estimateAge: 체결 수가 적을수록 신규 상장으로 추정
func (s *Scanner) estimateAge(tradeCount int64) int {
	for _, b := range s.cfg.Age.Buckets {
		if tradeCount < b.MaxTradeCount {
			return b.Days
		}
	}
	return s.cfg.Age.DefaultDays
}

func spreadPct(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 || ask < bid {
		return 0
	}
	mid := (ask + bid) / 2
	return (ask - bid) / mid * 100
}

func inRange(v, min, max float64) bool {
	if v < min {
		return false
	}
	return max == 0 || v <= max
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
