package advisory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/pkg/config"
	"github.com/wonny/cyclebot/pkg/logger"
)

// Policy combines per-source verdicts
type Policy string

const (
	RequireAll Policy = "require_all" // 모든 소스 추천 필요
	RequireAny Policy = "require_any" // 하나 이상 추천
)

// SelectPolicy: explicit config wins, else require_all when the premium
// Gemini key is configured, else require_any
func SelectPolicy(cfg config.AdvisoryConfig) Policy {
	switch Policy(cfg.Policy) {
	case RequireAll, RequireAny:
		return Policy(cfg.Policy)
	}
	if cfg.GeminiAPIKey != "" {
		return RequireAll
	}
	return RequireAny
}

// Combine applies the policy; no verdicts means not recommended
func (p Policy) Combine(verdicts []contracts.AdvisoryVerdict) bool {
	if len(verdicts) == 0 {
		return false
	}
	yes := 0
	for _, v := range verdicts {
		if v.Recommended {
			yes++
		}
	}
	if p == RequireAny {
		return yes > 0
	}
	return yes == len(verdicts)
}

// GateConfig holds gate tuning
type GateConfig struct {
	Policy  Policy
	Timeout time.Duration // per source
	Pace    time.Duration // between evaluations, 0 = no pacing
}

// GateConfigFromConfig reads the advisory section
func GateConfigFromConfig(cfg config.AdvisoryConfig) GateConfig {
	return GateConfig{
		Policy:  SelectPolicy(cfg),
		Timeout: cfg.Timeout,
		Pace:    cfg.Pace,
	}
}

// Gate queries every source concurrently and applies the consensus policy
// ⭐ SSOT: 매수 승인 판단은 여기서만
type Gate struct {
	sources []Source
	cfg     GateConfig
	limiter *rate.Limiter
	logger  *logger.Logger
	now     func() time.Time
}

// NewGate creates a gate over sources
func NewGate(sources []Source, cfg GateConfig, log *logger.Logger) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Policy == "" {
		cfg.Policy = RequireAny
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Pace > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Pace), 1)
	}

	return &Gate{
		sources: sources,
		cfg:     cfg,
		limiter: limiter,
		logger:  log,
		now:     time.Now,
	}
}

// Policy returns the active consensus policy
func (g *Gate) Policy() Policy { return g.cfg.Policy }

// Sources returns the configured source IDs
func (g *Gate) Sources() []string {
	ids := make([]string, len(g.sources))
	for i, s := range g.sources {
		ids[i] = s.ID()
	}
	return ids
}

// Evaluate returns the consensus for one candidate.
// Source failures are fail-closed verdicts; the only error is ctx ending while paced.
func (g *Gate) Evaluate(ctx context.Context, c contracts.Candidate) (contracts.AdvisoryDecision, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return contracts.AdvisoryDecision{}, fmt.Errorf("advisory pacing: %w", err)
	}

	req := contracts.NewAdvisoryRequest(c)
	verdicts := make([]contracts.AdvisoryVerdict, len(g.sources))

	var wg sync.WaitGroup
	for i, src := range g.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			verdicts[i] = g.ask(ctx, src, req)
		}(i, src)
	}
	wg.Wait()

	decision := contracts.AdvisoryDecision{
		Symbol:      c.Symbol,
		Recommended: g.cfg.Policy.Combine(verdicts),
		Policy:      string(g.cfg.Policy),
		Verdicts:    verdicts,
		DecidedAt:   g.now(),
	}

	fields := map[string]interface{}{
		"symbol":      c.Symbol,
		"policy":      decision.Policy,
		"recommended": decision.Recommended,
	}
	for _, v := range verdicts {
		fields[v.SourceID] = v.Recommended
	}
	g.logger.WithFields(fields).Info("Advisory decision")

	return decision, nil
}

type adviseResult struct {
	op  Opinion
	err error
}

// ask bounds one source by the per-source timeout, even if it ignores ctx
func (g *Gate) ask(ctx context.Context, src Source, req contracts.AdvisoryRequest) contracts.AdvisoryVerdict {
	start := g.now()
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	ch := make(chan adviseResult, 1)
	go func() {
		op, err := src.Advise(ctx, req)
		ch <- adviseResult{op: op, err: err}
	}()

	var res adviseResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = adviseResult{err: ctx.Err()}
	}

	verdict := contracts.AdvisoryVerdict{
		SourceID: src.ID(),
		Latency:  g.now().Sub(start),
	}
	if res.err != nil {
		err := &contracts.AdvisoryError{SourceID: src.ID(), Err: res.err}
		verdict.Error = err.Error()
		verdict.Rationale = "source unavailable"
		if errors.Is(res.err, context.DeadlineExceeded) {
			verdict.Rationale = "source timed out"
		}
		g.logger.WithError(err).WithField("symbol", req.Symbol).Warn("Advisory source failed, counting as not recommended")
		return verdict
	}

	verdict.Recommended = res.op.Recommended
	verdict.Rationale = res.op.Rationale
	return verdict
}
