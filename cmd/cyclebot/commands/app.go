package commands

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/cyclebot/internal/advisory"
	"github.com/wonny/cyclebot/internal/api"
	"github.com/wonny/cyclebot/internal/api/handlers"
	"github.com/wonny/cyclebot/internal/events"
	"github.com/wonny/cyclebot/internal/execution"
	"github.com/wonny/cyclebot/internal/external/binance"
	"github.com/wonny/cyclebot/internal/ledger"
	"github.com/wonny/cyclebot/internal/realtime/cache"
	"github.com/wonny/cyclebot/internal/realtime/feed"
	"github.com/wonny/cyclebot/internal/scanner"
	"github.com/wonny/cyclebot/internal/scheduler"
	"github.com/wonny/cyclebot/internal/scheduler/jobs"
	"github.com/wonny/cyclebot/internal/store"
	"github.com/wonny/cyclebot/internal/target"
	"github.com/wonny/cyclebot/pkg/config"
	"github.com/wonny/cyclebot/pkg/logger"
	"github.com/wonny/cyclebot/pkg/redis"
)

// 페이퍼 모드 체결 수수료 (Binance spot 기본 taker)
var paperFeeRate = decimal.RequireFromString("0.001")

// core holds the config, logger and storage every command needs
type core struct {
	cfg    *config.Config
	log    *logger.Logger
	redis  *redis.Client
	ledger *ledger.Ledger
	kv     store.KV // cycle/schedule state, mirrored to the backup tier

	closers []func()
}

// app is the fully wired trading engine
type app struct {
	*core

	target    *target.StateMachine
	market    *binance.Client
	prices    *feed.PriceFeed
	scanner   *scanner.Scanner
	gate      *advisory.Gate
	paper     *execution.PaperBroker // nil in live mode
	inflight  *execution.InFlight
	acquirer  *execution.Acquirer
	disposer  *execution.Disposer
	monitor   *execution.ProfitMonitor
	bus       *events.Bus
	scheduler *scheduler.CycleScheduler
	jobs      *scheduler.JobRunner
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// openBase creates the logger and connects redis
func openBase(cfg *config.Config) *core {
	log := logger.New(cfg)
	c := &core{cfg: cfg, log: log}

	rc, err := redis.New(cfg)
	if err != nil {
		// redis 는 선택 사항: 메모리 primary 로 계속
		log.WithError(err).Warn("Redis unavailable, continuing without it")
		rc = &redis.Client{}
	}
	c.redis = rc
	c.closers = append(c.closers, func() { _ = rc.Close() })
	return c
}

// openCore additionally opens both ledger tiers
func openCore(ctx context.Context, cfg *config.Config) (*core, error) {
	c := openBase(cfg)

	primary := store.OpenPrimary(cfg, c.redis, c.log)
	backup, closeBackup, err := store.OpenBackup(ctx, cfg, c.log)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.closers = append(c.closers, closeBackup)

	// 목표/스케줄 상태도 backup 에 미러링 (재시작 후 복원)
	c.kv = store.NewMirroredKV(primary, backup, c.log)
	c.ledger = ledger.New(primary, backup, c.log)
	return c, nil
}

// Close releases resources in reverse order
func (c *core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// newMarket creates the Binance REST client, sharing the weight budget through redis when available
func newMarket(c *core) *binance.Client {
	var opts []binance.Option
	if c.redis.Enabled() {
		opts = append(opts, binance.WithRateLimiter(redis.NewRateLimiter(c.redis, c.cfg.Redis.Prefix, redis.BinanceWeightBudget)))
	}
	return binance.NewClient(c.cfg.Binance, c.log, opts...)
}

func newScanner(c *core) (*scanner.Scanner, error) {
	scfg, err := scanner.LoadOrDefault(c.cfg.Trading.ScannerConfigPath)
	if err != nil {
		return nil, err
	}

	if hash, err := scanner.Hash(scfg); err == nil {
		c.log.WithFields(map[string]interface{}{
			"path": c.cfg.Trading.ScannerConfigPath,
			"hash": hash[:12],
		}).Info("Scanner config loaded")
	}

	var opts []scanner.Option
	if w := c.cfg.Trading.ShuffleWindow; w > 0 {
		// 상위 w 개 안에서만 섞음
		opts = append(opts, scanner.WithOrderer(scanner.NewShuffledOrder(rand.NewSource(time.Now().UnixNano()), w)))
	}
	return scanner.New(scfg, c.log, opts...)
}

// buildApp wires every component of the engine. Nothing is started.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	c, err := openCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{core: c}

	if err := a.wire(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	machine, err := target.New(ctx, a.kv, target.BoundsFromConfig(cfg.Cycle), log)
	if err != nil {
		return fmt.Errorf("target state: %w", err)
	}
	a.target = machine

	a.market = newMarket(a.core)

	// 실시간 가격: 스트림 캐시 우선, REST fallback
	priceCache := cache.NewPriceCache(cfg.Binance.PriceCacheTTL, log)
	var stream *feed.StreamClient
	if cfg.Binance.StreamEnabled {
		stream = feed.NewStreamClient(cfg.Binance.StreamURL, cfg.Binance.QuoteAsset, priceCache, log)
	}
	a.prices = feed.NewPriceFeed(priceCache, stream, a.market, log)

	if a.scanner, err = newScanner(a.core); err != nil {
		return fmt.Errorf("scanner: %w", err)
	}

	sources, err := advisory.BuildSources(ctx, cfg, a.redis, log)
	if err != nil {
		return fmt.Errorf("advisory sources: %w", err)
	}
	a.gate = advisory.NewGate(sources, advisory.GateConfigFromConfig(cfg.Advisory), log)

	var broker execution.Broker
	if cfg.IsLive() {
		broker = binance.NewBroker(a.market)
		log.Warn("LIVE trading mode: orders go to Binance")
	} else {
		a.paper = execution.NewPaperBroker(a.prices, paperFeeRate)
		broker = a.paper
		log.Info("Paper trading mode")
	}

	notional, err := decimal.NewFromString(cfg.Trading.NotionalUSD)
	if err != nil {
		return fmt.Errorf("parse NOTIONAL_USD %q: %w", cfg.Trading.NotionalUSD, err)
	}

	a.bus = events.NewBus(log)
	a.inflight = execution.NewInFlight()
	a.acquirer = execution.NewAcquirer(broker, a.ledger, machine, a.inflight, notional, cfg.Binance.OrderTimeout, log)
	a.disposer = execution.NewDisposer(broker, a.ledger, machine, a.bus, cfg.Binance.OrderTimeout, log)
	a.monitor = execution.NewProfitMonitor(a.ledger, a.prices, a.disposer, a.inflight, cfg.Trading.MonitorInterval, log)

	a.scheduler = scheduler.NewCycleScheduler(scheduler.Deps{
		Feed:      a.market,
		Scanner:   a.scanner,
		Gate:      a.gate,
		Acquirer:  a.acquirer,
		Positions: a.ledger,
		Cycle:     machine,
		Store:     a.kv,
	}, scheduler.OptionsFromConfig(cfg), log)
	a.acquirer.SetBookkeeper(a.scheduler)

	a.jobs = scheduler.NewJobRunner(log)
	if err := a.jobs.AddJob(jobs.NewLedgerSyncJob(a.ledger, log)); err != nil {
		return err
	}
	if err := a.jobs.AddJob(jobs.NewCacheCleanupJob(a.prices, log)); err != nil {
		return err
	}

	return nil
}

// start brings the engine up: restore state, stream, monitor, jobs, optional autostart
func (a *app) start(ctx context.Context) error {
	if err := a.scheduler.Restore(ctx); err != nil {
		return fmt.Errorf("restore scheduler: %w", err)
	}

	if err := a.restorePaperHoldings(ctx); err != nil {
		return err
	}

	// 매도 완료 → 스케줄러 wake
	stopWake := a.bus.OnCycleComplete(a.scheduler.OnCycleComplete)
	a.closers = append(a.closers, stopWake)

	if err := a.prices.Start(ctx); err != nil {
		return err
	}
	if err := a.monitor.Start(ctx); err != nil {
		return err
	}
	a.jobs.Start()

	if a.cfg.Cycle.AutoStart {
		a.scheduler.Start(ctx)
	}

	a.log.WithFields(map[string]interface{}{
		"mode":       a.cfg.Trading.Mode,
		"target_pct": a.target.Current(),
		"policy":     string(a.gate.Policy()),
		"sources":    a.gate.Sources(),
		"autostart":  a.cfg.Cycle.AutoStart,
	}).Info("Engine started")
	return nil
}

// restorePaperHoldings reseeds paper balances, which live only in memory, from the ledger
func (a *app) restorePaperHoldings(ctx context.Context) error {
	if a.paper == nil {
		return nil
	}
	records, err := a.ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("list investments: %w", err)
	}
	if n := a.paper.Restore(records); n > 0 {
		a.log.WithField("positions", n).Info("Paper holdings restored from ledger")
	}
	return nil
}

// stop shuts every loop down in dependency order.
// The persisted schedule flag survives so the next run re-arms.
func (a *app) stop() {
	a.scheduler.Close()
	a.monitor.Stop()
	a.jobs.Stop()
	a.prices.Stop()
	a.bus.Close()
	a.Close()
}

// router builds the control-surface handler tree
func (a *app) router() *api.Server {
	schedHandler := handlers.NewSchedulerHandler(a.scheduler, a.log)
	ledgerHandler := handlers.NewLedgerHandler(a.ledger, a.acquirer, a.log)

	schedHandler.AddProbe("divergent", ledgerHandler.Divergence)
	schedHandler.AddProbe("price_feed", func(context.Context) interface{} { return a.prices.Stats() })
	schedHandler.AddProbe("jobs", func(context.Context) interface{} { return a.jobs.Stats() })
	schedHandler.AddProbe("monitor", func(context.Context) interface{} {
		return map[string]interface{}{
			"running":    a.monitor.IsRunning(),
			"interval":   a.monitor.Interval().String(),
			"last_check": a.monitor.LastCheck(),
			"in_flight":  a.inflight.Symbols(),
		}
	})
	schedHandler.AddProbe("advisory", func(context.Context) interface{} {
		return map[string]interface{}{
			"policy":  a.gate.Policy(),
			"sources": a.gate.Sources(),
		}
	})
	schedHandler.AddProbe("events", func(context.Context) interface{} {
		published, dropped := a.bus.Stats()
		return map[string]interface{}{
			"subscribers": a.bus.Subscribers(),
			"published":   published,
			"dropped":     dropped,
		}
	})
	schedHandler.AddProbe("mode", func(context.Context) interface{} { return a.cfg.Trading.Mode })
	schedHandler.AddProbe("notional_usd", func(context.Context) interface{} { return a.acquirer.Notional() })

	router := api.NewRouter(api.Handlers{
		Scheduler: schedHandler,
		Ledger:    ledgerHandler,
		Cycle:     handlers.NewCycleHandler(a.target, a.log),
		Events:    handlers.NewEventsHandler(a.bus, a.log),
	}, a.log)

	return api.New(a.cfg, a.log, router)
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
