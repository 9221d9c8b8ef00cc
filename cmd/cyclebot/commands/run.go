package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "엔진 + 제어 API 시작",
	Long: `트레이딩 엔진과 HTTP 제어 API를 시작합니다.

이 명령어는:
- 저장된 스케줄/목표 상태 복원
- 실시간 가격 스트림 + 익절 모니터 시작
- 원장 동기화/캐시 정리 작업 등록
- CYCLE_AUTOSTART=true 이면 스캔 사이클 즉시 시작

Endpoints:
  GET  /health
  GET  /api/status
  POST /api/scheduler/start | stop | run
  PUT  /api/scheduler/interval            {"minutes": 30}
  GET  /api/investments[/{symbol}]
  POST /api/investments/{symbol}/boost    {"usd": "10"}
  PUT  /api/investments/{symbol}/target   {"pct": 7}
  GET  /api/tombstones
  POST /api/ledger/sync
  GET  /api/cycle
  POST /api/cycle/reset
  GET  /api/events                        (websocket)

Example:
  go run ./cmd/cyclebot run
  go run ./cmd/cyclebot run --port 9000 --autostart`,
	RunE: runEngine,
}

var (
	runPort      string
	runAutoStart bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runPort, "port", "", "API 서버 포트 (기본: PORT)")
	runCmd.Flags().BoolVar(&runAutoStart, "autostart", false, "시작 즉시 스캔 사이클 시작")
}

func runEngine(cmd *cobra.Command, args []string) error {
	fmt.Println("=== cyclebot ===")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runPort != "" {
		cfg.Port = runPort
	}
	if runAutoStart {
		cfg.Cycle.AutoStart = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if err := a.start(ctx); err != nil {
		a.stop()
		return fmt.Errorf("start engine: %w", err)
	}

	server := a.router()
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	fmt.Printf("\n✅ Engine running (%s mode), control API on http://localhost:%s\n", cfg.Trading.Mode, cfg.Port)
	fmt.Printf("   Target: %d%%  Interval: %dm  Autostart: %v\n", a.target.Current(), cfg.Cycle.IntervalMinutes, cfg.Cycle.AutoStart)
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		a.log.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			a.log.WithError(err).Error("API server failed")
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := shutdownContext()
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("API shutdown incomplete")
	}

	cancel()
	a.stop()

	a.log.Info("Engine stopped")
	return runErr
}
