package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/internal/realtime/feed"
	"github.com/wonny/cyclebot/pkg/httputil"
	"github.com/wonny/cyclebot/pkg/logger"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "실행 중인 엔진 상태 조회",
	Long: `실행 중인 엔진의 GET /api/status 를 조회해 요약합니다.

Example:
  go run ./cmd/cyclebot status
  go run ./cmd/cyclebot status --addr http://localhost:8089 --logs 20`,
	RunE: runStatus,
}

var (
	statusAddr string
	statusLogs int
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "API 주소 (기본: http://localhost:PORT)")
	statusCmd.Flags().IntVar(&statusLogs, "logs", 10, "출력할 최근 로그 수")
}

// statusResponse mirrors GET /api/status
type statusResponse struct {
	Scheduler contracts.SchedulerStatus `json:"scheduler"`
	Divergent []string                  `json:"divergent"`
	PriceFeed *feed.FeedStats           `json:"price_feed"`
	Mode      string                    `json:"mode"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	addr := statusAddr
	if addr == "" {
		addr = "http://localhost:" + cfg.Port
	}

	client := httputil.NewWithTimeout(cfg, logger.NewNop(), 10*time.Second).DisableRetry()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var resp statusResponse
	if err := client.GetJSON(ctx, strings.TrimRight(addr, "/")+"/api/status", &resp); err != nil {
		return fmt.Errorf("query %s: %w (is `cyclebot run` running?)", addr, err)
	}

	printStatus(resp, time.Now())
	return nil
}

func printStatus(resp statusResponse, now time.Time) {
	s := resp.Scheduler

	PrintSection(fmt.Sprintf("cyclebot (%s)", resp.Mode))
	PrintKeyValue("Scheduler", runningLabel(s.Running, s.Searching), 16)
	PrintKeyValue("Interval", fmt.Sprintf("%dm", s.IntervalMinutes), 16)
	if s.LastRun != nil {
		PrintKeyValue("Last run", FormatAge(*s.LastRun, now), 16)
	}
	if s.NextRun != nil {
		PrintKeyValue("Next run", s.NextRun.Format(time.RFC3339), 16)
	}
	PrintKeyValue("Runs", fmt.Sprintf("%d (added %d, skipped %d)", s.RunCount, s.AddedCount, s.SkippedCount), 16)
	PrintKeyValue("Open positions", fmt.Sprintf("%d", s.OpenPositions), 16)

	PrintSection("Profit target cycle")
	PrintKeyValue("Current target", fmt.Sprintf("%d%%", s.Cycle.CurrentTargetPct), 16)
	PrintKeyValue("In this cycle", fmt.Sprintf("%d disposals", s.Cycle.DispositionsInCurrentCycle), 16)
	PrintKeyValue("Cycles done", fmt.Sprintf("%d", s.Cycle.TotalCyclesCompleted), 16)
	PrintKeyValue("Realized PnL", FormatUSD(s.Cycle.TotalRealizedPnL), 16)

	if resp.PriceFeed != nil {
		pf := resp.PriceFeed
		PrintSection("Price feed")
		PrintKeyValue("Stream", fmt.Sprintf("enabled=%v connected=%v messages=%d", pf.StreamEnabled, pf.StreamConnected, pf.StreamMessages), 16)
		PrintKeyValue("Cache", fmt.Sprintf("%d fresh / %d total", pf.CacheFresh, pf.CacheTotal), 16)
		PrintKeyValue("REST fallbacks", fmt.Sprintf("%d (%d failed)", pf.RESTFallbacks, pf.RESTFailures), 16)
	}

	if len(resp.Divergent) > 0 {
		fmt.Printf("\n⚠️  Divergent symbols: %v\n", resp.Divergent)
	}

	if statusLogs > 0 && len(s.RecentLogs) > 0 {
		PrintSection("Recent logs")
		logs := s.RecentLogs
		if len(logs) > statusLogs {
			logs = logs[len(logs)-statusLogs:]
		}
		for _, l := range logs {
			fmt.Printf("  %s %-5s %-12s %s\n", l.At.Format("15:04:05"), l.Level, l.Symbol, l.Message)
		}
	}
}

func runningLabel(running, searching bool) string {
	switch {
	case searching:
		return "🔍 searching"
	case running:
		return "▶ running"
	default:
		return "⏸ stopped"
	}
}
