package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/cyclebot/internal/advisory"
	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/internal/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "시장 스캔 (매수 없음)",
	Long: `24h 시세를 한 번 조회해 스캐너 결과를 출력합니다. 주문은 내지 않습니다.

--gate 를 주면 상위 후보마다 어드바이저리 게이트 판정도 함께 출력합니다.
--snapshot 을 주면 저장된 24h ticker JSON 배열을 대신 스캔합니다 (네트워크 없음).

Example:
  go run ./cmd/cyclebot scan
  go run ./cmd/cyclebot scan --limit 10 --gate
  go run ./cmd/cyclebot scan --snapshot ./ticker24h.json`,
	RunE: runScan,
}

var (
	scanLimit    int
	scanGate     bool
	scanSnapshot string
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().IntVar(&scanLimit, "limit", 20, "출력할 후보 수")
	scanCmd.Flags().BoolVar(&scanGate, "gate", false, "어드바이저리 게이트 판정 포함")
	scanCmd.Flags().StringVar(&scanSnapshot, "snapshot", "", "24h ticker JSON 파일 (기본: Binance 실시간 조회)")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	c := openBase(cfg)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sc, err := newScanner(c)
	if err != nil {
		return fmt.Errorf("scanner: %w", err)
	}

	start := time.Now()
	tickers, err := loadTickers(ctx, c)
	if err != nil {
		return err
	}

	candidates := sc.Scan(tickers)
	if scanLimit > 0 && len(candidates) > scanLimit {
		candidates = candidates[:scanLimit]
	}

	PrintSection(fmt.Sprintf("Scan: %d tickers → %d candidates", len(tickers), len(candidates)))
	fmt.Printf("  %-14s %10s %8s %8s %6s %-7s %-7s %s\n",
		"SYMBOL", "PRICE", "GROWTH", "VOL%", "SCORE", "RISK", "LIQ", "SECTOR")
	for _, cand := range candidates {
		fmt.Printf("  %-14s %10s %7.2f%% %7.2f%% %6.2f %-7s %-7s %s\n",
			cand.Symbol, FormatPrice(cand.LastPrice), cand.GrowthPct, cand.VolatilityPct,
			cand.CompositeScore, cand.RiskTier, cand.LiquidityTier, cand.Sector)
	}

	if scanGate && len(candidates) > 0 {
		sources, err := advisory.BuildSources(ctx, cfg, c.redis, c.log)
		if err != nil {
			return fmt.Errorf("advisory sources: %w", err)
		}
		gate := advisory.NewGate(sources, advisory.GateConfigFromConfig(cfg.Advisory), c.log)

		PrintSection(fmt.Sprintf("Advisory (%s, sources: %v)", gate.Policy(), gate.Sources()))
		for _, cand := range candidates {
			decision, err := gate.Evaluate(ctx, cand)
			if err != nil {
				fmt.Printf("  %-14s error: %v\n", cand.Symbol, err)
				continue
			}
			fmt.Printf("  %-14s %s\n", cand.Symbol, FormatVerdict(decision.Recommended))
			for _, v := range decision.Verdicts {
				reason := v.Rationale
				if v.Error != "" {
					reason = "error: " + v.Error
				}
				fmt.Printf("      %-10s %-5v %s\n", v.SourceID, v.Recommended, Truncate(reason, 80))
			}
		}
	}

	fmt.Printf("\n✅ Scan completed in %.2fs\n", time.Since(start).Seconds())
	return nil
}

// loadTickers reads the snapshot file when given, the live 24h feed otherwise
func loadTickers(ctx context.Context, c *core) ([]contracts.Ticker, error) {
	if scanSnapshot != "" {
		data, err := os.ReadFile(scanSnapshot)
		if err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
		return scanner.ParseSnapshot(data), nil
	}

	tickers, err := newMarket(c).Tickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}
	return tickers, nil
}
