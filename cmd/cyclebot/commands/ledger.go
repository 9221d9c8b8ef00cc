package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// ledgerCmd represents the ledger command
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "투자 원장 관리",
	Long: `투자 원장(primary + backup 티어)을 조회하거나 동기화합니다.

Subcommands:
  list  - 보유 포지션 + tombstone 목록
  sync  - primary/backup 불일치 복구

엔진(run)이 badger 백업을 열고 있으면 이 명령은 잠금 때문에 실패합니다.
실행 중일 때는 POST /api/ledger/sync 를 사용하세요.

Example:
  go run ./cmd/cyclebot ledger list
  go run ./cmd/cyclebot ledger sync`,
}

var (
	ledgerListCmd = &cobra.Command{
		Use:   "list",
		Short: "보유 포지션 목록",
		RunE:  runLedgerList,
	}

	ledgerSyncCmd = &cobra.Command{
		Use:   "sync",
		Short: "원장 티어 동기화",
		RunE:  runLedgerSync,
	}
)

var ledgerShowTombstones bool

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerSyncCmd)

	ledgerListCmd.Flags().BoolVar(&ledgerShowTombstones, "tombstones", false, "매도 완료 tombstone 도 출력")
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	c, err := openCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	records, err := c.ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("list investments: %w", err)
	}

	now := time.Now()
	PrintSection(fmt.Sprintf("Open positions: %d", len(records)))
	widths := []int{14, 12, 16, 12, 7, 10}
	PrintTableHeader([]string{"SYMBOL", "BASIS", "QTY", "AVG", "TARGET", "ACQUIRED"}, widths)
	for _, rec := range records {
		PrintTableRow([]string{
			rec.Symbol,
			FormatUSD(rec.BasisUSD),
			rec.Quantity.String(),
			rec.AvgPrice.StringFixed(6),
			strconv.Itoa(rec.TargetProfitPct) + "%",
			FormatAge(rec.AcquiredAt, now),
		}, widths)
	}

	if ledgerShowTombstones {
		tombs, err := c.ledger.Tombstones(ctx)
		if err != nil {
			return fmt.Errorf("list tombstones: %w", err)
		}

		PrintSection(fmt.Sprintf("Tombstones: %d", len(tombs)))
		widths := []int{14, 12, 12, 10}
		PrintTableHeader([]string{"SYMBOL", "PROCEEDS", "PNL", "SOLD"}, widths)
		for _, t := range tombs {
			PrintTableRow([]string{
				t.Symbol,
				FormatUSD(t.ProceedsUSD),
				FormatUSD(t.RealizedPnLUSD),
				FormatAge(t.SoldAt, now),
			}, widths)
		}
	}

	if divergent := c.ledger.Divergent(); len(divergent) > 0 {
		fmt.Printf("\n⚠️  Divergent symbols: %v (run `cyclebot ledger sync`)\n", divergent)
	}
	return nil
}

func runLedgerSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := openCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	report, err := c.ledger.SyncAll(ctx)
	if err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}

	PrintSection("Ledger sync")
	PrintKeyValue("Restored", fmt.Sprintf("%d %v", len(report.Restored), report.Restored), 20)
	PrintKeyValue("Purged", fmt.Sprintf("%d %v", len(report.Purged), report.Purged), 20)
	PrintKeyValue("Re-mirrored", fmt.Sprintf("%d %v", len(report.Remirrored), report.Remirrored), 20)
	PrintKeyValue("Tombstones mirrored", fmt.Sprintf("%d", len(report.TombstonesMirrored)), 20)
	PrintKeyValue("Still divergent", fmt.Sprintf("%d %v", len(report.StillDivergent), report.StillDivergent), 20)

	fmt.Printf("\n✅ Sync completed in %s\n", report.Duration)
	return nil
}
