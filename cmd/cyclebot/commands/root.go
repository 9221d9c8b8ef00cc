package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cyclebot",
	Short: "cyclebot - Binance 스캔/매수/익절 사이클 엔진",
	Long: `cyclebot Unified CLI

24h 시세 스캔 → 어드바이저리 게이트 → 매수 → 목표 수익률 도달 시 매도.
매도할 때마다 목표 수익률이 한 단계씩 올라가고 상한을 넘으면 바닥으로 돌아갑니다.

Usage:
  go run ./cmd/cyclebot [command]

Examples:
  go run ./cmd/cyclebot run
  go run ./cmd/cyclebot scan --limit 20
  go run ./cmd/cyclebot ledger list
  go run ./cmd/cyclebot status`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug log level)")
}
