package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantfall/polyflow/venue"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "One-shot scan for arbitrage candidates",
	Long: `Fetch the active market universe and print every market whose combined
outcome prices sit below the 1.00 payout.

Example:
  polyflow scan --min-volume 25000`,
	RunE: runScan,
}

var scanMinVolume float64

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Float64Var(&scanMinVolume, "min-volume", 10000, "minimum 24h volume in USD")
}

func runScan(cmd *cobra.Command, args []string) error {
	log := newLogger("warn")
	client := venue.NewClient(venue.ClientConfig{}, log)

	markets, err := client.Markets(scanMinVolume)
	if err != nil {
		return fmt.Errorf("scan markets: %w", err)
	}

	fmt.Printf("%-12s %8s %8s %8s %10s  %s\n", "MARKET", "YES", "NO", "EDGE", "VOLUME", "QUESTION")
	var hits int
	for _, m := range markets {
		if !m.HasArb() {
			continue
		}
		hits++
		fmt.Printf("%-12s %8.3f %8.3f %7.2f%% %10.0f  %s\n",
			m.ID, m.YesPrice, m.NoPrice, 100*m.ArbSpread(), m.Volume24h, truncate(m.Question, 60))
	}
	fmt.Printf("\n%d candidates out of %d markets\n", hits, len(markets))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
