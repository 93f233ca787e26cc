package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantfall/polyflow/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query execution journal data",
	Long: `Query and display execution results from the SQLite journal.

Subcommands:
  result - Get details of a specific decision by ID
  today  - Summarize today's results
  day    - Summarize results for a specific day

Examples:
  polyflow journal result <decision-id>
  polyflow journal today
  polyflow journal day 2026-08-15`,
}

var journalResultCmd = &cobra.Command{
	Use:   "result <decision-id>",
	Short: "Get details of a specific decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalResult,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Summarize results settled today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "Summarize results settled on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalResultCmd, journalTodayCmd, journalDayCmd)

	journalCmd.PersistentFlags().StringVar(&journalDBPath, "db", "./polyflow.db", "path to journal database")
}

func runJournalResult(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetResult(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Decision:      %s\n", rec.DecisionID)
	fmt.Printf("Market:        %s\n", rec.MarketID)
	fmt.Printf("Kind:          %s\n", rec.Kind)
	fmt.Printf("Status:        %s\n", rec.Status)
	fmt.Printf("Shares:        %.2f\n", rec.Shares)
	fmt.Printf("Net cost:      %.4f\n", rec.NetCost)
	fmt.Printf("Realized cost: %.4f\n", rec.RealizedCost)
	fmt.Printf("Expected EV:   %.2f\n", rec.NetEV)
	fmt.Printf("Retained:      %.2f\n", rec.Retained)
	fmt.Printf("Realized P&L:  %.2f\n", rec.Realized)
	if rec.Reason != "" {
		fmt.Printf("Reason:        %s\n", rec.Reason)
	}
	fmt.Printf("Signal time:   %s\n", rec.SignalTime.Format(time.RFC3339))
	fmt.Printf("Settled time:  %s\n", rec.SettledTime.Format(time.RFC3339))
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	return summarizeDay(day)
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	day, err := time.Parse("2006-01-02", args[0])
	if err != nil {
		return fmt.Errorf("parse day %q: %w", args[0], err)
	}
	return summarizeDay(day)
}

func summarizeDay(day time.Time) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return err
	}
	defer j.Close()

	start := day
	end := day.Add(24 * time.Hour)

	recs, err := j.ListResultsBetween(start, end)
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Printf("%s  %-28s %-8s %-14s %8.2f sh  ev=%6.2f  pnl=%7.2f\n",
			r.SettledTime.Format("15:04:05"), r.DecisionID, r.Kind, r.Status, r.Shares, r.NetEV, r.Realized)
	}

	sum, err := j.Summarize(start, end)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s: %d results (%d complete, %d abandoned, %d unwound, %d failed)\n",
		day.Format("2006-01-02"), sum.Results, sum.Complete, sum.Abandoned, sum.Unwound, sum.Failed)
	fmt.Printf("Realized P&L: %.2f   Gross expected value: %.2f\n", sum.Realized, sum.GrossEV)
	return nil
}
