package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quantfall/polyflow/aggregate"
	"github.com/quantfall/polyflow/config"
	"github.com/quantfall/polyflow/engine"
	"github.com/quantfall/polyflow/execution"
	"github.com/quantfall/polyflow/journal"
	"github.com/quantfall/polyflow/market"
	"github.com/quantfall/polyflow/metrics"
	"github.com/quantfall/polyflow/risk"
	"github.com/quantfall/polyflow/strategies"
	"github.com/quantfall/polyflow/venue"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading engine from a config file",
	Long: `Run the decision engine using settings from a configuration file.

Paper mode fills orders against live orderbook data without touching the
exchange; live mode submits real orders and requires credentials in the
environment (POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE).

Example:
  polyflow run -f examples/configs/paper.yaml`,
	RunE: runRun,
}

var runConfigPath string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		defer srv.Close()
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics listening")
	}

	j, err := openJournal(cfg)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer j.Close()

	key, secret, pass := config.Credentials()
	client := venue.NewClient(venue.ClientConfig{
		GammaURL:          cfg.Venue.GammaURL,
		ClobURL:           cfg.Venue.ClobURL,
		APIKey:            key,
		APISecret:         secret,
		Passphrase:        pass,
		RequestsPerSecond: cfg.Venue.RequestsPerSecond,
	}, log)

	books := market.NewBookStore()

	var v venue.Venue
	switch cfg.Venue.Mode {
	case "paper":
		v = venue.NewPaper(cfg.Venue.PaperBalance, books)
		log.Info().Float64("balance", cfg.Venue.PaperBalance).Msg("paper venue")
	case "live":
		if key == "" {
			return fmt.Errorf("live mode requires POLY_API_KEY in the environment")
		}
		v = client
		log.Info().Msg("live venue")
	}

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	riskMgr := risk.NewManager(policy, risk.VolumeScorer{FloorVolume: cfg.Risk.ScoreFloorVolume}, log)

	producers := make([]strategies.Producer, 0, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		p, err := strategies.ByName(sc.Name, strategies.Params{
			MinSpread:   sc.MinSpread,
			MinVolume:   sc.MinVolume,
			MaxPosition: sc.MaxPosition,
		})
		if err != nil {
			return err
		}
		producers = append(producers, p)
		log.Info().Str("module", p.Name()).Msg("strategy enabled")
	}

	alerts := make(chan execution.Alert, 16)
	exec := execution.NewEngine(execution.Config{
		ImpactTolerance:      cfg.Execution.ImpactTolerance,
		MinDepth:             cfg.Execution.MinDepth,
		LegTimeout:           config.Duration(cfg.Execution.LegTimeout, 0),
		UnwindMaxAttempts:    cfg.Execution.UnwindMaxAttempts,
		UnwindInitialBackoff: config.Duration(cfg.Execution.UnwindInitialBackoff, 0),
		UnwindMaxBackoff:     config.Duration(cfg.Execution.UnwindMaxBackoff, 0),
	}, v, riskMgr, alerts, log)

	agg := aggregate.New(aggregate.Config{
		Window:          config.Duration(cfg.Aggregator.Window, 0),
		ImmediateBudget: config.Duration(cfg.Aggregator.ImmediateBudget, 0),
	}, log)

	// The websocket feed needs the token universe up front.
	markets, err := client.Markets(cfg.Scan.MinVolume)
	if err != nil {
		return fmt.Errorf("initial market scan: %w", err)
	}
	tokens := make([]string, 0, 2*len(markets))
	for _, m := range markets {
		tokens = append(tokens, m.YesTokenID, m.NoTokenID)
	}
	log.Info().Int("markets", len(markets)).Msg("universe loaded")

	feed := venue.NewFeed(cfg.Venue.FeedURL, tokens, books, log)
	go func() { _ = feed.Run(ctx) }()

	eng := engine.New(
		engine.Options{
			ScanInterval: config.Duration(cfg.Scan.Interval, 0),
			MinVolume:    cfg.Scan.MinVolume,
			Parallelism:  cfg.Aggregator.Parallelism,
		},
		client, producers, agg, riskMgr, exec, alerts, j, log,
	)

	go func() {
		for a := range eng.Alerts() {
			log.Error().
				Str("market", a.MarketID).
				Str("status", string(a.Result.Status)).
				Msg("OPERATOR ALERT: " + a.Msg)
		}
	}()

	log.Info().Msg("engine starting")
	return ignoreCancel(eng.Run(ctx))
}

func openJournal(cfg *config.Config) (journal.Journal, error) {
	var (
		inner journal.Journal
		err   error
	)
	switch cfg.Journal.Type {
	case "csv":
		inner, err = journal.NewCSV(cfg.Journal.ResultsFile, cfg.Journal.ExposureFile)
	case "sqlite":
		inner, err = journal.NewSQLite(cfg.Journal.DBPath)
	default:
		return journal.Nop{}, nil
	}
	if err != nil {
		return nil, err
	}
	return journal.NewAsync(inner, cfg.Journal.Buffer, newLogger(cfg.App.LogLevel)), nil
}

func ignoreCancel(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}
