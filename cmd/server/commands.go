package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kjannette/p2p-ledger/internal/config"
	"github.com/kjannette/p2p-ledger/internal/db"
	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/stats"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres ledger schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(false)
			if err != nil {
				return err
			}
			if cfg.LedgerBackend != config.BackendPostgres {
				return fmt.Errorf("migrate needs LEDGER_BACKEND=postgres, have %q", cfg.LedgerBackend)
			}
			ctx := cmd.Context()
			pool, err := db.Connect(ctx, cfg.DSN())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			log.Info("schema applied")
			return nil
		},
	}
}

func summaryCmd() *cobra.Command {
	var (
		owner    int64
		period   string
		currency string
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print one user's profit summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if owner == 0 {
				return fmt.Errorf("--owner is required")
			}
			p, err := models.ParsePeriod(period)
			if err != nil {
				return err
			}
			cfg, log, err := setup(false)
			if err != nil {
				return err
			}
			target := cfg.ReportCurrency
			if currency != "" {
				if target, err = models.ParseCurrency(currency); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, closeLedger, err := openLedger(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeLedger()
			rateCache, closeCache := openCache(ctx, cfg, log)
			defer closeCache()

			engine := stats.NewEngine(store, newResolver(cfg, rateCache, log), cfg.Location, cfg.LedgerTimeout)
			rep, err := engine.Summarize(ctx, owner, p, target)
			if err != nil {
				return err
			}
			printReport(rep)
			return nil
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "chat user id")
	cmd.Flags().StringVar(&period, "period", string(models.PeriodAll), "all or today")
	cmd.Flags().StringVar(&currency, "currency", "", "restate the total in RUB or USD")
	return cmd
}

func printReport(rep stats.Report) {
	r := rep.Rounded()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Period:\t%s\n", rep.Period)
	fmt.Fprintf(w, "Trades:\t%d\n", rep.Count)
	fmt.Fprintf(w, "Losses:\t%d\n", rep.Losses)
	for _, c := range r.Currencies() {
		fmt.Fprintf(w, "Profit %s:\t%s\n", c, r.Profit[c].StringFixed(2))
	}
	fmt.Fprintf(w, "Avg spread:\t%s%%\n", r.AvgSpread.StringFixed(2))
	switch {
	case rep.Converted:
		fmt.Fprintf(w, "Total %s:\t%s\n", rep.Target, rep.Total.StringFixed(2))
	case rep.ConversionUnavailable:
		fmt.Fprintf(w, "Total %s:\tunavailable\n", rep.Target)
	}
	_ = w.Flush()
}
