package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/p2p-ledger/internal/api"
	"github.com/kjannette/p2p-ledger/internal/bot"
	"github.com/kjannette/p2p-ledger/internal/ledger"
	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/notifications"
	"github.com/kjannette/p2p-ledger/internal/scheduler"
	"github.com/kjannette/p2p-ledger/internal/session"
	"github.com/kjannette/p2p-ledger/internal/stats"
	"github.com/kjannette/p2p-ledger/internal/telegram"
)

func serveCmd() *cobra.Command {
	var noBot bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot, REST API and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), !noBot)
		},
	}
	cmd.Flags().BoolVar(&noBot, "no-bot", false, "serve only the REST API")
	return cmd
}

func serve(parent context.Context, withBot bool) error {
	fmt.Print(banner)

	cfg, log, err := setup(withBot)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	cfg.Print()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeLedger, err := openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLedger()

	rateCache, closeCache := openCache(ctx, cfg, log)
	defer closeCache()
	resolver := newResolver(cfg, rateCache, log)

	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName, log)

	flow, err := session.FlowByName(cfg.SessionFlow)
	if err != nil {
		return err
	}
	machine := session.NewMachine(session.Config{
		Flow:            flow,
		Formula:         cfg.ProfitFormula,
		DefaultCurrency: cfg.DefaultCurrency,
		Location:        cfg.Location,
		SaveTimeout:     cfg.LedgerTimeout,
	}, session.NewStore(cfg.SessionTTL), store, log)
	machine.OnSaveFailure(func(rec models.TradeRecord, err error) {
		// Off the worker: a slow webhook must not stall the owner's shard.
		go notify.TradeNotSaved(rec, err)
	})

	engine := stats.NewEngine(store, resolver, cfg.Location, cfg.LedgerTimeout)

	sched := scheduler.New(log)
	if err := sched.Add(scheduler.SessionSweep(cfg.SweepSchedule, machine)); err != nil {
		return err
	}
	if cfg.ReportCurrency != "" {
		if err := sched.Add(scheduler.RateWarmup(cfg.RateRefreshSchedule, resolver)); err != nil {
			return err
		}
	}

	srv := api.NewServer(store, engine, api.Options{
		Port:            cfg.APIPort,
		APIKey:          cfg.APIKey,
		CORSOrigin:      cfg.CORSAllowOrigin,
		Formula:         cfg.ProfitFormula,
		DefaultCurrency: cfg.DefaultCurrency,
		Location:        cfg.Location,
		LedgerTimeout:   cfg.LedgerTimeout,
	}, log.Named("api"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("api shutdown", zap.Error(err))
		}
		log.Info("api server closed")
		return nil
	})

	sched.Start(gctx)
	defer sched.Stop()

	if withBot {
		transport, err := telegram.New(cfg.TelegramToken, log.Named("telegram"))
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		users, _ := store.(ledger.UserRegistry)
		dispatcher := bot.NewDispatcher(bot.Options{
			BotName:        cfg.BotName,
			ReportCurrency: cfg.ReportCurrency,
			HistoryLimit:   cfg.HistoryLimit,
			UserTimeout:    cfg.LedgerTimeout,
		}, machine, engine, users, log.Named("bot"))

		service := bot.NewService(dispatcher, cfg.Workers, notify, log.Named("bot"))
		g.Go(func() error { return service.Run(gctx, transport) })
	} else {
		log.Info("bot disabled, serving API only")
	}

	log.Info("all services started")
	err = g.Wait()
	log.Info("shutdown complete")
	return err
}
