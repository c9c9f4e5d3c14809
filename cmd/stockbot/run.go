package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/stock-alerts/internal/alerts"
	"github.com/Rajchodisetti/stock-alerts/internal/bot"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
	"github.com/Rajchodisetti/stock-alerts/internal/scheduler"
	"github.com/Rajchodisetti/stock-alerts/internal/server"
)

func newRunCmd() *cobra.Command {
	var dashboard bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the alert workers and the chat bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.run(cmd.Context(), dashboard)
		},
	}
	cmd.Flags().BoolVar(&dashboard, "dashboard", false, "also serve the dashboard API")
	return cmd
}

func (a *app) run(parent context.Context, dashboard bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := observ.Component("main")

	if !a.telegramConfigured() {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID not set; alerts will fail to send")
	}

	sched := scheduler.New(time.Duration(a.cfg.Alerts.GlobalCooldownSeconds) * time.Second)
	sched.Register(a.engine.Checks()...)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	if a.telegramConfigured() {
		audit := bot.NewAuditLogger(a.cfg.Telegram.AuditPath)
		commands := bot.NewCommands(bot.CommandsOptions{
			Market:    a.stack.Resolver,
			Watchlist: a.store,
			Dedup:     a.dedup,
			History:   a.history,
		})
		b := bot.New(a.telegram, commands, bot.NewAuthorizer(a.cfg.Telegram.ChatID, audit), audit)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Run(ctx)
		}()
	}

	var srv *server.Server
	errCh := make(chan error, 1)
	if dashboard {
		srv = server.New(server.Config{
			Port:      a.cfg.Dashboard.Port,
			Market:    a.stack.Resolver,
			Watchlist: a.store,
			Dedup:     a.dedup,
			History:   a.history,
			Budget:    a.stack.Transport.Budget().Snapshot,
		})
		go func() {
			if err := srv.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	log.Info().
		Str("version", version).
		Str("data_provider", a.cfg.DataProvider).
		Strs("providers", a.stack.Resolver.Providers()).
		Bool("dashboard", dashboard).
		Msg("stock alerts bot started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("dashboard server failed")
		stop()
	}

	log.Info().Msg("shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("dashboard shutdown")
		}
		cancel()
	}
	sched.Stop()
	wg.Wait()
	return runErr
}

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run every alert check once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			results, runErr := a.engine.RunAll(cmd.Context())
			printResults(results)
			return runErr
		},
	}
}

func printResults(results []alerts.Result) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"CHECK", "CHECKED", "SENT", "SKIPPED", "FAILED"})
	var sent, failed int
	for _, r := range results {
		tw.AppendRow(table.Row{r.Kind, r.Checked, r.Sent, r.Skipped, r.Failed})
		sent += r.Sent
		failed += r.Failed
	}
	tw.AppendFooter(table.Row{"TOTAL", "", sent, "", failed})
	tw.Render()
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Send a test message to the configured chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			msg := fmt.Sprintf("✅ *Stock alerts bot test*\n\nVersion %s, %d providers configured: %v",
				version, len(a.stack.Resolver.Providers()), a.stack.Resolver.Providers())
			if err := a.telegram.SendMessage(cmd.Context(), msg); err != nil {
				return fmt.Errorf("send test message: %w", err)
			}
			fmt.Println("Test message sent.")
			return nil
		},
	}
}
