package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
	"github.com/Rajchodisetti/stock-alerts/internal/alerts"
	"github.com/Rajchodisetti/stock-alerts/internal/config"
	"github.com/Rajchodisetti/stock-alerts/internal/dedup"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
	"github.com/Rajchodisetti/stock-alerts/internal/watchlist"
)

var version = "dev" // set with -ldflags "-X main.version=..."

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stockbot",
		Short:         "Stock price, earnings and dividend alerts over Telegram",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "config/config.yaml", "path to the YAML config file")
	flags.String("log-level", "", "override log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human-readable console logs")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("log-level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log-pretty", flags.Lookup("log-pretty"))
	viper.SetEnvPrefix("STOCKBOT")
	viper.AutomaticEnv()

	root.AddCommand(
		newRunCmd(),
		newOnceCmd(),
		newTestCmd(),
		newQuoteCmd(),
		newWatchlistCmd(),
		newProvidersCmd(),
		newMarketCmd(),
	)
	return root
}

// app holds the collaborators every subcommand shares
type app struct {
	cfg       config.Root
	stack     *adapters.Stack
	dedup     dedup.Log
	store     *watchlist.FileStore
	watchlist *watchlist.Manager
	telegram  *alerts.TelegramClient
	history   *alerts.History
	engine    *alerts.Engine
}

func loadConfig() (config.Root, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if viper.GetBool("log-pretty") {
		cfg.Log.Pretty = true
	}
	observ.Configure(observ.LogConfig{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	observ.SetVersion(version)
	return cfg, nil
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	stack, err := adapters.NewStackFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("market data: %w", err)
	}
	log, err := dedup.Open(cfg.Dedup)
	if err != nil {
		_ = stack.Close()
		return nil, fmt.Errorf("dedup log: %w", err)
	}

	a := &app{
		cfg:      cfg,
		stack:    stack,
		dedup:    log,
		store:    watchlist.NewFileStore(cfg.WatchlistPath, cfg.DefaultStocks),
		telegram: alerts.NewTelegramClient(cfg.Telegram),
		history:  alerts.NewHistory(200),
	}
	a.watchlist = watchlist.NewManager(a.store, stack.Resolver, log)
	a.engine = alerts.NewEngine(alerts.Options{
		Data:      stack.Resolver,
		Watchlist: a.store,
		Dedup:     log,
		Notifier:  a.telegram,
		History:   a.history,
		Config:    cfg.Alerts,
	})
	return a, nil
}

func (a *app) Close() {
	log := observ.Component("main")
	if err := a.dedup.Close(); err != nil {
		log.Warn().Err(err).Msg("closing dedup log")
	}
	if err := a.stack.Close(); err != nil {
		log.Warn().Err(err).Msg("closing market data")
	}
}

func (a *app) telegramConfigured() bool {
	return a.cfg.Telegram.BotToken != "" && a.cfg.Telegram.ChatID != ""
}
