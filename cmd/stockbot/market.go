package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
	"github.com/Rajchodisetti/stock-alerts/internal/alerts"
	"github.com/Rajchodisetti/stock-alerts/internal/sentiment"
	"github.com/Rajchodisetti/stock-alerts/internal/watchlist"
)

func newTableWriter() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleColoredDark)
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.SeparateColumns = false
	return tw
}

func colorChange(pct float64) string {
	s := fmt.Sprintf("%+.2f%%", pct)
	switch {
	case pct > 0:
		return text.FgGreen.Sprint(s)
	case pct < 0:
		return text.FgRed.Sprint(s)
	default:
		return s
	}
}

func newQuoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote [SYMBOL...]",
		Short: "Print quotes for symbols, or for the whole watchlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			symbols := make([]string, 0, len(args))
			for _, arg := range args {
				sym := adapters.NormalizeSymbol(arg)
				if err := adapters.ValidateSymbol(sym); err != nil {
					return err
				}
				symbols = append(symbols, sym)
			}
			if len(symbols) == 0 {
				if symbols, err = a.store.List(); err != nil {
					return err
				}
			}

			quotes, err := a.stack.Resolver.GetQuotesBatch(cmd.Context(), symbols)
			if err != nil {
				return err
			}

			tw := newTableWriter()
			tw.AppendHeader(table.Row{"SYMBOL", "NAME", "PRICE", "CHG%", "VOLUME", "52W LOW", "52W HIGH", "MKT CAP", "SOURCE"})
			tw.SetColumnConfigs([]table.ColumnConfig{
				{Number: 2, WidthMax: 30},
				{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignRight},
				{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignRight},
				{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignRight},
			})
			for _, sym := range symbols {
				q, ok := quotes[sym]
				if !ok {
					tw.AppendRow(table.Row{sym, "", "-", "-", "-", "-", "-", "-", "-"})
					continue
				}
				tw.AppendRow(table.Row{
					sym,
					a.stack.Resolver.CompanyName(sym),
					alerts.Fixed2(q.Price),
					colorChange(q.ChangePercent),
					alerts.FormatVolume(q.Volume),
					alerts.Fixed2(q.YearLow),
					alerts.Fixed2(q.YearHigh),
					alerts.FormatMarketCap(q.MarketCap),
					q.Provider,
				})
			}
			tw.Render()
			return nil
		},
	}
}

func newWatchlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchlist",
		Short: "List or edit the monitored symbols",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List monitored symbols",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.List()
			if err != nil {
				return err
			}
			tw := newTableWriter()
			tw.AppendHeader(table.Row{"#", "SYMBOL", "NAME"})
			for i, sym := range list {
				tw.AppendRow(table.Row{i + 1, sym, a.stack.Resolver.CompanyName(sym)})
			}
			tw.Render()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add SYMBOL...",
		Short: "Add symbols after confirming they have market data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var failed int
			for _, arg := range args {
				q, err := a.watchlist.Add(cmd.Context(), arg)
				switch {
				case errors.Is(err, watchlist.ErrExists):
					fmt.Printf("%s is already monitored\n", adapters.NormalizeSymbol(arg))
				case err != nil:
					failed++
					fmt.Printf("%s: %v\n", arg, err)
				default:
					fmt.Printf("added %s at $%s\n", alerts.DisplayName(q.Symbol, a.stack.Resolver.CompanyName(q.Symbol)), alerts.Fixed2(q.Price))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d symbols not added", failed, len(args))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove SYMBOL...",
		Short: "Remove symbols and forget their alert history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, arg := range args {
				purged, err := a.watchlist.Remove(arg)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}
				fmt.Printf("removed %s (%d alert keys purged)\n", adapters.NormalizeSymbol(arg), purged)
			}
			return nil
		},
	})
	return cmd
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show provider health and daily request budgets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			budgets := map[string]adapters.ProviderBudget{}
			for _, b := range a.stack.Transport.Budget().Snapshot() {
				budgets[b.Provider] = b
			}
			snaps := a.stack.Resolver.ProviderStatus()
			sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })

			fmt.Printf("Resolution order: %v\n\n", a.stack.Resolver.Providers())
			tw := newTableWriter()
			tw.AppendHeader(table.Row{"PROVIDER", "STATUS", "ENABLED", "403s", "ERRORS", "REQUESTS TODAY", "DAILY CAP", "LAST ERROR"})
			for _, p := range snaps {
				b := budgets[p.Name]
				daily := "unlimited"
				if b.DailyCap > 0 {
					daily = fmt.Sprintf("%d", b.DailyCap)
				}
				tw.AppendRow(table.Row{p.Name, p.Status, p.Enabled, p.ForbiddenCount, p.ConsecutiveErrors, b.RequestsToday, daily, p.LastError})
			}
			tw.Render()
			return nil
		},
	}
}

func newMarketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "Show the market sentiment (fear & greed) index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			idx, err := sentiment.Compute(cmd.Context(), a.stack.Resolver, time.Now())
			if err != nil {
				return err
			}
			tw := newTableWriter()
			tw.AppendHeader(table.Row{"COMPONENT", "VALUE", "CHG%", "SCORE", "READING"})
			tw.SetColumnConfigs([]table.ColumnConfig{
				{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignRight},
				{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignRight},
				{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignRight},
			})
			for _, c := range idx.Components {
				value := alerts.Fixed2(c.Value)
				if c.Key == "market_breadth" {
					value = fmt.Sprintf("%d/3 up", c.Positive)
				}
				tw.AppendRow(table.Row{c.Name, value, colorChange(c.ChangePct), fmt.Sprintf("%.1f", c.Score), c.Interpretation})
			}
			tw.AppendFooter(table.Row{"INDEX", "", "", fmt.Sprintf("%.1f", idx.Score), idx.Emoji + " " + idx.Interpretation})
			tw.Render()
			return nil
		},
	}
}
