// Package bot answers chat commands for the configured Telegram chat.
package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
	"github.com/Rajchodisetti/stock-alerts/internal/alerts"
	"github.com/Rajchodisetti/stock-alerts/internal/dedup"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
	"github.com/Rajchodisetti/stock-alerts/internal/sentiment"
	"github.com/Rajchodisetti/stock-alerts/internal/watchlist"
)

const statusListLimit = 10

// bareSymbol matches a plain message that is just a ticker
var bareSymbol = regexp.MustCompile(`^[A-Za-z]{1,5}$`)

// Market is the resolver surface the commands use
type Market interface {
	GetQuote(ctx context.Context, symbol string) (*adapters.Quote, error)
	GetQuotesBatch(ctx context.Context, symbols []string) (map[string]*adapters.Quote, error)
	CompanyName(symbol string) string
	ForgetSymbol(symbol string)
	ProviderStatus() []adapters.ProviderSnapshot
	Providers() []string
}

var _ Market = (*adapters.Resolver)(nil)

// Commands dispatches chat commands. Each handler returns the reply text.
type Commands struct {
	market     Market
	watchlist  *watchlist.Manager
	researcher alerts.Researcher
	history    *alerts.History
	system     func() observ.SystemStatus
	now        func() time.Time
	log        zerolog.Logger
}

// CommandsOptions wires Commands. Researcher and History are optional.
type CommandsOptions struct {
	Market     Market
	Watchlist  watchlist.Store
	Dedup      dedup.Log
	Researcher alerts.Researcher
	History    *alerts.History
	System     func() observ.SystemStatus
}

func NewCommands(opts CommandsOptions) *Commands {
	c := &Commands{
		market:     opts.Market,
		watchlist:  watchlist.NewManager(opts.Watchlist, opts.Market, opts.Dedup),
		researcher: opts.Researcher,
		history:    opts.History,
		system:     opts.System,
		now:        time.Now,
		log:        observ.Component("bot"),
	}
	if c.system == nil {
		c.system = observ.System
	}
	return c
}

// ParseCommand splits "/cmd@botname arg1 arg2" into "cmd" and the arguments
func ParseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:]
}

// Route maps a message to a command. A bare ticker of one to five letters asks for
// its quote summary. Other plain text routes to "".
func Route(text string) (string, []string) {
	if cmd, args := ParseCommand(text); cmd != "" || strings.HasPrefix(strings.TrimSpace(text), "/") {
		return cmd, args
	}
	if t := strings.TrimSpace(text); bareSymbol.MatchString(t) {
		return "quote", []string{strings.ToUpper(t)}
	}
	return "", nil
}

// IsCommand reports whether text is a slash command or a bare ticker
func IsCommand(text string) bool {
	cmd, _ := Route(text)
	return cmd != "" || strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Handle runs one message and returns the reply. Unknown commands get the help
// text and other plain text gets a usage tip.
func (c *Commands) Handle(ctx context.Context, text string) (string, error) {
	if !IsCommand(text) {
		return tipText, nil
	}
	cmd, args := Route(text)
	observ.IncCounter("bot_commands_total", map[string]string{"command": cmd})
	switch cmd {
	case "start", "help":
		return helpText, nil
	case "stocks", "list":
		return c.stocks()
	case "add":
		return c.add(ctx, args)
	case "remove":
		return c.remove(args)
	case "quote":
		return c.quote(ctx, args)
	case "status":
		return c.status()
	case "research":
		return c.research(ctx, args)
	case "market":
		return c.marketSentiment(ctx)
	default:
		return "🤔 Unknown command.\n\n" + helpText, nil
	}
}

const helpText = "🤖 *Stock Alerts Bot*\n\n" +
	"/stocks - list monitored stocks\n" +
	"/add SYMBOL - start monitoring a stock\n" +
	"/remove SYMBOL - stop monitoring a stock\n" +
	"/quote SYMBOL - current price\n" +
	"/status - bot and provider status\n" +
	"/research SYMBOL - company research summary\n" +
	"/market - market sentiment (fear & greed) index\n" +
	"/help - this message\n\n" +
	"Send a bare ticker such as AAPL for a quick summary."

const tipText = "💡 Tip: send a stock symbol (e.g. AAPL) for a quick summary, or use /help for commands."

func (c *Commands) stocks() (string, error) {
	list, err := c.watchlist.List()
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "📋 No stocks are being monitored. Use /add SYMBOL.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *Monitored stocks (%d):*\n", len(list))
	for i, sym := range list {
		fmt.Fprintf(&b, "%d. %s\n", i+1, alerts.DisplayName(sym, c.market.CompanyName(sym)))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func symbolArg(args []string, usage string) (string, string) {
	if len(args) == 0 {
		return "", "❌ Usage: " + usage
	}
	sym := adapters.NormalizeSymbol(args[0])
	if err := adapters.ValidateSymbol(sym); err != nil {
		return "", fmt.Sprintf("❌ Invalid symbol %q", args[0])
	}
	return sym, ""
}

func (c *Commands) add(ctx context.Context, args []string) (string, error) {
	sym, usage := symbolArg(args, "/add SYMBOL")
	if usage != "" {
		return usage, nil
	}
	q, err := c.watchlist.Add(ctx, sym)
	switch {
	case errors.Is(err, watchlist.ErrNoMarketData):
		return fmt.Sprintf("❌ Could not find market data for %s. Check the symbol and try again.", sym), nil
	case errors.Is(err, watchlist.ErrExists):
		return fmt.Sprintf("ℹ️ %s is already being monitored.", sym), nil
	case err != nil:
		return "", err
	}
	c.log.Info().Str("symbol", sym).Msg("symbol added")
	return fmt.Sprintf("✅ Added %s at $%s", alerts.DisplayName(sym, c.market.CompanyName(sym)), alerts.Fixed2(q.Price)), nil
}

func (c *Commands) remove(args []string) (string, error) {
	sym, usage := symbolArg(args, "/remove SYMBOL")
	if usage != "" {
		return usage, nil
	}
	name := c.market.CompanyName(sym)
	purged, err := c.watchlist.Remove(sym)
	switch {
	case errors.Is(err, watchlist.ErrNotFound):
		return fmt.Sprintf("ℹ️ %s is not in the watchlist.", sym), nil
	case err != nil:
		return "", err
	}
	c.log.Info().Str("symbol", sym).Int("purged_keys", purged).Msg("symbol removed")
	return fmt.Sprintf("🗑️ Removed %s", alerts.DisplayName(sym, name)), nil
}

func (c *Commands) quote(ctx context.Context, args []string) (string, error) {
	sym, usage := symbolArg(args, "/quote SYMBOL")
	if usage != "" {
		return usage, nil
	}
	q, err := c.market.GetQuote(ctx, sym)
	if err != nil {
		return "", err
	}
	return alerts.FormatQuote(q, c.market.CompanyName(sym)), nil
}

func (c *Commands) status() (string, error) {
	list, err := c.watchlist.List()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("📊 *Bot Status*\n\n")
	fmt.Fprintf(&b, "📋 Monitoring %d stocks", len(list))
	if len(list) > 0 {
		shown := list
		if len(shown) > statusListLimit {
			shown = shown[:statusListLimit]
		}
		fmt.Fprintf(&b, ": %s", strings.Join(shown, ", "))
		if extra := len(list) - len(shown); extra > 0 {
			fmt.Fprintf(&b, " +%d more", extra)
		}
	}
	b.WriteString("\n\n🔌 *Providers:* " + strings.Join(c.market.Providers(), " → ") + "\n")

	snaps := c.market.ProviderStatus()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	for _, p := range snaps {
		fmt.Fprintf(&b, "• %s: %s", p.Name, p.Status)
		if p.ForbiddenCount > 0 {
			fmt.Fprintf(&b, " (403s: %d)", p.ForbiddenCount)
		}
		b.WriteString("\n")
	}

	if c.history != nil {
		fmt.Fprintf(&b, "\n🔔 Alerts sent this session: %d\n", c.history.Len())
	}
	sys := c.system()
	fmt.Fprintf(&b, "\n🖥️ CPU %.1f%% | RAM %.1f%% | load %.2f\n", sys.CPUPercent, sys.MemoryPercent, sys.Load1)
	fmt.Fprintf(&b, "⏱️ Uptime: %s", (time.Duration(sys.UptimeSeconds) * time.Second).String())
	return b.String(), nil
}

func (c *Commands) research(ctx context.Context, args []string) (string, error) {
	sym, usage := symbolArg(args, "/research SYMBOL")
	if usage != "" {
		return usage, nil
	}
	if c.researcher == nil {
		return "ℹ️ Research is not configured.", nil
	}
	summary, err := c.researcher.Research(ctx, sym)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", sym).Msg("research failed")
		return fmt.Sprintf("❌ Research for %s failed. Try again later.", sym), nil
	}
	return fmt.Sprintf("🔬 *Research: %s*\n\n%s", alerts.DisplayName(sym, c.market.CompanyName(sym)), summary), nil
}

func (c *Commands) marketSentiment(ctx context.Context) (string, error) {
	idx, err := sentiment.Compute(ctx, c.market, c.now())
	if errors.Is(err, sentiment.ErrNoData) {
		return "❌ Market sentiment is unavailable right now: no index data.", nil
	}
	if err != nil {
		return "", err
	}
	c.log.Info().Float64("score", idx.Score).Int("components", len(idx.Components)).Msg("market sentiment computed")
	return sentiment.Format(idx), nil
}
