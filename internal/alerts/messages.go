package alerts

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
)

// SyntheticNote is appended to any text built from synthetic data
const SyntheticNote = "⚠️ _Synthetic data, not real market prices_"

// Fixed2 renders v with exactly two decimals. Dedup keys and prices in messages use
// it so float noise never produces a new key.
func Fixed2(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// DisplayName renders "SYM (Company)" when a distinct company name is known
func DisplayName(symbol, name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, symbol) {
		return symbol
	}
	return fmt.Sprintf("%s (%s)", symbol, name)
}

// FormatVolume abbreviates share volume with K/M/B suffixes
func FormatVolume(v int64) string {
	f := float64(v)
	switch {
	case f >= 1e9:
		return fmt.Sprintf("%.1fB", f/1e9)
	case f >= 1e6:
		return fmt.Sprintf("%.1fM", f/1e6)
	case f >= 1e3:
		return fmt.Sprintf("%.1fK", f/1e3)
	default:
		return fmt.Sprintf("%d", v)
	}
}

// FormatMarketCap abbreviates a dollar amount with T/B/M suffixes
func FormatMarketCap(v *float64) string {
	if v == nil || *v <= 0 {
		return "N/A"
	}
	f := *v
	switch {
	case f >= 1e12:
		return fmt.Sprintf("$%.2fT", f/1e12)
	case f >= 1e9:
		return fmt.Sprintf("$%.2fB", f/1e9)
	case f >= 1e6:
		return fmt.Sprintf("$%.2fM", f/1e6)
	default:
		return "$" + decimal.NewFromFloat(f).StringFixed(0)
	}
}

func longDate(t time.Time) string {
	return t.Format("January 02, 2006")
}

func buyDipMessage(q *adapters.Quote, name string, drop float64) string {
	upside := (q.YearHigh - q.Price) / q.Price * 100
	aboveLow := 0.0
	if q.YearLow > 0 {
		aboveLow = (q.Price - q.YearLow) / q.YearLow * 100
	}
	return fmt.Sprintf("💎 *BUY THE DIP OPPORTUNITY!* 💎\n"+
		"📊 *%s* (%s)\n"+
		"💰 Current Price: $%s\n"+
		"📊 52-Week High: $%s\n"+
		"📉 Drop from High: %.1f%%\n"+
		"🚀 Potential Upside: %.1f%%\n"+
		"📈 Above 52W Low: %.1f%%\n"+
		"🛒 Consider dollar-cost averaging!",
		q.Symbol, name, Fixed2(q.Price), Fixed2(q.YearHigh), drop, upside, aboveLow)
}

func newHighMessage(q *adapters.Quote, name string, pct float64) string {
	if pct >= 0 {
		return fmt.Sprintf("🔥 *NEW 52-WEEK HIGH!* 🔥\n"+
			"📈 *%s* (%s)\n"+
			"💰 Current Price: $%s\n"+
			"📊 Previous High: $%s\n"+
			"🚀 New High by: %.2f%%\n"+
			"📅 Time to consider taking profits!",
			q.Symbol, name, Fixed2(q.Price), Fixed2(q.YearHigh), pct)
	}
	return fmt.Sprintf("🎯 *APPROACHING 52-WEEK HIGH!* 🎯\n"+
		"📊 *%s* (%s)\n"+
		"💰 Current Price: $%s\n"+
		"📊 52-Week High: $%s\n"+
		"📏 Distance: %.2f%% below high\n"+
		"⚡ Potential breakout opportunity!",
		q.Symbol, name, Fixed2(q.Price), Fixed2(q.YearHigh), math.Abs(pct))
}

func watchZoneMessage(q *adapters.Quote, name string, pct float64) string {
	return fmt.Sprintf("👀 *WATCH ZONE ALERT!* 👀\n"+
		"📊 *%s* (%s)\n"+
		"💰 Current Price: $%s\n"+
		"📈 52-Week High: $%s\n"+
		"📏 Distance: %.1f%% below high\n"+
		"🎯 Monitor for potential breakout!",
		q.Symbol, name, Fixed2(q.Price), Fixed2(q.YearHigh), math.Abs(pct))
}

func crossoverMessage(display string, c Crossover) string {
	ago := ""
	if c.DaysAgo > 0 {
		ago = fmt.Sprintf(" (%d days ago)", c.DaysAgo)
	}
	if c.Type == GoldenCross {
		return fmt.Sprintf("🌟 *GOLDEN CROSS!* 🌟\n"+
			"📈 *%s* - Bullish Signal!\n"+
			"💰 Current Price: $%s\n"+
			"📊 %d-day MA: $%s\n"+
			"📈 %d-day MA: $%s\n"+
			"🚀 The %d-day MA crossed ABOVE the %d-day MA!\n"+
			"📅 Crossover Date: %s%s",
			display, Fixed2(c.Price), c.ShortPeriod, Fixed2(c.ShortMA), c.LongPeriod, Fixed2(c.LongMA),
			c.ShortPeriod, c.LongPeriod, c.Date.Format("2006-01-02"), ago)
	}
	return fmt.Sprintf("💀 *DEATH CROSS!* 💀\n"+
		"📉 *%s* - Bearish Signal!\n"+
		"💰 Current Price: $%s\n"+
		"📊 %d-day MA: $%s\n"+
		"📉 %d-day MA: $%s\n"+
		"⚠️ The %d-day MA crossed BELOW the %d-day MA!\n"+
		"📅 Crossover Date: %s%s",
		display, Fixed2(c.Price), c.ShortPeriod, Fixed2(c.ShortMA), c.LongPeriod, Fixed2(c.LongMA),
		c.ShortPeriod, c.LongPeriod, c.Date.Format("2006-01-02"), ago)
}

func crossoverCaption(symbol string, t CrossoverType) string {
	label := "Golden Cross"
	if t == DeathCross {
		label = "Death Cross"
	}
	return fmt.Sprintf("📊 *%s %s Chart*", symbol, label)
}

func intervalMessage(display string, q *adapters.Quote, at time.Time) string {
	verb, icon := "increased", "🔥"
	if q.ChangePercent < 0 {
		verb, icon = "decreased", "❌"
	}
	return fmt.Sprintf("%sStock *%s* %s %.2f%% the last hour with a new price of %s on %s",
		icon, display, verb, q.ChangePercent, Fixed2(q.Price), at.Format("2006-01-02 15:04:05"))
}

func earningsMessage(display string, e adapters.EarningsEvent, daysUntil int) string {
	if daysUntil == 0 {
		return fmt.Sprintf("📈 *EARNINGS TODAY*\n🏢 %s reports earnings today\n📅 Date: %s", display, longDate(e.Date))
	}
	return fmt.Sprintf("📈 *EARNINGS ALERT*\n🏢 %s reports earnings in %d days\n📅 Date: %s", display, daysUntil, longDate(e.Date))
}

func dividendMessage(display string, d adapters.DividendEvent, daysUntil int) string {
	amount := "TBD"
	if d.Amount != nil {
		amount = "$" + Fixed2(*d.Amount)
	}
	var b strings.Builder
	if daysUntil == 0 {
		b.WriteString("💰 *DIVIDEND EX-DATE TODAY*\n")
		fmt.Fprintf(&b, "🏢 *%s*\n", display)
		fmt.Fprintf(&b, "💵 Amount: %s per share\n", amount)
		fmt.Fprintf(&b, "📅 Ex-Date: Today (%s)\n", longDate(d.ExDate))
		b.WriteString("⚠️ Last day to buy for this dividend was yesterday!")
		return b.String()
	}
	b.WriteString("💰 *DIVIDEND ANNOUNCEMENT*\n")
	fmt.Fprintf(&b, "🏢 *%s* declares dividend\n", display)
	fmt.Fprintf(&b, "💵 Amount: %s per share\n", amount)
	fmt.Fprintf(&b, "📅 Ex-Dividend Date: %s (%d days)\n", longDate(d.ExDate), daysUntil)
	if d.PaymentDate != nil {
		fmt.Fprintf(&b, "💳 Payment Date: %s\n", longDate(*d.PaymentDate))
	}
	b.WriteString("ℹ️ You must own the stock before the ex-dividend date to receive the dividend")
	return b.String()
}

// FormatQuote renders a quote for chat replies
func FormatQuote(q *adapters.Quote, name string) string {
	arrow := "📈"
	if q.Change < 0 {
		arrow = "📉"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *%s*\n", DisplayName(q.Symbol, name))
	fmt.Fprintf(&b, "💰 Price: $%s\n", Fixed2(q.Price))
	fmt.Fprintf(&b, "%s Change: %s (%.2f%%)\n", arrow, Fixed2(q.Change), q.ChangePercent)
	fmt.Fprintf(&b, "📊 Day Range: $%s - $%s\n", Fixed2(q.DayLow), Fixed2(q.DayHigh))
	fmt.Fprintf(&b, "📅 52W Range: $%s - $%s\n", Fixed2(q.YearLow), Fixed2(q.YearHigh))
	fmt.Fprintf(&b, "📦 Volume: %s\n", FormatVolume(q.Volume))
	fmt.Fprintf(&b, "🏦 Market Cap: %s", FormatMarketCap(q.MarketCap))
	if q.Synthetic() {
		b.WriteString("\n" + SyntheticNote)
	}
	return b.String()
}
