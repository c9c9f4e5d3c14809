package bot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/stock-alerts/internal/adapters"
	"github.com/Rajchodisetti/stock-alerts/internal/alerts"
	"github.com/Rajchodisetti/stock-alerts/internal/dedup"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
	"github.com/Rajchodisetti/stock-alerts/internal/sentiment"
	"github.com/Rajchodisetti/stock-alerts/internal/watchlist"
)

type fakeMarket struct {
	quotes    map[string]*adapters.Quote
	names     map[string]string
	forgotten []string
}

func (f *fakeMarket) GetQuote(_ context.Context, symbol string) (*adapters.Quote, error) {
	if q, ok := f.quotes[symbol]; ok {
		return q, nil
	}
	return &adapters.Quote{Symbol: symbol, Price: 100, Source: adapters.SourceSynthetic, Provider: "synthetic"}, nil
}

func (f *fakeMarket) GetQuotesBatch(ctx context.Context, symbols []string) (map[string]*adapters.Quote, error) {
	out := make(map[string]*adapters.Quote, len(symbols))
	for _, sym := range symbols {
		out[sym], _ = f.GetQuote(ctx, sym)
	}
	return out, nil
}

func (f *fakeMarket) CompanyName(symbol string) string {
	if n, ok := f.names[symbol]; ok {
		return n
	}
	return symbol
}

func (f *fakeMarket) ForgetSymbol(symbol string) {
	f.forgotten = append(f.forgotten, symbol)
	delete(f.names, symbol)
}

func (f *fakeMarket) ProviderStatus() []adapters.ProviderSnapshot {
	return []adapters.ProviderSnapshot{
		{Name: "yahoo", Status: adapters.ProviderStatusHealthy, Enabled: true},
		{Name: "fmp", Status: adapters.ProviderStatusDisabled, ForbiddenCount: 3},
	}
}

func (f *fakeMarket) Providers() []string { return []string{"fmp", "yahoo", "synthetic"} }

type stubResearcher struct {
	summary string
	err     error
}

func (s stubResearcher) Research(context.Context, string) (string, error) { return s.summary, s.err }

type MockClient struct {
	mock.Mock
}

func (m *MockClient) GetUpdates(ctx context.Context, offset int64) ([]alerts.Update, error) {
	args := m.Called(ctx, offset)
	updates, _ := args.Get(0).([]alerts.Update)
	return updates, args.Error(1)
}

func (m *MockClient) SendLong(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

type fixture struct {
	market    *fakeMarket
	watchlist *watchlist.FileStore
	dedup     *dedup.FileLog
	history   *alerts.History
	commands  *Commands
}

func newFixture(t *testing.T, symbols ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	log, err := dedup.NewFileLog(filepath.Join(dir, "dedup"))
	require.NoError(t, err)
	f := &fixture{
		market: &fakeMarket{
			quotes: map[string]*adapters.Quote{
				"AAPL": {Symbol: "AAPL", Price: 227.5, Change: -1.25, ChangePercent: -0.55, Source: adapters.SourcePrimary, Provider: "fmp"},
				"NVDA": {Symbol: "NVDA", Price: 131, Source: adapters.SourceSecondary, Provider: "yahoo"},
			},
			names: map[string]string{"AAPL": "Apple Inc.", "NVDA": "NVIDIA Corporation"},
		},
		watchlist: watchlist.NewFileStore(filepath.Join(dir, "watchlist.txt"), symbols),
		dedup:     log,
		history:   alerts.NewHistory(10),
	}
	f.commands = NewCommands(CommandsOptions{
		Market:    f.market,
		Watchlist: f.watchlist,
		Dedup:     f.dedup,
		History:   f.history,
		System: func() observ.SystemStatus {
			return observ.SystemStatus{CPUPercent: 12.5, MemoryPercent: 40, Load1: 0.75, UptimeSeconds: 3700}
		},
	})
	return f
}

func TestParseCommand(t *testing.T) {
	cmd, args := ParseCommand("/Quote@StockAlertsBot aapl  extra")
	assert.Equal(t, "quote", cmd)
	assert.Equal(t, []string{"aapl", "extra"}, args)

	cmd, args = ParseCommand("hello there")
	assert.Empty(t, cmd)
	assert.Nil(t, args)
}

func TestRoute(t *testing.T) {
	cmd, args := Route("/market")
	assert.Equal(t, "market", cmd)
	assert.Empty(t, args)

	cmd, args = Route("  nvda ")
	assert.Equal(t, "quote", cmd)
	assert.Equal(t, []string{"NVDA"}, args)

	for _, text := range []string{"hello there", "GOOGLE", "brk.b", "123"} {
		cmd, _ = Route(text)
		assert.Empty(t, cmd, text)
		assert.False(t, IsCommand(text), text)
	}
	assert.True(t, IsCommand("/"), "a lone slash is an unknown command")
}

func TestCommands_BareSymbolAndPlainText(t *testing.T) {
	f := newFixture(t)
	reply, err := f.commands.Handle(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Contains(t, reply, "AAPL (Apple Inc.)")
	assert.Contains(t, reply, "$227.50")

	reply, err = f.commands.Handle(context.Background(), "what should I buy?")
	require.NoError(t, err)
	assert.Contains(t, reply, "Tip: send a stock symbol")
}

func TestCommands_MarketSentiment(t *testing.T) {
	f := newFixture(t)
	reply, err := f.commands.Handle(context.Background(), "/market")
	require.NoError(t, err)
	assert.Contains(t, reply, "Market sentiment is unavailable", "synthetic index quotes are not scored")

	f.market.quotes[sentiment.VIX] = &adapters.Quote{Symbol: sentiment.VIX, Price: 30, ChangePercent: 8, Source: adapters.SourceSecondary}
	f.market.quotes[sentiment.Treasury10Y] = &adapters.Quote{Symbol: sentiment.Treasury10Y, Price: 4.2, ChangePercent: -1, Source: adapters.SourceSecondary}
	f.commands.now = func() time.Time { return time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC) }

	reply, err = f.commands.Handle(context.Background(), "/market")
	require.NoError(t, err)
	assert.Contains(t, reply, "Market Sentiment Index: 35.7/100")
	assert.Contains(t, reply, "Status: Fear")
	assert.Contains(t, reply, "Based on 2 of 4 components")
}

func TestCommands_Stocks(t *testing.T) {
	f := newFixture(t, "AAPL", "MSFT")
	reply, err := f.commands.Handle(context.Background(), "/stocks")
	require.NoError(t, err)
	assert.Contains(t, reply, "Monitored stocks (2)")
	assert.Contains(t, reply, "1. AAPL (Apple Inc.)")
	assert.Contains(t, reply, "2. MSFT")

	empty := newFixture(t)
	reply, err = empty.commands.Handle(context.Background(), "/stocks")
	require.NoError(t, err)
	assert.Contains(t, reply, "No stocks are being monitored")
}

func TestCommands_AddValidatesWithRealQuote(t *testing.T) {
	f := newFixture(t, "AAPL")
	ctx := context.Background()

	reply, err := f.commands.Handle(ctx, "/add nasdaq:nvda")
	require.NoError(t, err)
	assert.Equal(t, "✅ Added NVDA (NVIDIA Corporation) at $131.00", reply)
	assert.True(t, f.watchlist.Contains("NVDA"))

	reply, err = f.commands.Handle(ctx, "/add NVDA")
	require.NoError(t, err)
	assert.Contains(t, reply, "already being monitored")

	reply, err = f.commands.Handle(ctx, "/add ZZZZ")
	require.NoError(t, err)
	assert.Contains(t, reply, "Could not find market data for ZZZZ")
	assert.False(t, f.watchlist.Contains("ZZZZ"))

	reply, err = f.commands.Handle(ctx, "/add 123!")
	require.NoError(t, err)
	assert.Contains(t, reply, "Invalid symbol")

	reply, err = f.commands.Handle(ctx, "/add")
	require.NoError(t, err)
	assert.Equal(t, "❌ Usage: /add SYMBOL", reply)
}

func TestCommands_RemovePurgesAlertHistory(t *testing.T) {
	f := newFixture(t, "AAPL", "MSFT")
	require.NoError(t, f.dedup.Add(dedup.BuyDip, "AAPL_dip_270.00_300.00"))
	require.NoError(t, f.dedup.Add(dedup.Earnings, "AAPL_2025-03-15_expected"))
	require.NoError(t, f.dedup.Add(dedup.BuyDip, "MSFT_dip_300.00_350.00"))

	reply, err := f.commands.Handle(context.Background(), "/remove aapl")
	require.NoError(t, err)
	assert.Equal(t, "🗑️ Removed AAPL (Apple Inc.)", reply)

	list, _ := f.watchlist.List()
	assert.Equal(t, []string{"MSFT"}, list)
	has, _ := f.dedup.Has(dedup.BuyDip, "AAPL_dip_270.00_300.00")
	assert.False(t, has)
	has, _ = f.dedup.Has(dedup.BuyDip, "MSFT_dip_300.00_350.00")
	assert.True(t, has)
	assert.Equal(t, []string{"AAPL"}, f.market.forgotten)

	reply, err = f.commands.Handle(context.Background(), "/remove AAPL")
	require.NoError(t, err)
	assert.Contains(t, reply, "not in the watchlist")
}

func TestCommands_Quote(t *testing.T) {
	f := newFixture(t)
	reply, err := f.commands.Handle(context.Background(), "/quote aapl")
	require.NoError(t, err)
	assert.Contains(t, reply, "AAPL (Apple Inc.)")
	assert.Contains(t, reply, "$227.50")
	assert.NotContains(t, reply, alerts.SyntheticNote)

	reply, err = f.commands.Handle(context.Background(), "/quote TSLA")
	require.NoError(t, err)
	assert.Contains(t, reply, alerts.SyntheticNote)
}

func TestCommands_StatusTruncatesList(t *testing.T) {
	symbols := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L"}
	f := newFixture(t, symbols...)
	f.history.Record(dedup.BuyDip, "A", "A_dip_1.00_2.00", "dip", time.Now())

	reply, err := f.commands.Handle(context.Background(), "/status")
	require.NoError(t, err)
	assert.Contains(t, reply, "Monitoring 12 stocks: A, B, C, D, E, F, G, H, I, J +2 more")
	assert.Contains(t, reply, "fmp → yahoo → synthetic")
	assert.Contains(t, reply, "• fmp: disabled (403s: 3)")
	assert.Contains(t, reply, "• yahoo: healthy")
	assert.Contains(t, reply, "Alerts sent this session: 1")
	assert.Contains(t, reply, "CPU 12.5%")
	assert.Contains(t, reply, "Uptime: 1h1m40s")
}

func TestCommands_Research(t *testing.T) {
	f := newFixture(t)
	reply, err := f.commands.Handle(context.Background(), "/research AAPL")
	require.NoError(t, err)
	assert.Contains(t, reply, "not configured")

	f.commands.researcher = stubResearcher{summary: "Strong services growth."}
	reply, err = f.commands.Handle(context.Background(), "/research AAPL")
	require.NoError(t, err)
	assert.Contains(t, reply, "Research: AAPL (Apple Inc.)")
	assert.Contains(t, reply, "Strong services growth.")

	f.commands.researcher = stubResearcher{err: errors.New("upstream down")}
	reply, err = f.commands.Handle(context.Background(), "/research AAPL")
	require.NoError(t, err)
	assert.Contains(t, reply, "Research for AAPL failed")
}

func TestCommands_UnknownShowsHelp(t *testing.T) {
	f := newFixture(t)
	reply, err := f.commands.Handle(context.Background(), "/frobnicate")
	require.NoError(t, err)
	assert.Contains(t, reply, "Unknown command")
	assert.Contains(t, reply, "/add SYMBOL")
}

func update(id, chatID int64, text string) alerts.Update {
	return alerts.Update{UpdateID: id, Message: &alerts.Message{
		MessageID: id,
		From:      &alerts.User{ID: 7, Username: "ann"},
		Chat:      alerts.Chat{ID: chatID},
		Text:      text,
	}}
}

func readAudit(t *testing.T, path string) []AuditEntry {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	var out []AuditEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e AuditEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		out = append(out, e)
	}
	return out
}

func TestBot_PollOnceAnswersAuthorizedChatOnly(t *testing.T) {
	f := newFixture(t, "AAPL")
	auditPath := filepath.Join(t.TempDir(), "audit", "commands.jsonl")
	audit := NewAuditLogger(auditPath)
	client := &MockClient{}
	b := New(client, f.commands, NewAuthorizer("42", audit), audit)

	client.On("GetUpdates", mock.Anything, int64(0)).Return([]alerts.Update{
		update(100, 42, "/stocks"),
		update(101, 99, "/remove AAPL"),
		update(102, 42, "just chatting"),
		{UpdateID: 103},
		update(104, 42, "nvda"),
		update(105, 99, "hello there"),
	}, nil).Once()
	client.On("SendLong", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "AAPL (Apple Inc.)")
	})).Return(nil).Once()
	client.On("SendLong", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Tip: send a stock symbol")
	})).Return(nil).Once()
	client.On("SendLong", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "NVDA (NVIDIA Corporation)")
	})).Return(nil).Once()

	n, err := b.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, int64(106), b.Offset())
	client.AssertExpectations(t)

	assert.True(t, f.watchlist.Contains("AAPL"), "unauthorized /remove must not run")

	entries := readAudit(t, auditPath)
	require.Len(t, entries, 3)
	assert.Equal(t, "stocks", entries[0].Command)
	assert.Equal(t, "success", entries[0].Outcome)
	assert.Equal(t, int64(99), entries[1].ChatID)
	assert.Equal(t, "remove", entries[1].Command)
	assert.Equal(t, "denied", entries[1].Outcome)
	assert.Equal(t, "quote", entries[2].Command)
	assert.Equal(t, "NVDA", entries[2].Args)
}

func TestBot_CommandErrorIsReportedAndAudited(t *testing.T) {
	f := newFixture(t)
	f.commands = NewCommands(CommandsOptions{Market: f.market, Watchlist: brokenStore{}, Dedup: f.dedup})
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	audit := NewAuditLogger(auditPath)
	client := &MockClient{}
	b := New(client, f.commands, NewAuthorizer("42", audit), audit)

	client.On("GetUpdates", mock.Anything, int64(0)).Return([]alerts.Update{update(5, 42, "/stocks")}, nil).Once()
	client.On("SendLong", mock.Anything, "❌ Something went wrong handling /stocks. Try again later.").Return(nil).Once()

	_, err := b.PollOnce(context.Background())
	require.NoError(t, err)
	client.AssertExpectations(t)

	entries := readAudit(t, auditPath)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Outcome)
	assert.Equal(t, "disk on fire", entries[0].Details["error"])
}

type brokenStore struct{}

func (brokenStore) List() ([]string, error) { return nil, errors.New("disk on fire") }
func (brokenStore) Add(string) error        { return errors.New("disk on fire") }
func (brokenStore) Remove(string) error     { return errors.New("disk on fire") }

func TestBot_RunBacksOffAndStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	client := &MockClient{}
	b := New(client, f.commands, NewAuthorizer("42", nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	var sleeps []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) == 3 {
			cancel()
			return context.Canceled
		}
		return nil
	}
	client.On("GetUpdates", mock.Anything, int64(0)).Return(nil, errors.New("connection reset"))

	require.NoError(t, b.Run(ctx))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, sleeps)
}

func TestAuthorizer_UnparsableChatDeniesAll(t *testing.T) {
	a := NewAuthorizer("", nil)
	assert.Error(t, a.Authorize(0, 1, "x", "stocks"))
	assert.Error(t, a.Authorize(42, 1, "x", "stocks"))
	assert.NoError(t, NewAuthorizer("42", nil).Authorize(42, 1, "x", "stocks"))
}
