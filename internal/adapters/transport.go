package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

const maxBodyBytes = 16 << 20

// RetryPolicy is shared by every provider. 429s back off exponentially
// (base * 2^attempt + jitter); other retryable failures back off linearly.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	JitterMin   time.Duration
	JitterMax   time.Duration
	// Retryable decides whether a non-2xx status other than 403/404/429 is retried.
	// nil retries every such status.
	Retryable func(status int) bool
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(status int) bool {
	return p.Retryable == nil || p.Retryable(status)
}

// RateLimitBackoff is the wait after a 429 on the given zero-based attempt
func (p RetryPolicy) RateLimitBackoff(attempt int, jitter time.Duration) time.Duration {
	return p.BaseDelay*time.Duration(1<<uint(attempt)) + jitter
}

// ErrorBackoff is the wait after a transport error or retryable status
func (p RetryPolicy) ErrorBackoff(attempt int, jitter time.Duration) time.Duration {
	return p.BaseDelay*time.Duration(attempt+1) + jitter
}

// ProviderLimits configures the Transport for one upstream
type ProviderLimits struct {
	Name               string
	MinInterval        time.Duration
	Timeout            time.Duration
	ForbiddenThreshold int
	DailyCap           int64 // 0 = unlimited
	Retry              RetryPolicy
	// ErrorMarkers are body substrings that turn a 2xx into a provider error
	ErrorMarkers []string
	// Decorate sets provider specific headers on every attempt
	Decorate func(req *http.Request)
}

// gate spaces requests to one provider. mu is held from the spacing wait until the
// request has been written, and the limiter token is spent at that instant.
type gate struct {
	mu      sync.Mutex
	limits  ProviderLimits
	limiter *rate.Limiter
}

// Transport performs GETs against registered providers with per-provider spacing,
// retry/backoff and forbidden-response circuit breaking.
type Transport struct {
	client *http.Client
	health *ProviderHealthState
	budget *RequestBudget
	log    zerolog.Logger

	mu    sync.RWMutex
	gates map[string]*gate

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	rngMu sync.Mutex
	rng   *rand.Rand
}

// TransportOption customizes a Transport
type TransportOption func(*Transport)

// WithClock injects the time source and sleeper
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) TransportOption {
	return func(t *Transport) {
		t.now = now
		t.sleep = sleep
	}
}

// WithSeed makes jitter reproducible
func WithSeed(seed int64) TransportOption {
	return func(t *Transport) {
		t.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLogger sets the component logger
func WithLogger(l zerolog.Logger) TransportOption {
	return func(t *Transport) {
		t.log = l
	}
}

// NewTransport creates a transport. A nil client gets a 15s timeout client; a nil
// health state gets a fresh one.
func NewTransport(client *http.Client, health *ProviderHealthState, opts ...TransportOption) *Transport {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if health == nil {
		health = NewProviderHealthState()
	}
	t := &Transport{
		client: client,
		health: health,
		log:    observ.Component("transport"),
		gates:  make(map[string]*gate),
		now:    time.Now,
		sleep:  sleepCtx,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.budget = NewRequestBudget(t.now)
	return t
}

// Register adds or replaces a provider's limits
func (t *Transport) Register(limits ProviderLimits) {
	var limiter *rate.Limiter
	if limits.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(limits.MinInterval), 1)
	}
	t.mu.Lock()
	t.gates[limits.Name] = &gate{limits: limits, limiter: limiter}
	t.mu.Unlock()
	t.health.Register(limits.Name, limits.ForbiddenThreshold)
	t.budget.Register(limits.Name, limits.DailyCap)
}

// Health returns the shared circuit-breaker state
func (t *Transport) Health() *ProviderHealthState {
	return t.health
}

// Budget returns the daily request counters
func (t *Transport) Budget() *RequestBudget {
	return t.budget
}

// Get fetches rawURL with params for provider and returns the body of a 2xx.
// Every failure is returned as a *QuoteError; nothing panics.
func (t *Transport) Get(ctx context.Context, provider, rawURL string, params url.Values) ([]byte, error) {
	t.mu.RLock()
	g, ok := t.gates[provider]
	t.mu.RUnlock()
	if !ok {
		return nil, NewProviderError(provider, "provider not registered", nil)
	}

	fullURL := rawURL
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}

	policy := g.limits.Retry
	var lastErr error
	for attempt := 0; attempt < policy.attempts(); attempt++ {
		if !t.health.Enabled(provider) {
			return nil, NewDisabledError(provider)
		}
		if !t.budget.Take(provider) {
			t.count(provider, "budget_exhausted")
			return nil, NewRateLimitError(provider, "daily request budget exhausted")
		}
		release, err := t.wait(ctx, g)
		if err != nil {
			return nil, NewNetworkError(provider, "rate limit wait cancelled", err)
		}

		start := t.now()
		status, body, err := t.send(ctx, g, fullURL, release)
		observ.RecordDuration("provider_request", t.now().Sub(start), map[string]string{"provider": provider})

		var backoff time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, NewNetworkError(provider, "request cancelled", ctx.Err())
			}
			lastErr = NewNetworkError(provider, "request failed", err)
			t.count(provider, "error")
			t.health.RecordError(provider, lastErr)
			backoff = policy.ErrorBackoff(attempt, t.jitter(policy))

		case status >= 200 && status < 300:
			t.health.RecordSuccess(provider, t.now())
			for _, marker := range g.limits.ErrorMarkers {
				if bytes.Contains(body, []byte(marker)) {
					t.count(provider, "error_body")
					return nil, NewProviderError(provider, fmt.Sprintf("%s returned %q", path, marker), nil)
				}
			}
			t.count(provider, "ok")
			return body, nil

		case status == http.StatusTooManyRequests:
			lastErr = NewRateLimitError(provider, "HTTP 429")
			t.count(provider, "rate_limited")
			t.health.RecordError(provider, lastErr)
			backoff = policy.RateLimitBackoff(attempt, t.jitter(policy))

		case status == http.StatusForbidden:
			t.count(provider, "forbidden")
			if t.health.RecordForbidden(provider, t.now()) {
				t.log.Error().Str("provider", provider).Str("path", path).Msg("provider disabled after repeated 403 responses")
			}
			return nil, NewForbiddenError(provider, "HTTP 403 on "+path)

		case status == http.StatusNotFound:
			t.count(provider, "not_found")
			return nil, &QuoteError{Type: ErrTypeNotFound, Provider: provider, Message: "HTTP 404 on " + path}

		default:
			lastErr = NewProviderError(provider, fmt.Sprintf("HTTP %d on %s", status, path), nil)
			t.count(provider, "error")
			t.health.RecordError(provider, lastErr)
			if !policy.retryable(status) {
				return nil, lastErr
			}
			backoff = policy.ErrorBackoff(attempt, t.jitter(policy))
		}

		if attempt == policy.attempts()-1 {
			break
		}
		t.log.Debug().
			Str("provider", provider).
			Str("path", path).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Err(lastErr).
			Msg("retrying upstream request")
		if err := t.sleep(ctx, backoff); err != nil {
			return nil, NewNetworkError(provider, "backoff cancelled", err)
		}
	}

	t.log.Warn().Str("provider", provider).Str("path", path).Err(lastErr).Msg("upstream request gave up")
	return nil, lastErr
}

// wait blocks until the provider's minimum interval has elapsed since the previous
// request went out. On success the gate stays locked and the returned release must
// be passed to send, which stamps the dispatch and unlocks.
func (t *Transport) wait(ctx context.Context, g *gate) (func(sent bool), error) {
	g.mu.Lock()

	if j := t.jitter(g.limits.Retry); j > 0 {
		if err := t.sleep(ctx, j); err != nil {
			g.mu.Unlock()
			return nil, err
		}
	}

	if g.limiter != nil {
		for {
			tokens := g.limiter.TokensAt(t.now())
			if tokens >= 1 {
				break
			}
			delay := time.Duration(math.Ceil((1 - tokens) * float64(g.limits.MinInterval)))
			if err := t.sleep(ctx, delay); err != nil {
				g.mu.Unlock()
				return nil, err
			}
		}
	}

	var once sync.Once
	return func(sent bool) {
		once.Do(func() {
			if sent {
				stamp := t.now()
				if g.limiter != nil {
					g.limiter.AllowN(stamp, 1)
				}
				t.health.RecordRequest(g.limits.Name, stamp)
			}
			g.mu.Unlock()
		})
	}, nil
}

// send performs one GET. release is called as soon as the request has been written,
// or when the attempt ends without writing it.
func (t *Transport) send(ctx context.Context, g *gate, fullURL string, release func(sent bool)) (int, []byte, error) {
	defer release(false)
	if g.limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.limits.Timeout)
		defer cancel()
	}
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		WroteRequest: func(httptrace.WroteRequestInfo) { release(true) },
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if g.limits.Decorate != nil {
		g.limits.Decorate(req)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (t *Transport) jitter(p RetryPolicy) time.Duration {
	if p.JitterMax <= p.JitterMin {
		return p.JitterMin
	}
	t.rngMu.Lock()
	f := t.rng.Float64()
	t.rngMu.Unlock()
	return p.JitterMin + time.Duration(f*float64(p.JitterMax-p.JitterMin))
}

// RandomFloat returns a value in [0,1) from the transport's source
func (t *Transport) RandomFloat() float64 {
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return t.rng.Float64()
}

func (t *Transport) count(provider, result string) {
	observ.IncCounter("provider_requests_total", map[string]string{"provider": provider, "result": result})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
