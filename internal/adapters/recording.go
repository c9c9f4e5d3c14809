package adapters

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Rajchodisetti/stock-alerts/internal/fsutil"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// VCRMode defines VCR recording/replay behavior
type VCRMode string

const (
	VCRModeRecord VCRMode = "record" // Record interactions with live APIs
	VCRModeReplay VCRMode = "replay" // Replay recorded interactions
	VCRModeOff    VCRMode = "off"    // Bypass VCR entirely
)

// VCRInteraction represents a recorded API interaction
type VCRInteraction struct {
	Key        string `json:"key"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	LatencyMs  int64  `json:"latency_ms"`
}

// VCRCassette contains recorded interactions
type VCRCassette struct {
	RecordedAt   time.Time        `json:"recorded_at"`
	Interactions []VCRInteraction `json:"interactions"`
}

// VCRTransport is an http.RoundTripper that records upstream responses to a cassette
// file or replays them. Requests are matched by method, host, path and query with
// credentials removed; repeated requests replay in recorded order.
type VCRTransport struct {
	mode  VCRMode
	path  string
	inner http.RoundTripper

	mu       sync.Mutex
	cassette VCRCassette
	cursor   map[string]int
}

// NewVCRTransport creates the transport. Replay mode loads path immediately.
func NewVCRTransport(mode VCRMode, path string, inner http.RoundTripper) (*VCRTransport, error) {
	if inner == nil {
		inner = http.DefaultTransport
	}
	v := &VCRTransport{mode: mode, path: path, inner: inner, cursor: make(map[string]int)}
	switch mode {
	case VCRModeReplay:
		found, err := fsutil.ReadJSON(path, &v.cassette)
		if err != nil {
			return nil, fmt.Errorf("failed to load VCR cassette: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("VCR cassette %s not found", path)
		}
		observ.Log("vcr_cassette_loaded", map[string]any{"path": path, "interactions": len(v.cassette.Interactions)})
	case VCRModeRecord:
		v.cassette.RecordedAt = time.Now().UTC()
	case VCRModeOff:
	default:
		return nil, fmt.Errorf("unknown VCR mode %q", mode)
	}
	return v, nil
}

// vcrKey identifies a request without secrets
func vcrKey(req *http.Request) string {
	q := req.URL.Query()
	for _, secret := range []string{"apikey", "api_key", "token"} {
		q.Del(secret)
	}
	key := req.Method + " " + req.URL.Host + req.URL.Path
	if enc := q.Encode(); enc != "" {
		key += "?" + enc
	}
	return key
}

func (v *VCRTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	switch v.mode {
	case VCRModeReplay:
		return v.replay(req)
	case VCRModeRecord:
		return v.record(req)
	default:
		return v.inner.RoundTrip(req)
	}
}

func (v *VCRTransport) replay(req *http.Request) (*http.Response, error) {
	key := vcrKey(req)
	v.mu.Lock()
	defer v.mu.Unlock()

	var matches []VCRInteraction
	for _, in := range v.cassette.Interactions {
		if in.Key == key {
			matches = append(matches, in)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no recorded interaction for %s", key)
	}
	i := v.cursor[key]
	if i >= len(matches) {
		i = len(matches) - 1
	}
	v.cursor[key] = i + 1
	return newResponse(req, matches[i].StatusCode, matches[i].Body), nil
}

func (v *VCRTransport) record(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := v.inner.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	v.mu.Lock()
	v.cassette.Interactions = append(v.cassette.Interactions, VCRInteraction{
		Key:        vcrKey(req),
		StatusCode: resp.StatusCode,
		Body:       string(body),
		LatencyMs:  time.Since(start).Milliseconds(),
	})
	v.mu.Unlock()
	return resp, nil
}

// Save writes recorded interactions to disk. It is a no-op outside record mode.
func (v *VCRTransport) Save() error {
	if v.mode != VCRModeRecord {
		return nil
	}
	v.mu.Lock()
	cassette := VCRCassette{
		RecordedAt:   v.cassette.RecordedAt,
		Interactions: append([]VCRInteraction(nil), v.cassette.Interactions...),
	}
	v.mu.Unlock()

	if err := fsutil.WriteJSONAtomic(v.path, cassette); err != nil {
		return fmt.Errorf("failed to write cassette: %w", err)
	}
	observ.Log("vcr_cassette_saved", map[string]any{"path": v.path, "interactions": len(cassette.Interactions)})
	return nil
}

// ChaosConfig configures failure injection rates (0.1 = 10%)
type ChaosConfig struct {
	ErrorRate        float64 // HTTP 500
	RateLimitRate    float64 // HTTP 429
	ForbiddenRate    float64 // HTTP 403
	NetworkErrorRate float64 // connection refused
	Seed             int64
}

// ChaosTransport wraps a RoundTripper and injects upstream failures
type ChaosTransport struct {
	config ChaosConfig
	inner  http.RoundTripper

	mu   sync.Mutex
	rand *rand.Rand
}

// NewChaosTransport creates a chaos-enabled transport. A zero seed uses the clock.
func NewChaosTransport(config ChaosConfig, inner http.RoundTripper) *ChaosTransport {
	if inner == nil {
		inner = http.DefaultTransport
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &ChaosTransport{config: config, inner: inner, rand: rand.New(rand.NewSource(seed))}
}

func (c *ChaosTransport) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rand.Float64() < rate
}

func (c *ChaosTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	inject := func(kind string) {
		observ.IncCounter("chaos_injected_total", map[string]string{"kind": kind, "host": req.URL.Host})
	}
	switch {
	case c.roll(c.config.NetworkErrorRate):
		inject("network")
		return nil, fmt.Errorf("chaos network: connection refused")
	case c.roll(c.config.RateLimitRate):
		inject("rate_limit")
		return newResponse(req, http.StatusTooManyRequests, `{"message":"chaos rate limit"}`), nil
	case c.roll(c.config.ForbiddenRate):
		inject("forbidden")
		return newResponse(req, http.StatusForbidden, `{"message":"chaos forbidden"}`), nil
	case c.roll(c.config.ErrorRate):
		inject("error")
		return newResponse(req, http.StatusInternalServerError, `{"message":"chaos error"}`), nil
	}
	return c.inner.RoundTrip(req)
}

func newResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"application/json"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
