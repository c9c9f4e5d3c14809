package adapters

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Rajchodisetti/stock-alerts/internal/config"
	"github.com/Rajchodisetti/stock-alerts/internal/observ"
)

// Stack is the market-data layer built from configuration
type Stack struct {
	Resolver    *Resolver
	Transport   *Transport
	Names       *NameCache
	Persistence *StatePersistenceManager
	Recorder    *VCRTransport
}

// Close stops name persistence and saves any recorded traffic
func (s *Stack) Close() error {
	var firstErr error
	if s.Persistence != nil {
		firstErr = s.Persistence.Stop()
	}
	if s.Recorder != nil {
		if err := s.Recorder.Save(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LimitsFromConfig converts provider settings into transport limits
func LimitsFromConfig(name string, p config.Provider) ProviderLimits {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return ProviderLimits{
		Name:               name,
		MinInterval:        ms(p.MinIntervalMs),
		Timeout:            time.Duration(p.TimeoutSeconds) * time.Second,
		ForbiddenThreshold: p.ForbiddenThreshold,
		DailyCap:           int64(p.DailyCap),
		Retry: RetryPolicy{
			MaxAttempts: p.MaxRetries,
			BaseDelay:   ms(p.BackoffBaseMs),
			JitterMin:   ms(p.JitterMinMs),
			JitterMax:   ms(p.JitterMaxMs),
		},
	}
}

// NewStackFromConfig builds the transport, adapters and resolver for cfg.DataProvider:
// "hybrid" uses FMP then Yahoo, "yahoo" skips FMP, "synthetic" uses no upstream.
// A missing FMP key downgrades hybrid to Yahoo only.
func NewStackFromConfig(cfg config.Root) (*Stack, error) {
	var rt http.RoundTripper = http.DefaultTransport
	var recorder *VCRTransport
	if mode := VCRMode(cfg.Recording.Mode); mode != VCRModeOff && mode != "" {
		vcr, err := NewVCRTransport(mode, cfg.Recording.Path, rt)
		if err != nil {
			return nil, err
		}
		rt, recorder = vcr, vcr
	}
	if cfg.Chaos.Enabled {
		rt = NewChaosTransport(ChaosConfig{
			ErrorRate:        cfg.Chaos.ErrorRate,
			RateLimitRate:    cfg.Chaos.RateLimitRate,
			ForbiddenRate:    cfg.Chaos.ForbiddenRate,
			NetworkErrorRate: cfg.Chaos.NetworkErrorRate,
			Seed:             cfg.Chaos.Seed,
		}, rt)
		observ.Log("chaos_transport_enabled", map[string]any{"error_rate": cfg.Chaos.ErrorRate})
	}

	health := NewProviderHealthState()
	transport := NewTransport(&http.Client{Transport: rt}, health)
	names := NewNameCache()

	persistence := NewStatePersistenceManager(cfg.Cache.NamesPath, names, time.Minute)
	if err := persistence.Load(); err != nil {
		observ.Log("name_cache_load_error", map[string]any{"error": err.Error()})
	}

	var primary, secondary Provider
	switch cfg.DataProvider {
	case "synthetic":
		observ.Log("data_provider_created", map[string]any{"mode": "synthetic"})

	case "yahoo", "hybrid":
		if cfg.DataProvider == "hybrid" && cfg.Providers.FMP.IsEnabled() {
			fmp, err := newFMP(cfg, transport, names)
			if err != nil {
				observ.Log("data_provider_fallback", map[string]any{
					"requested": "fmp",
					"fallback":  "yahoo",
					"reason":    err.Error(),
				})
			} else {
				primary = fmp
			}
		}
		if cfg.Providers.Yahoo.IsEnabled() {
			limits := LimitsFromConfig(YahooProviderName, cfg.Providers.Yahoo)
			limits.Decorate = YahooHeaders()
			limits.Retry.Retryable = YahooRetryable
			transport.Register(limits)
			secondary = NewYahooAdapter(YahooConfig{
				BaseURL:      cfg.Providers.Yahoo.BaseURL,
				MaxBatchSize: cfg.Providers.Yahoo.MaxBatchSize,
			}, transport, names)
		}
		observ.Log("data_provider_created", map[string]any{
			"mode":      cfg.DataProvider,
			"primary":   primary != nil,
			"secondary": secondary != nil,
		})

	default:
		return nil, fmt.Errorf("unknown data provider %q", cfg.DataProvider)
	}

	resolver := NewResolver(ResolverOptions{
		Primary:   primary,
		Secondary: secondary,
		Cache: NewProviderCache(CacheTTLs{
			KindQuote:        seconds(cfg.Cache.QuoteTTLSeconds),
			KindHistory:      seconds(cfg.Cache.HistoryTTLSeconds),
			KindFundamentals: seconds(cfg.Cache.FundamentalsTTLSeconds),
			KindEarnings:     seconds(cfg.Cache.EarningsTTLSeconds),
			KindDividends:    seconds(cfg.Cache.DividendsTTLSeconds),
		}),
		Health:               health,
		Names:                names,
		SyntheticEarningsTTL: seconds(cfg.Cache.SyntheticEarningsTTLSeconds),
	})
	persistence.Start()

	return &Stack{
		Resolver:    resolver,
		Transport:   transport,
		Names:       names,
		Persistence: persistence,
		Recorder:    recorder,
	}, nil
}

func newFMP(cfg config.Root, transport *Transport, names *NameCache) (*FMPAdapter, error) {
	key := cfg.FMPKey()
	if key == "" {
		return nil, fmt.Errorf("missing API key (%s)", cfg.Providers.FMP.APIKeyEnv)
	}
	limits := LimitsFromConfig(FMPProviderName, cfg.Providers.FMP)
	limits.ErrorMarkers = []string{"Error Message"}
	transport.Register(limits)

	adapter, err := NewFMPAdapter(FMPConfig{
		APIKey:       key,
		BaseURL:      cfg.Providers.FMP.BaseURL,
		MaxBatchSize: cfg.Providers.FMP.MaxBatchSize,
	}, transport, names)
	if err != nil {
		return nil, err
	}
	observ.Log("fmp_adapter_created", map[string]any{
		"min_interval_ms": cfg.Providers.FMP.MinIntervalMs,
		"api_key_masked":  maskAPIKey(key),
	})
	return adapter, nil
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

// maskAPIKey masks sensitive API key for logging
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
