package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/astra/internal/cache"
	"github.com/nextlevelbuilder/astra/internal/metrics"
)

// DefaultRatePerMin is the per-provider request budget.
const DefaultRatePerMin = 30

// DefaultAttemptTimeout bounds one provider attempt when no timeout is
// configured.
const DefaultAttemptTimeout = 30 * time.Second

type routedProvider struct {
	provider Provider
	limiter  *rate.Limiter
}

// Router dispatches chat requests across providers in preference order
// with a shared response cache and per-provider token buckets.
type Router struct {
	providers      []routedProvider
	imageProv      ImageProvider
	cache          *cache.Cache
	log            *slog.Logger
	met            *metrics.Metrics
	safeDefault    string
	attemptTimeout time.Duration
}

// NewRouter builds a router. ratePerMin maps provider name to its budget;
// missing names use the default. attemptTimeout <= 0 uses the default.
// imageProv and met may be nil.
func NewRouter(provs []Provider, imageProv ImageProvider, c *cache.Cache, log *slog.Logger, safeDefault string, ratePerMin map[string]int, attemptTimeout time.Duration, met *metrics.Metrics) *Router {
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	r := &Router{
		imageProv:      imageProv,
		cache:          c,
		log:            log,
		met:            met,
		safeDefault:    safeDefault,
		attemptTimeout: attemptTimeout,
	}
	for _, p := range provs {
		per := ratePerMin[p.Name()]
		if per <= 0 {
			per = DefaultRatePerMin
		}
		r.providers = append(r.providers, routedProvider{
			provider: p,
			limiter:  rate.NewLimiter(rate.Limit(float64(per)/60.0), per),
		})
	}
	return r
}

// cacheKey derives the response cache key from everything that affects
// the completion.
func (r *Router) cacheKey(req ChatRequest, model string) string {
	h := sha256.New()
	for _, m := range req.Messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "%s|%g|%d", model, req.Temperature, req.MaxTokens)
	digest := hex.EncodeToString(h.Sum(nil)[:8])
	return fmt.Sprintf("response:%d:%d:%s", req.Guild, req.User, digest)
}

// Route resolves the model, consults the cache, then walks the provider
// chain. Transient failures fall through to the next provider; permanent
// ones fail fast. On total failure the error is a *ProviderFailure.
func (r *Router) Route(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := NormalizeModel(req.Model, r.safeDefault)
	req.Model = model

	key := r.cacheKey(req, model)
	if r.cache != nil {
		if blob, ok := r.cache.Get(ctx, key); ok {
			var resp ChatResponse
			if err := json.Unmarshal(blob, &resp); err == nil {
				resp.Cached = true
				return &resp, nil
			}
		}
	}

	var attempted []string
	var lastErr error
	for _, rp := range r.providers {
		p := rp.provider
		if !p.Available() {
			continue
		}
		if !rp.limiter.Allow() {
			// Empty bucket counts as a transient failure.
			attempted = append(attempted, p.Name())
			lastErr = fmt.Errorf("%s: %w", p.Name(), ErrRateLimited)
			r.countRequest(p.Name(), "rate_limited")
			r.log.Debug("provider skipped, rate limited", "provider", p.Name())
			continue
		}

		attempted = append(attempted, p.Name())
		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		start := time.Now()
		resp, err := p.ChatCompletion(attemptCtx, req)
		cancel()
		if r.met != nil {
			r.met.ProviderLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		}
		if err == nil {
			r.countRequest(p.Name(), "success")
			resp.Provider = p.Name()
			resp.AttemptedProviders = attempted
			if r.cache != nil {
				if blob, merr := json.Marshal(resp); merr == nil {
					r.cache.Set(ctx, key, blob, cache.TTLShort)
				}
			}
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			r.countRequest(p.Name(), "transient")
			return nil, &ProviderFailure{Attempted: attempted, LastErr: ctx.Err()}
		}
		if !Transient(err) {
			r.countRequest(p.Name(), "permanent")
			r.log.Error("provider permanent failure, not falling back",
				"provider", p.Name(), "model", model, "error", err)
			return nil, &ProviderFailure{Attempted: attempted, LastErr: err, Permanent: true}
		}
		r.countRequest(p.Name(), "transient")
		r.log.Warn("provider transient failure, trying next",
			"provider", p.Name(), "model", model, "error", err)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured")
	}
	return nil, &ProviderFailure{Attempted: attempted, LastErr: lastErr}
}

func (r *Router) countRequest(provider, status string) {
	if r.met != nil {
		r.met.ProviderRequests.WithLabelValues(provider, status).Inc()
	}
}

// GenerateImage delegates to the configured image provider.
func (r *Router) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	if r.imageProv == nil {
		return nil, fmt.Errorf("no image provider configured")
	}
	return r.imageProv.GenerateImage(ctx, req)
}

// ImageProviderName names the image backend, or "" when none is set.
func (r *Router) ImageProviderName() string {
	if r.imageProv == nil {
		return ""
	}
	return r.imageProv.Name()
}
