// Package imagegen is the text-to-image request path. It runs separately
// from the text pipeline with its own permission gate, hourly rate limits,
// prompt validation, and retry policy.
package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/astra/internal/cache"
	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/platform"
	"github.com/nextlevelbuilder/astra/internal/providers"
	"github.com/nextlevelbuilder/astra/internal/store"
	"github.com/nextlevelbuilder/astra/internal/telemetry"
)

// Tier is the caller's permission level, resolved by the event layer from
// the author's roles.
type Tier int

const (
	TierUser Tier = iota
	TierModerator
	TierAdmin
)

const (
	maxPromptLen = 500
	minPromptLen = 3
	// maxAttempts is one initial call plus three retries, backing off
	// 2s, 4s, 6s between them.
	maxAttempts = 4
)

// Denial is a request rejected before or during generation. Message is
// safe to show the requesting user verbatim.
type Denial struct {
	Reason  string // "wrong_channel", "rate_limited", "prompt_rejected", "misconfigured", "unavailable"
	Message string
}

func (d *Denial) Error() string { return d.Reason + ": " + d.Message }

// Request is one image generation ask.
type Request struct {
	User    platform.UserID
	Guild   platform.GuildID
	Channel platform.ChannelID
	Prompt  string
	Tier    Tier
}

// Result is a completed generation.
type Result struct {
	URL      string
	Provider string
	Prompt   string // as sent: trimmed and truncated
}

type generator interface {
	GenerateImage(ctx context.Context, req providers.ImageRequest) (*providers.ImageResponse, error)
	ImageProviderName() string
}

// Service gates, rate-limits, and dispatches image requests.
type Service struct {
	cfg   config.ImageConfig
	gen   generator
	cache *cache.Cache
	st    *store.Store
	log   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds the image service. gen is typically the provider router.
func New(cfg config.ImageConfig, gen generator, c *cache.Cache, st *store.Store, log *slog.Logger) *Service {
	return &Service{
		cfg:   cfg,
		gen:   gen,
		cache: c,
		st:    st,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// hourlyLimit maps a tier to its request budget.
func (s *Service) hourlyLimit(tier Tier) int {
	switch tier {
	case TierAdmin:
		if s.cfg.AdminHourly > 0 {
			return s.cfg.AdminHourly
		}
		return 50
	case TierModerator:
		if s.cfg.ModeratorHourly > 0 {
			return s.cfg.ModeratorHourly
		}
		return 20
	default:
		if s.cfg.UserHourly > 0 {
			return s.cfg.UserHourly
		}
		return 5
	}
}

// rateWindow is the cached hourly counter for one user.
type rateWindow struct {
	Count int       `json:"count"`
	Start time.Time `json:"start"`
}

func rateKey(user platform.UserID) string {
	return fmt.Sprintf("imgrate:%d", user)
}

// checkRate reports whether the user has budget left, without consuming it.
func (s *Service) checkRate(ctx context.Context, user platform.UserID, limit int) bool {
	blob, ok := s.cache.Get(ctx, rateKey(user))
	if !ok {
		return true
	}
	var w rateWindow
	if err := json.Unmarshal(blob, &w); err != nil {
		return true
	}
	if s.now().Sub(w.Start) >= time.Hour {
		return true
	}
	return w.Count < limit
}

// consumeRate records one request against the user's hourly window.
func (s *Service) consumeRate(ctx context.Context, user platform.UserID) {
	now := s.now()
	w := rateWindow{Count: 0, Start: now}
	if blob, ok := s.cache.Get(ctx, rateKey(user)); ok {
		var prev rateWindow
		if err := json.Unmarshal(blob, &prev); err == nil && now.Sub(prev.Start) < time.Hour {
			w = prev
		}
	}
	w.Count++
	if blob, err := json.Marshal(w); err == nil {
		s.cache.Set(ctx, rateKey(user), blob, cache.TTLLong)
	}
}

// validatePrompt trims, bounds, and screens the prompt. Returns the prompt
// as it will be sent to the provider.
func (s *Service) validatePrompt(prompt string) (string, *Denial) {
	p := strings.TrimSpace(prompt)
	if len([]rune(p)) < minPromptLen {
		return "", &Denial{Reason: "prompt_rejected", Message: "That prompt is too short — give me at least a few words to work with."}
	}
	if runes := []rune(p); len(runes) > maxPromptLen {
		p = string(runes[:maxPromptLen])
	}
	lower := strings.ToLower(p)
	for _, term := range s.cfg.PromptBlocklist {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return "", &Denial{Reason: "prompt_rejected", Message: "That prompt isn't something I can draw here."}
		}
	}
	return p, nil
}

// Generate runs the full image path. Denied requests (wrong channel, rate
// limit, invalid prompt) make no provider call and write no log row.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Tier == TierUser && s.cfg.DefaultChannel != 0 && uint64(req.Channel) != s.cfg.DefaultChannel {
		return nil, &Denial{
			Reason:  "wrong_channel",
			Message: fmt.Sprintf("Image requests only work in <#%d>. Head over there and ask again!", s.cfg.DefaultChannel),
		}
	}

	limit := s.hourlyLimit(req.Tier)
	if !s.checkRate(ctx, req.User, limit) {
		return nil, &Denial{
			Reason:  "rate_limited",
			Message: fmt.Sprintf("You've hit your hourly image limit (%d). Try again in a bit.", limit),
		}
	}

	prompt, denial := s.validatePrompt(req.Prompt)
	if denial != nil {
		return nil, denial
	}

	s.consumeRate(ctx, req.User)

	resp, err := s.generateWithRetry(ctx, prompt)
	row := &store.ImageGeneration{
		UserID:    req.User,
		ChannelID: req.Channel,
		Prompt:    prompt,
		Provider:  s.gen.ImageProviderName(),
		CreatedAt: s.now(),
	}
	if err != nil {
		row.Error = err.Error()
		if lerr := s.st.AppendImageGeneration(ctx, row); lerr != nil {
			s.log.Warn("image log write failed", "user", req.User, "error", lerr)
		}
		var httpErr *providers.HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusUnauthorized {
			s.log.Error("image provider rejected credentials", "provider", row.Provider)
			return nil, &Denial{Reason: "misconfigured", Message: "The image service is misconfigured. The admins have been notified."}
		}
		s.log.Warn("image generation failed", "user", req.User, "error", err)
		return nil, &Denial{Reason: "unavailable", Message: "The image service is unavailable right now. Try again later."}
	}

	row.Success = true
	row.ImageURL = resp.URL
	if lerr := s.st.AppendImageGeneration(ctx, row); lerr != nil {
		s.log.Warn("image log write failed", "user", req.User, "error", lerr)
	}
	return &Result{URL: resp.URL, Provider: resp.Provider, Prompt: prompt}, nil
}

// generateWithRetry calls the provider with linear backoff. Auth failures
// are never retried.
func (s *Service) generateWithRetry(ctx context.Context, prompt string) (resp *providers.ImageResponse, err error) {
	ctx, span := telemetry.Span(ctx, "imagegen.generate",
		attribute.String("image.provider", s.gen.ImageProviderName()))
	defer func() { telemetry.End(span, err) }()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := s.gen.GenerateImage(ctx, providers.ImageRequest{Prompt: prompt})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var httpErr *providers.HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusUnauthorized {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if attempt < maxAttempts {
			if serr := s.sleep(ctx, time.Duration(attempt)*2*time.Second); serr != nil {
				return nil, lastErr
			}
		}
	}
	return nil, fmt.Errorf("image generation failed after %d attempts: %w", maxAttempts, lastErr)
}
