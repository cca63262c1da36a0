package imagegen

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/astra/internal/cache"
	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/providers"
	"github.com/nextlevelbuilder/astra/internal/store"
)

type fakeGen struct {
	calls int
	errs  []error // consumed per call; nil entry means success
	url   string
}

func (f *fakeGen) GenerateImage(ctx context.Context, req providers.ImageRequest) (*providers.ImageResponse, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	return &providers.ImageResponse{URL: f.url, Provider: "fake"}, nil
}

func (f *fakeGen) ImageProviderName() string { return "fake" }

func newService(t *testing.T, cfg config.ImageConfig, gen *fakeGen) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	s := New(cfg, gen, cache.New(100, nil, slog.Default(), nil), st, slog.Default())
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return s, st
}

func baseConfig() config.ImageConfig {
	return config.ImageConfig{
		DefaultChannel:  100,
		UserHourly:      5,
		ModeratorHourly: 20,
		AdminHourly:     50,
		PromptBlocklist: []string{"forbidden"},
	}
}

func TestGenerate_Success(t *testing.T) {
	gen := &fakeGen{url: "https://img.example/a.png"}
	s, st := newService(t, baseConfig(), gen)
	ctx := context.Background()

	res, err := s.Generate(ctx, Request{User: 1, Channel: 100, Prompt: "a lighthouse at dusk"})
	if err != nil {
		t.Fatal(err)
	}
	if res.URL != gen.url {
		t.Errorf("url = %q", res.URL)
	}
	n, err := st.CountImageGenerationsSince(ctx, 1, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("logged rows = %d, want 1", n)
	}
}

func TestGenerate_WrongChannelDenied(t *testing.T) {
	gen := &fakeGen{url: "x"}
	s, st := newService(t, baseConfig(), gen)
	ctx := context.Background()

	_, err := s.Generate(ctx, Request{User: 2, Channel: 999, Prompt: "a castle"})
	var denial *Denial
	if !errors.As(err, &denial) || denial.Reason != "wrong_channel" {
		t.Fatalf("err = %v, want wrong_channel denial", err)
	}
	if !strings.Contains(denial.Message, "100") {
		t.Errorf("denial message %q does not name the configured channel", denial.Message)
	}
	if gen.calls != 0 {
		t.Error("denied request must not reach the provider")
	}
	if n, _ := st.CountImageGenerationsSince(ctx, 2, time.Now().Add(-time.Hour)); n != 0 {
		t.Error("denied request must not be logged")
	}

	// Moderators bypass the channel gate.
	if _, err := s.Generate(ctx, Request{User: 3, Channel: 999, Prompt: "a castle", Tier: TierModerator}); err != nil {
		t.Errorf("moderator in another channel: %v", err)
	}
}

func TestGenerate_HourlyRateLimit(t *testing.T) {
	gen := &fakeGen{url: "x"}
	cfg := baseConfig()
	cfg.UserHourly = 2
	s, _ := newService(t, cfg, gen)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.Generate(ctx, Request{User: 4, Channel: 100, Prompt: "a fox"}); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	_, err := s.Generate(ctx, Request{User: 4, Channel: 100, Prompt: "a fox"})
	var denial *Denial
	if !errors.As(err, &denial) || denial.Reason != "rate_limited" {
		t.Fatalf("err = %v, want rate_limited denial", err)
	}
	if gen.calls != 2 {
		t.Errorf("provider calls = %d, want 2", gen.calls)
	}

	// The window rolls over after an hour.
	s.now = func() time.Time { return time.Now().Add(61 * time.Minute) }
	if _, err := s.Generate(ctx, Request{User: 4, Channel: 100, Prompt: "a fox"}); err != nil {
		t.Errorf("after window rollover: %v", err)
	}
}

func TestGenerate_PromptValidation(t *testing.T) {
	gen := &fakeGen{url: "x"}
	s, _ := newService(t, baseConfig(), gen)
	ctx := context.Background()

	for _, prompt := range []string{"  a ", "draw something forbidden please"} {
		_, err := s.Generate(ctx, Request{User: 5, Channel: 100, Prompt: prompt})
		var denial *Denial
		if !errors.As(err, &denial) || denial.Reason != "prompt_rejected" {
			t.Errorf("prompt %q: err = %v, want prompt_rejected", prompt, err)
		}
	}
	if gen.calls != 0 {
		t.Error("rejected prompts must not reach the provider")
	}

	// Long prompts are truncated, not rejected.
	long := strings.Repeat("x", 600)
	res, err := s.Generate(ctx, Request{User: 5, Channel: 100, Prompt: long})
	if err != nil {
		t.Fatal(err)
	}
	if len([]rune(res.Prompt)) != maxPromptLen {
		t.Errorf("prompt length = %d, want %d", len([]rune(res.Prompt)), maxPromptLen)
	}
}

func TestGenerate_RetriesTransient(t *testing.T) {
	gen := &fakeGen{
		url:  "https://img.example/b.png",
		errs: []error{&providers.HTTPError{Status: 500}, &providers.HTTPError{Status: 503}, nil},
	}
	s, _ := newService(t, baseConfig(), gen)

	res, err := s.Generate(context.Background(), Request{User: 6, Channel: 100, Prompt: "a harbor"})
	if err != nil {
		t.Fatal(err)
	}
	if gen.calls != 3 {
		t.Errorf("provider calls = %d, want 3", gen.calls)
	}
	if res.URL != gen.url {
		t.Errorf("url = %q", res.URL)
	}
}

func TestGenerate_RetryBudgetAndBackoff(t *testing.T) {
	gen := &fakeGen{
		errs: []error{
			&providers.HTTPError{Status: 500},
			&providers.HTTPError{Status: 503},
			&providers.HTTPError{Status: 500},
			&providers.HTTPError{Status: 503},
		},
	}
	s, _ := newService(t, baseConfig(), gen)
	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := s.Generate(context.Background(), Request{User: 8, Channel: 100, Prompt: "a glacier"})
	var denial *Denial
	if !errors.As(err, &denial) || denial.Reason != "unavailable" {
		t.Fatalf("err = %v, want unavailable denial", err)
	}
	// One initial call plus three retries, backing off between them.
	if gen.calls != 4 {
		t.Errorf("provider calls = %d, want 4", gen.calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("backoffs = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("backoff %d = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestGenerate_AuthNotRetried(t *testing.T) {
	gen := &fakeGen{errs: []error{&providers.HTTPError{Status: 401}}}
	s, st := newService(t, baseConfig(), gen)
	ctx := context.Background()

	_, err := s.Generate(ctx, Request{User: 7, Channel: 100, Prompt: "a bridge"})
	var denial *Denial
	if !errors.As(err, &denial) || denial.Reason != "misconfigured" {
		t.Fatalf("err = %v, want misconfigured denial", err)
	}
	if gen.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (auth errors are not retried)", gen.calls)
	}
	// The failed attempt is still logged.
	if n, _ := st.CountImageGenerationsSince(ctx, 7, time.Now().Add(-time.Hour)); n != 1 {
		t.Error("failed attempt should be logged")
	}
}
