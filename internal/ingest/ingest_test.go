package ingest

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/astra/internal/adaptation"
	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/platform"
	"github.com/nextlevelbuilder/astra/internal/safety"
	"github.com/nextlevelbuilder/astra/internal/store"
)

type fakeAnalyzer struct {
	mu     sync.Mutex
	calls  int
	result *safety.Result
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, ev platform.Event) (*safety.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResponder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeResponder) Process(ctx context.Context, ev platform.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type actionCall struct {
	kind string
	user platform.UserID
	dur  time.Duration
}

type recordingActions struct {
	mu    sync.Mutex
	calls []actionCall
	dmErr error
}

func (r *recordingActions) record(kind string, user platform.UserID, dur time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, actionCall{kind, user, dur})
}

func (r *recordingActions) SendMessage(ctx context.Context, ch platform.ChannelID, content string, replyTo platform.MessageID) error {
	r.record("message", 0, 0)
	return nil
}
func (r *recordingActions) SendDM(ctx context.Context, u platform.UserID, content string) error {
	r.record("dm", u, 0)
	return r.dmErr
}
func (r *recordingActions) ApplyTimeout(ctx context.Context, u platform.UserID, g platform.GuildID, d time.Duration) error {
	r.record("timeout", u, d)
	return nil
}
func (r *recordingActions) ApplyBan(ctx context.Context, u platform.UserID, g platform.GuildID, d time.Duration, reason string) error {
	r.record("ban", u, d)
	return nil
}
func (r *recordingActions) ApplyKick(ctx context.Context, u platform.UserID, g platform.GuildID, reason string) error {
	r.record("kick", u, 0)
	return nil
}
func (r *recordingActions) AddRole(ctx context.Context, u platform.UserID, g platform.GuildID, role uint64) error {
	return nil
}
func (r *recordingActions) RemoveRole(ctx context.Context, u platform.UserID, g platform.GuildID, role uint64) error {
	return nil
}

func (r *recordingActions) byKind(kind string) []actionCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []actionCall
	for _, c := range r.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type signalRecorder struct {
	mu      sync.Mutex
	signals []string
}

func (s *signalRecorder) fn(guild platform.GuildID, signal string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, signal)
}

func (s *signalRecorder) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signals...)
}

func newIngest(t *testing.T, filter Analyzer, responder Responder, actions platform.Actions, sig SignalFunc) *Ingest {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(config.Default(), filter, responder, actions, st, sig, slog.Default(), nil)
}

func msgEvent(guild platform.GuildID, user platform.UserID, content string) platform.Event {
	return platform.Event{
		Type:      platform.EventMessageCreate,
		Timestamp: time.Now().UTC(),
		GuildID:   guild,
		ChannelID: 1,
		MessageID: 2,
		AuthorID:  user,
		Content:   content,
	}
}

func TestHandle_CleanMessageReachesPipeline(t *testing.T) {
	filter := &fakeAnalyzer{}
	resp := &fakeResponder{}
	in := newIngest(t, filter, resp, &recordingActions{}, nil)

	in.handle(context.Background(), msgEvent(1, 10, "hello"))
	if filter.callCount() != 1 {
		t.Error("safety must run first")
	}
	if resp.callCount() != 1 {
		t.Error("clean message must reach the pipeline")
	}
}

func TestHandle_SuppressionSkipsPipeline(t *testing.T) {
	filter := &fakeAnalyzer{result: &safety.Result{
		TargetUser:  10,
		Violations:  []store.Violation{{ID: 1, StaffReviewed: true, Severity: store.SeverityMedium}},
		Recommended: &safety.Action{Kind: safety.ActionMute, Duration: 3600 * time.Second},
	}}
	resp := &fakeResponder{}
	actions := &recordingActions{}
	in := newIngest(t, filter, resp, actions, nil)

	in.handle(context.Background(), msgEvent(1, 10, "BUY NOW"))
	if resp.callCount() != 0 {
		t.Error("suppressed message must not reach the pipeline")
	}
	timeouts := actions.byKind("timeout")
	if len(timeouts) != 1 || timeouts[0].user != 10 || timeouts[0].dur != 3600*time.Second {
		t.Errorf("timeouts = %+v, want one 3600s timeout for user 10", timeouts)
	}
}

func TestHandle_UnreviewedActionNotApplied(t *testing.T) {
	// Confidence gate failed: action recorded for staff, nothing enforced.
	filter := &fakeAnalyzer{result: &safety.Result{
		TargetUser:  10,
		Violations:  []store.Violation{{ID: 1, StaffReviewed: false, Severity: store.SeverityMedium}},
		Recommended: &safety.Action{Kind: safety.ActionMute, Duration: 3600 * time.Second},
	}}
	resp := &fakeResponder{}
	actions := &recordingActions{}
	in := newIngest(t, filter, resp, actions, nil)

	in.handle(context.Background(), msgEvent(1, 10, "spam spam"))
	if len(actions.byKind("timeout")) != 0 {
		t.Error("unreviewed action must not be enforced")
	}
	if resp.callCount() != 0 {
		t.Error("a suppressing recommendation still skips the pipeline")
	}
}

func TestHandle_WarningSendsDM(t *testing.T) {
	filter := &fakeAnalyzer{result: &safety.Result{
		TargetUser:  11,
		Violations:  []store.Violation{{ID: 2, StaffReviewed: true, Severity: store.SeverityLow}},
		Recommended: &safety.Action{Kind: safety.ActionWarning},
	}}
	resp := &fakeResponder{}
	actions := &recordingActions{}
	in := newIngest(t, filter, resp, actions, nil)

	in.handle(context.Background(), msgEvent(1, 11, "SHOUTING A BIT"))
	if dms := actions.byKind("dm"); len(dms) != 1 || dms[0].user != 11 {
		t.Errorf("dms = %+v, want one warning DM", dms)
	}
	if resp.callCount() != 1 {
		t.Error("a warning does not suppress the reply")
	}
}

func TestSubmit_OverflowRunsInlineSafety(t *testing.T) {
	filter := &fakeAnalyzer{}
	resp := &fakeResponder{}
	cfg := config.Default()
	cfg.Ingest.QueueSize = 1

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	in := New(cfg, filter, resp, &recordingActions{}, st, nil, slog.Default(), nil)

	ctx := context.Background()
	// No workers running: first fills the queue, the rest overflow.
	for i := 0; i < 4; i++ {
		in.Submit(ctx, msgEvent(1, 12, "overflow"))
	}
	if len(in.queue) != 1 {
		t.Fatalf("queue depth = %d, want 1", len(in.queue))
	}
	if filter.callCount() != 3 {
		t.Errorf("inline safety calls = %d, want 3 (one per dropped event)", filter.callCount())
	}
}

func TestSubmit_InlineBudgetBounds(t *testing.T) {
	filter := &fakeAnalyzer{}
	cfg := config.Default()
	cfg.Ingest.QueueSize = 1
	cfg.Safety.InlineBudget = 2

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	in := New(cfg, filter, &fakeResponder{}, &recordingActions{}, st, nil, slog.Default(), nil)
	base := time.Now()
	in.now = func() time.Time { return base }

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		in.Submit(ctx, msgEvent(1, 12, "overflow"))
	}
	if filter.callCount() != 2 {
		t.Errorf("inline safety calls = %d, want 2 (budget)", filter.callCount())
	}

	// Budget refills after a second.
	in.now = func() time.Time { return base.Add(1100 * time.Millisecond) }
	in.Submit(ctx, msgEvent(1, 12, "overflow"))
	if filter.callCount() != 3 {
		t.Errorf("inline safety calls = %d, want 3 after refill", filter.callCount())
	}
}

func TestObserve_RaidDetection(t *testing.T) {
	sig := &signalRecorder{}
	in := newIngest(t, &fakeAnalyzer{}, &fakeResponder{}, &recordingActions{}, sig.fn)
	base := time.Now()
	in.now = func() time.Time { return base }

	join := func(user platform.UserID, age time.Duration) platform.Event {
		return platform.Event{
			Type:            platform.EventMemberJoin,
			Timestamp:       base,
			GuildID:         5,
			AuthorID:        user,
			AuthorCreatedAt: base.Add(-age),
		}
	}

	// 24 young joins: below threshold, no signal.
	for i := 0; i < 24; i++ {
		in.observe(join(platform.UserID(100+i), time.Hour))
	}
	if got := sig.list(); len(got) != 0 {
		t.Fatalf("signals = %v, want none below threshold", got)
	}

	// Old accounts don't count toward the raid threshold.
	in.observe(join(900, 48*time.Hour))
	if got := sig.list(); len(got) != 0 {
		t.Fatalf("signals = %v, old account must not trip raid", got)
	}

	// The 25th young join trips it, exactly once.
	in.observe(join(125, time.Hour))
	in.observe(join(126, time.Hour))
	got := sig.list()
	if len(got) != 1 || got[0] != adaptation.SignalRaidDetected {
		t.Errorf("signals = %v, want exactly one raid_detected", got)
	}
}

func TestObserve_LinkSpike(t *testing.T) {
	sig := &signalRecorder{}
	in := newIngest(t, &fakeAnalyzer{}, &fakeResponder{}, &recordingActions{}, sig.fn)
	base := time.Now()
	in.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		in.observe(msgEvent(5, platform.UserID(100+i), "look https://example.com/deal"))
	}
	got := sig.list()
	if len(got) != 1 || got[0] != adaptation.SignalLinkSpike {
		t.Errorf("signals = %v, want one link_spike", got)
	}
}

func TestEvaluateSchedules(t *testing.T) {
	sig := &signalRecorder{}
	in := newIngest(t, &fakeAnalyzer{}, &fakeResponder{}, &recordingActions{}, sig.fn)

	// Seed activity so guild 5 is known, then let the rate fall to zero.
	daytime := time.Date(2026, 8, 24, 15, 0, 0, 0, time.Local)
	in.now = func() time.Time { return daytime }
	in.observe(msgEvent(5, 1, "afternoon chatter"))

	in.now = func() time.Time { return daytime.Add(5 * time.Minute) }
	in.evaluateSchedules()
	got := sig.list()
	if len(got) != 1 || got[0] != adaptation.SignalLowEngagement {
		t.Fatalf("signals = %v, want low_engagement during the day", got)
	}

	// Inside quiet hours the quiet signal fires instead.
	night := time.Date(2026, 8, 24, 23, 0, 0, 0, time.Local)
	in.now = func() time.Time { return night }
	in.evaluateSchedules()
	got = sig.list()
	if len(got) != 2 || got[1] != adaptation.SignalQuietHours {
		t.Errorf("signals = %v, want quiet_hours appended", got)
	}
}

func TestInQuietHours(t *testing.T) {
	start := 22 * 60
	end := 6 * 60
	cases := []struct {
		hour int
		want bool
	}{
		{21, false}, {22, true}, {23, true}, {0, true}, {5, true}, {6, false}, {12, false},
	}
	for _, tc := range cases {
		now := time.Date(2026, 8, 24, tc.hour, 30, 0, 0, time.UTC)
		if got := inQuietHours(now, start, end); got != tc.want {
			t.Errorf("inQuietHours(%02d:30) = %v, want %v", tc.hour, got, tc.want)
		}
	}
}

func TestWelcomeQueue(t *testing.T) {
	actions := &recordingActions{}
	cfg := config.Default().WelcomeDM
	cfg.Enabled = true
	w := newWelcomeQueue(cfg, actions, slog.Default(), nil)
	w.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.run(ctx)
		close(done)
	}()

	w.schedule(platform.Event{Type: platform.EventMemberJoin, GuildID: 5, AuthorID: 77}, time.Now())

	deadline := time.After(2 * time.Second)
	for len(actions.byKind("dm")) == 0 {
		select {
		case <-deadline:
			t.Fatal("welcome DM never sent")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	dms := actions.byKind("dm")
	if dms[0].user != 77 {
		t.Errorf("dm user = %d, want 77", dms[0].user)
	}
}

func TestWelcomeQueue_DisabledSchedulesNothing(t *testing.T) {
	w := newWelcomeQueue(config.WelcomeDMConfig{Enabled: false}, &recordingActions{}, slog.Default(), nil)
	w.schedule(platform.Event{Type: platform.EventMemberJoin, GuildID: 5, AuthorID: 77}, time.Now())
	if len(w.jobs) != 0 {
		t.Error("disabled queue must not accept jobs")
	}
}

func TestWelcomeSend_ForbiddenNotRetried(t *testing.T) {
	actions := &recordingActions{
		dmErr: &platform.ActionError{Kind: platform.ErrForbidden, Op: "sendDM"},
	}
	w := newWelcomeQueue(config.WelcomeDMConfig{Enabled: true}, actions, slog.Default(), nil)
	w.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	w.send(context.Background(), welcomeJob{user: 88, guild: 5})
	if got := len(actions.byKind("dm")); got != 1 {
		t.Errorf("dm attempts = %d, want 1 (forbidden is permanent)", got)
	}
}

func TestWelcomeSend_TransientRetriedOnce(t *testing.T) {
	actions := &recordingActions{
		dmErr: &platform.ActionError{Kind: platform.ErrNetwork, Op: "sendDM"},
	}
	w := newWelcomeQueue(config.WelcomeDMConfig{Enabled: true}, actions, slog.Default(), nil)
	w.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	w.send(context.Background(), welcomeJob{user: 88, guild: 5})
	if got := len(actions.byKind("dm")); got != 2 {
		t.Errorf("dm attempts = %d, want 2 (single retry)", got)
	}
}
