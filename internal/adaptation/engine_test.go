package adaptation

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nextlevelbuilder/astra/internal/personality"
	"github.com/nextlevelbuilder/astra/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, slog.Default(), 0, 0), st
}

func TestRuleTable(t *testing.T) {
	tests := []struct {
		signal string
		want   personality.Delta
		mode   personality.Mode
	}{
		{SignalRaidDetected, personality.Delta{Humor: -40, Formality: 20, Strictness: 40}, personality.ModeSecurity},
		{SignalSpamSpike, personality.Delta{Humor: -30, Strictness: 25, Initiative: 10}, personality.ModeSecurity},
		{SignalQuietHours, personality.Delta{Humor: -20, Formality: 15, Empathy: 10}, ""},
		{SignalConflictDetected, personality.Delta{Formality: 15, Empathy: 30, Strictness: 20}, personality.ModeEmpathy},
		{SignalLowEngagement, personality.Delta{Humor: 25, Empathy: 15, Initiative: 30}, ""},
		{SignalLinkSpike, personality.Delta{Honesty: 10, Strictness: 15}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.signal, func(t *testing.T) {
			d, ok := DeltaFor(tt.signal)
			if !ok {
				t.Fatalf("signal %q not in table", tt.signal)
			}
			if tt.mode == "" {
				if d.Mode != nil {
					t.Errorf("unexpected mode override %v", *d.Mode)
				}
			} else if d.Mode == nil || *d.Mode != tt.mode {
				t.Errorf("mode = %v, want %s", d.Mode, tt.mode)
			}
			d.Mode = nil
			if d != tt.want {
				t.Errorf("delta = %+v, want %+v", d, tt.want)
			}
		})
	}

	if _, ok := DeltaFor("nonsense"); ok {
		t.Error("unknown signal must not resolve")
	}
}

func TestAdapt_CooldownSuppresses(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	applied, err := e.Adapt(ctx, 1, SignalRaidDetected, map[string]any{"joins": 25}, "raid")
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("first adaptation should apply")
	}

	// Inside cooldown.
	e.now = func() time.Time { return base.Add(100 * time.Second) }
	applied, err = e.Adapt(ctx, 1, SignalSpamSpike, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("adaptation within cooldown should be suppressed")
	}

	// Other guilds are unaffected.
	applied, err = e.Adapt(ctx, 2, SignalSpamSpike, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Error("cooldown must be per guild")
	}

	// Past cooldown.
	e.now = func() time.Time { return base.Add(301 * time.Second) }
	applied, err = e.Adapt(ctx, 1, SignalSpamSpike, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Error("adaptation after cooldown should apply")
	}

	deltas, err := st.ActiveDeltas(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(deltas) != 2 {
		t.Errorf("active deltas = %d, want 2", len(deltas))
	}
}

func TestAdapt_UnknownSignal(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Adapt(context.Background(), 1, "mystery", nil, ""); err == nil {
		t.Error("expected error for unknown signal")
	}
}

func TestSweepExpired(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	if _, err := e.Adapt(ctx, 3, SignalQuietHours, nil, ""); err != nil {
		t.Fatal(err)
	}

	e.now = func() time.Time { return base.Add(31 * time.Minute) }
	if err := e.SweepExpired(ctx); err != nil {
		t.Fatal(err)
	}
	deltas, err := st.ActiveDeltas(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(deltas) != 0 {
		t.Errorf("expected no active deltas after sweep, got %d", len(deltas))
	}
}

func TestCancel(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Adapt(ctx, 4, SignalEventStart, nil, "community event"); err != nil {
		t.Fatal(err)
	}
	events, err := st.ListAdaptations(ctx, 4, store.AdaptationActive, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("active events = %d, want 1", len(events))
	}

	if err := e.Cancel(ctx, events[0].ID, 99); err != nil {
		t.Fatal(err)
	}
	events, err = st.ListAdaptations(ctx, 4, store.AdaptationActive, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Error("event should no longer be active after cancel")
	}
}
