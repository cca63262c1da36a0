package adaptation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/astra/internal/platform"
	"github.com/nextlevelbuilder/astra/internal/store"
)

// DefaultCooldown is the minimum gap between adaptations per guild.
const DefaultCooldown = 300 * time.Second

// DefaultValidity bounds how long an adaptation stays active.
const DefaultValidity = 30 * time.Minute

const autoAppliedBy = "auto-adapt"

// Engine applies rule-table deltas as stored adaptation events. The
// per-guild cooldown is tracked in memory and seeded from the store so a
// restart does not reset it.
type Engine struct {
	store    *store.Store
	log      *slog.Logger
	cooldown time.Duration
	validity time.Duration

	mu       sync.Mutex
	lastByGD map[platform.GuildID]time.Time

	now func() time.Time
}

// New builds an engine. Zero cooldown or validity select the defaults.
func New(st *store.Store, log *slog.Logger, cooldown, validity time.Duration) *Engine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Engine{
		store:    st,
		log:      log,
		cooldown: cooldown,
		validity: validity,
		lastByGD: make(map[platform.GuildID]time.Time),
		now:      time.Now,
	}
}

func (e *Engine) lastAdaptation(ctx context.Context, guild platform.GuildID) time.Time {
	e.mu.Lock()
	last, ok := e.lastByGD[guild]
	e.mu.Unlock()
	if ok {
		return last
	}
	at, err := e.store.LastAdaptationAt(ctx, guild)
	if err != nil {
		e.log.Warn("cooldown lookup failed, allowing adaptation", "guild", guild, "error", err)
		return time.Time{}
	}
	e.mu.Lock()
	e.lastByGD[guild] = at
	e.mu.Unlock()
	return at
}

// Adapt applies the rule delta for signal to a guild. Returns false when
// the signal is unknown or the guild is still inside its cooldown.
func (e *Engine) Adapt(ctx context.Context, guild platform.GuildID, signal string, payload map[string]any, reason string) (bool, error) {
	delta, ok := DeltaFor(signal)
	if !ok {
		return false, fmt.Errorf("unknown adaptation signal %q", signal)
	}

	now := e.now().UTC()
	if last := e.lastAdaptation(ctx, guild); !last.IsZero() && now.Sub(last) < e.cooldown {
		e.log.Debug("adaptation suppressed by cooldown",
			"guild", guild, "signal", signal, "since_last", now.Sub(last))
		return false, nil
	}

	ev := &store.AdaptationEvent{
		ID:        uuid.NewString(),
		GuildID:   guild,
		Signal:    signal,
		Payload:   payload,
		Delta:     delta,
		AppliedAt: now,
		ExpiresAt: now.Add(e.validity),
		Status:    store.AdaptationActive,
		Priority:  50,
		Reason:    reason,
		AppliedBy: autoAppliedBy,
	}
	if err := e.store.InsertAdaptation(ctx, ev); err != nil {
		return false, fmt.Errorf("apply adaptation: %w", err)
	}

	e.mu.Lock()
	e.lastByGD[guild] = now
	e.mu.Unlock()

	e.log.Info("adaptation applied",
		"guild", guild, "signal", signal, "event", ev.ID, "expires_at", ev.ExpiresAt)
	return true, nil
}

// Cancel marks an event cancelled on behalf of a moderator.
func (e *Engine) Cancel(ctx context.Context, eventID string, moderator platform.UserID) error {
	if err := e.store.SetAdaptationStatus(ctx, eventID, store.AdaptationCancelled); err != nil {
		return fmt.Errorf("cancel adaptation: %w", err)
	}
	e.log.Info("adaptation cancelled", "event", eventID, "moderator", moderator)
	return nil
}

// SweepExpired transitions past-expiry active events to expired. The core
// runs this every minute.
func (e *Engine) SweepExpired(ctx context.Context) error {
	n, err := e.store.ExpireAdaptations(ctx, e.now().UTC())
	if err != nil {
		return fmt.Errorf("expire adaptations: %w", err)
	}
	if n > 0 {
		e.log.Debug("adaptations expired", "count", n)
	}
	return nil
}
