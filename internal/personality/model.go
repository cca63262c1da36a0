package personality

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/astra/internal/platform"
)

// GuildRecord is a guild's persisted personality.
type GuildRecord struct {
	Guild     platform.GuildID
	Traits    Traits
	UpdatedBy platform.UserID
	UpdatedAt time.Time
}

// Store is the slice of the state store the personality model needs.
// Implemented by *store.Store.
type Store interface {
	// GuildPersonality returns nil, nil when the guild has no record yet.
	GuildPersonality(ctx context.Context, guild platform.GuildID) (*GuildRecord, error)
	PutGuildPersonality(ctx context.Context, rec *GuildRecord) error
	// UserOverride returns nil, nil when the pair has no override.
	UserOverride(ctx context.Context, user platform.UserID, guild platform.GuildID) (*Override, error)
	PutUserOverride(ctx context.Context, user platform.UserID, guild platform.GuildID, ov *Override) error
	ClearUserOverride(ctx context.Context, user platform.UserID, guild platform.GuildID) error
	// ActiveDeltas returns the deltas of active adaptation events for the
	// guild, ordered by ascending priority.
	ActiveDeltas(ctx context.Context, guild platform.GuildID) ([]Delta, error)
}

// Model resolves effective profiles and validates admin writes.
// It depends on the state store only.
type Model struct {
	store Store
}

func NewModel(store Store) *Model {
	return &Model{store: store}
}

// GuildTraits returns the guild's stored traits, or defaults if absent.
func (m *Model) GuildTraits(ctx context.Context, guild platform.GuildID) (Traits, error) {
	rec, err := m.store.GuildPersonality(ctx, guild)
	if err != nil {
		return Defaults(), err
	}
	if rec == nil {
		return Defaults(), nil
	}
	return rec.Traits, nil
}

// Effective resolves the profile for one request: guild base + non-nil
// override fields + active adaptation deltas in priority order.
// The result is deterministic given the same store state.
func (m *Model) Effective(ctx context.Context, user platform.UserID, guild platform.GuildID) (Traits, error) {
	base, err := m.GuildTraits(ctx, guild)
	if err != nil {
		// Store trouble degrades to defaults; the request still gets a profile.
		return Resolve(Defaults(), nil, nil), err
	}

	ov, err := m.store.UserOverride(ctx, user, guild)
	if err != nil {
		ov = nil
	}

	deltas, err := m.store.ActiveDeltas(ctx, guild)
	if err != nil {
		deltas = nil
	}

	return Resolve(base, ov, deltas), nil
}

// SetGuild validates and writes a partial trait update for a guild,
// incrementing the version. Returns the stored traits.
func (m *Model) SetGuild(ctx context.Context, guild platform.GuildID, p Partial, moderator platform.UserID) (Traits, error) {
	if err := p.Validate(); err != nil {
		return Traits{}, fmt.Errorf("set guild personality: %w", err)
	}

	cur, err := m.GuildTraits(ctx, guild)
	if err != nil {
		return Traits{}, err
	}

	next := cur.Merge(p)
	next.Version = cur.Version + 1

	rec := &GuildRecord{
		Guild:     guild,
		Traits:    next,
		UpdatedBy: moderator,
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.store.PutGuildPersonality(ctx, rec); err != nil {
		return Traits{}, err
	}
	return next, nil
}

// SetUserOverride replaces the override for a (user, guild) pair. Absent
// fields clear the per-field override; an all-nil partial clears the record.
func (m *Model) SetUserOverride(ctx context.Context, user platform.UserID, guild platform.GuildID, p Partial) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("set user override: %w", err)
	}

	ov := &Override{
		Humor:      p.Humor,
		Honesty:    p.Honesty,
		Formality:  p.Formality,
		Empathy:    p.Empathy,
		Strictness: p.Strictness,
		Initiative: p.Initiative,
	}
	if ov.Humor == nil && ov.Honesty == nil && ov.Formality == nil &&
		ov.Empathy == nil && ov.Strictness == nil && ov.Initiative == nil {
		return m.store.ClearUserOverride(ctx, user, guild)
	}
	return m.store.PutUserOverride(ctx, user, guild, ov)
}

// ClearUserOverride removes the override for a pair entirely.
func (m *Model) ClearUserOverride(ctx context.Context, user platform.UserID, guild platform.GuildID) error {
	return m.store.ClearUserOverride(ctx, user, guild)
}
