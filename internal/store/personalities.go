package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/astra/internal/personality"
	"github.com/nextlevelbuilder/astra/internal/platform"
)

// GuildPersonality returns the stored traits for a guild, or nil if none.
func (s *Store) GuildPersonality(ctx context.Context, guild platform.GuildID) (*personality.GuildRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT humor, honesty, formality, empathy, strictness, initiative, mode, version, updated_by, updated_at
		 FROM guild_personalities WHERE guild_id = ?`, int64(guild))

	var rec personality.GuildRecord
	var mode string
	var updatedBy int64
	var updatedAt float64
	err := row.Scan(
		&rec.Traits.Humor, &rec.Traits.Honesty, &rec.Traits.Formality,
		&rec.Traits.Empathy, &rec.Traits.Strictness, &rec.Traits.Initiative,
		&mode, &rec.Traits.Version, &updatedBy, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get guild personality", err)
	}
	rec.Guild = guild
	rec.Traits.Mode = personality.Mode(mode)
	rec.UpdatedBy = platform.UserID(updatedBy)
	rec.UpdatedAt = fromUnixf(updatedAt)
	return &rec, nil
}

// PutGuildPersonality upserts a guild's traits as given (the personality
// model owns version increments).
func (s *Store) PutGuildPersonality(ctx context.Context, rec *personality.GuildRecord) error {
	t := rec.Traits.Clamped()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_personalities
		 (guild_id, humor, honesty, formality, empathy, strictness, initiative, mode, version, updated_by, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (guild_id) DO UPDATE SET
		   humor=excluded.humor, honesty=excluded.honesty, formality=excluded.formality,
		   empathy=excluded.empathy, strictness=excluded.strictness, initiative=excluded.initiative,
		   mode=excluded.mode, version=excluded.version,
		   updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		int64(rec.Guild), t.Humor, t.Honesty, t.Formality, t.Empathy, t.Strictness, t.Initiative,
		string(t.Mode), t.Version, int64(rec.UpdatedBy), unixf(rec.UpdatedAt),
	)
	if err != nil {
		return unavailable("put guild personality", err)
	}
	return nil
}

// DeleteGuildPersonality removes a guild's record (guild removal lifecycle).
func (s *Store) DeleteGuildPersonality(ctx context.Context, guild platform.GuildID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM guild_personalities WHERE guild_id = ?`, int64(guild))
	if err != nil {
		return unavailable("delete guild personality", err)
	}
	return nil
}

// UserOverride returns the override for a pair, or nil if none.
func (s *Store) UserOverride(ctx context.Context, user platform.UserID, guild platform.GuildID) (*personality.Override, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT humor, honesty, formality, empathy, strictness, initiative
		 FROM user_overrides WHERE user_id = ? AND guild_id = ?`,
		int64(user), int64(guild))

	var ov personality.Override
	err := row.Scan(&ov.Humor, &ov.Honesty, &ov.Formality, &ov.Empathy, &ov.Strictness, &ov.Initiative)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get user override", err)
	}
	return &ov, nil
}

// PutUserOverride upserts the override for a pair.
func (s *Store) PutUserOverride(ctx context.Context, user platform.UserID, guild platform.GuildID, ov *personality.Override) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_overrides
		 (user_id, guild_id, humor, honesty, formality, empathy, strictness, initiative, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, guild_id) DO UPDATE SET
		   humor=excluded.humor, honesty=excluded.honesty, formality=excluded.formality,
		   empathy=excluded.empathy, strictness=excluded.strictness, initiative=excluded.initiative,
		   updated_at=excluded.updated_at`,
		int64(user), int64(guild),
		ov.Humor, ov.Honesty, ov.Formality, ov.Empathy, ov.Strictness, ov.Initiative,
		unixf(time.Now().UTC()),
	)
	if err != nil {
		return unavailable("put user override", err)
	}
	return nil
}

// ClearUserOverride deletes the override for a pair.
func (s *Store) ClearUserOverride(ctx context.Context, user platform.UserID, guild platform.GuildID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_overrides WHERE user_id = ? AND guild_id = ?`,
		int64(user), int64(guild))
	if err != nil {
		return unavailable("clear user override", err)
	}
	return nil
}
