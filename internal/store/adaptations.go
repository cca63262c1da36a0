package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/astra/internal/personality"
	"github.com/nextlevelbuilder/astra/internal/platform"
)

// Adaptation event lifecycle states.
const (
	AdaptationActive    = "active"
	AdaptationExpired   = "expired"
	AdaptationCancelled = "cancelled"
)

// AdaptationEvent is one applied trait shift with its validity window.
type AdaptationEvent struct {
	ID        string
	GuildID   platform.GuildID
	Signal    string
	Payload   map[string]any
	Delta     personality.Delta
	AppliedAt time.Time
	ExpiresAt time.Time
	Status    string
	Priority  int
	Reason    string
	AppliedBy string
}

// InsertAdaptation records a new event.
func (s *Store) InsertAdaptation(ctx context.Context, ev *AdaptationEvent) error {
	delta, err := json.Marshal(ev.Delta)
	if err != nil {
		return unavailable("encode adaptation delta", err)
	}
	var payload any
	if len(ev.Payload) > 0 {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return unavailable("encode adaptation payload", err)
		}
		payload = string(b)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO adaptation_events
		 (id, guild_id, event_type, payload_blob, delta_blob, applied_at, expires_at,
		  status, priority, reason, applied_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, int64(ev.GuildID), ev.Signal, payload, string(delta),
		unixf(ev.AppliedAt), unixf(ev.ExpiresAt),
		ev.Status, ev.Priority, ev.Reason, ev.AppliedBy,
	)
	if err != nil {
		return unavailable("insert adaptation", err)
	}
	return nil
}

// SetAdaptationStatus transitions an event's lifecycle state.
func (s *Store) SetAdaptationStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE adaptation_events SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return unavailable("set adaptation status", err)
	}
	return nil
}

// LastAdaptationAt returns when the guild last had an event applied, for
// cooldown checks. Zero time if none.
func (s *Store) LastAdaptationAt(ctx context.Context, guild platform.GuildID) (time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(applied_at), 0) FROM adaptation_events WHERE guild_id = ?`,
		int64(guild))
	var at float64
	if err := row.Scan(&at); err != nil {
		return time.Time{}, unavailable("last adaptation", err)
	}
	if at == 0 {
		return time.Time{}, nil
	}
	return fromUnixf(at), nil
}

// ExpireAdaptations marks active events past their expiry as expired and
// reports how many changed.
func (s *Store) ExpireAdaptations(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE adaptation_events SET status = ?
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		AdaptationExpired, AdaptationActive, unixf(now))
	if err != nil {
		return 0, unavailable("expire adaptations", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ActiveDeltas returns the deltas of active unexpired events for a guild,
// ordered by priority then application time so later shifts win ties.
func (s *Store) ActiveDeltas(ctx context.Context, guild platform.GuildID) ([]personality.Delta, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT delta_blob FROM adaptation_events
		 WHERE guild_id = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY priority ASC, applied_at ASC`,
		int64(guild), AdaptationActive, unixf(time.Now().UTC()))
	if err != nil {
		return nil, unavailable("active deltas", err)
	}
	defer rows.Close()

	var out []personality.Delta
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, unavailable("scan delta", err)
		}
		var d personality.Delta
		if err := json.Unmarshal([]byte(blob), &d); err != nil {
			return nil, unavailable("decode delta", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListAdaptations returns a guild's events newest first, optionally
// filtered by status ("" means all).
func (s *Store) ListAdaptations(ctx context.Context, guild platform.GuildID, status string, limit int) ([]AdaptationEvent, error) {
	q := `SELECT id, guild_id, event_type, payload_blob, delta_blob, applied_at,
	             expires_at, status, priority, reason, applied_by
	      FROM adaptation_events WHERE guild_id = ?`
	args := []any{int64(guild)}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY applied_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable("list adaptations", err)
	}
	defer rows.Close()

	var out []AdaptationEvent
	for rows.Next() {
		var ev AdaptationEvent
		var guildID int64
		var payload, reason *string
		var delta string
		var applied float64
		var expires *float64
		if err := rows.Scan(&ev.ID, &guildID, &ev.Signal, &payload, &delta,
			&applied, &expires, &ev.Status, &ev.Priority, &reason, &ev.AppliedBy); err != nil {
			return nil, unavailable("scan adaptation", err)
		}
		ev.GuildID = platform.GuildID(guildID)
		ev.AppliedAt = fromUnixf(applied)
		if expires != nil {
			ev.ExpiresAt = fromUnixf(*expires)
		}
		if reason != nil {
			ev.Reason = *reason
		}
		if payload != nil && *payload != "" {
			_ = json.Unmarshal([]byte(*payload), &ev.Payload)
		}
		_ = json.Unmarshal([]byte(delta), &ev.Delta)
		out = append(out, ev)
	}
	return out, rows.Err()
}
