package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/astra/internal/convo"
	"github.com/nextlevelbuilder/astra/internal/platform"
)

func sessionID(key convo.SessionKey) string {
	return fmt.Sprintf("%d:%d:%d", key.Guild, key.Channel, key.User)
}

// LoadSession returns the stored window for a key, or (nil, nil) if none.
func (s *Store) LoadSession(ctx context.Context, key convo.SessionKey) (*convo.Window, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT window_blob FROM sessions WHERE session_id = ?`, sessionID(key))

	var blob string
	err := row.Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("load session", err)
	}
	var w convo.Window
	if err := json.Unmarshal([]byte(blob), &w); err != nil {
		return nil, unavailable("decode session", err)
	}
	return &w, nil
}

// SaveSession upserts a window. The personality snapshot taken at reply
// time rides along for debugging and is not read back.
func (s *Store) SaveSession(ctx context.Context, key convo.SessionKey, w *convo.Window, personalitySnapshot []byte) error {
	blob, err := json.Marshal(w)
	if err != nil {
		return unavailable("encode session", err)
	}
	var snap any
	if len(personalitySnapshot) > 0 {
		snap = string(personalitySnapshot)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions
		 (session_id, guild_id, channel_id, user_id, window_blob, personality_snapshot_blob, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET
		   window_blob=excluded.window_blob,
		   personality_snapshot_blob=excluded.personality_snapshot_blob,
		   last_updated=excluded.last_updated`,
		sessionID(key), int64(key.Guild), int64(key.Channel), int64(key.User),
		string(blob), snap, unixf(time.Now().UTC()),
	)
	if err != nil {
		return unavailable("save session", err)
	}
	return nil
}

// DeleteGuildSessions removes all sessions for a guild.
func (s *Store) DeleteGuildSessions(ctx context.Context, guild platform.GuildID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE guild_id = ?`, int64(guild))
	if err != nil {
		return unavailable("delete guild sessions", err)
	}
	return nil
}
