package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/astra/internal/platform"
)

// CommunicationStyle buckets how a user tends to write.
type CommunicationStyle string

const (
	StyleCasual   CommunicationStyle = "casual"
	StyleFormal   CommunicationStyle = "formal"
	StyleBalanced CommunicationStyle = "balanced"
)

// LengthPreference is the user's observed preferred response length.
type LengthPreference string

const (
	LengthShort  LengthPreference = "short"
	LengthMedium LengthPreference = "medium"
	LengthLong   LengthPreference = "long"
)

// UserProfile is the per-(user, guild) behavioural profile.
// TrustScore and EngagementScore are always clamped; TotalInteractions is
// strictly non-decreasing.
type UserProfile struct {
	UserID  platform.UserID  `json:"user_id"`
	GuildID platform.GuildID `json:"guild_id"`

	TrustScore        float64            `json:"trust_score"`
	TotalInteractions int64              `json:"total_interactions"`
	AvgMessageLength  float64            `json:"avg_message_length"` // EMA
	PreferredTopics   map[string]float64 `json:"preferred_topics,omitempty"`
	Style             CommunicationStyle `json:"communication_style"`
	LengthPref        LengthPreference   `json:"response_length_preference"`
	EngagementScore   float64            `json:"engagement_score"`
	PunishmentLevel   int                `json:"punishment_level"`
	Quarantined       bool               `json:"is_quarantined"`
	UsesEmoji         bool               `json:"uses_emoji,omitempty"`
	LastInteraction   time.Time          `json:"last_interaction"`
}

// NewUserProfile returns a fresh profile with documented defaults.
func NewUserProfile(user platform.UserID, guild platform.GuildID) *UserProfile {
	return &UserProfile{
		UserID:          user,
		GuildID:         guild,
		TrustScore:      50.0,
		Style:           StyleBalanced,
		LengthPref:      LengthMedium,
		PreferredTopics: map[string]float64{},
	}
}

// Clamp enforces the profile invariants in place.
func (p *UserProfile) Clamp() {
	if p.TrustScore < 0 {
		p.TrustScore = 0
	}
	if p.TrustScore > 100 {
		p.TrustScore = 100
	}
	if p.EngagementScore < 0 {
		p.EngagementScore = 0
	}
	if p.EngagementScore > 1 {
		p.EngagementScore = 1
	}
}

// UserProfile loads a profile, returning a fresh default (not persisted)
// when the pair has none yet.
func (s *Store) UserProfile(ctx context.Context, user platform.UserID, guild platform.GuildID) (*UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT profile_blob FROM user_profiles WHERE user_id = ? AND guild_id = ?`,
		int64(user), int64(guild))

	var blob string
	err := row.Scan(&blob)
	if err == sql.ErrNoRows {
		return NewUserProfile(user, guild), nil
	}
	if err != nil {
		return nil, unavailable("get user profile", err)
	}

	var p UserProfile
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return nil, unavailable("decode user profile", err)
	}
	p.UserID = user
	p.GuildID = guild
	return &p, nil
}

// PutUserProfile upserts a profile after clamping its invariants.
func (s *Store) PutUserProfile(ctx context.Context, p *UserProfile) error {
	p.Clamp()
	blob, err := json.Marshal(p)
	if err != nil {
		return unavailable("encode user profile", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, guild_id, profile_blob)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id, guild_id) DO UPDATE SET profile_blob=excluded.profile_blob`,
		int64(p.UserID), int64(p.GuildID), string(blob),
	)
	if err != nil {
		return unavailable("put user profile", err)
	}
	return nil
}
