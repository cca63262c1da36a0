package store

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/astra/internal/platform"
)

// ImageGeneration is one logged image request, successful or not.
type ImageGeneration struct {
	ID        int64
	UserID    platform.UserID
	ChannelID platform.ChannelID
	Prompt    string
	Provider  string
	Success   bool
	Error     string
	ImageURL  string
	CreatedAt time.Time
}

// AppendImageGeneration logs an image request outcome.
func (s *Store) AppendImageGeneration(ctx context.Context, g *ImageGeneration) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO image_generations
		 (user_id, channel_id, prompt, provider, success, error, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(g.UserID), int64(g.ChannelID), g.Prompt, g.Provider,
		g.Success, g.Error, g.ImageURL, unixf(g.CreatedAt),
	)
	if err != nil {
		return unavailable("append image generation", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		g.ID = id
	}
	return nil
}

// CountImageGenerationsSince counts a user's requests after the cutoff,
// feeding the hourly rate limit.
func (s *Store) CountImageGenerationsSince(ctx context.Context, user platform.UserID, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM image_generations WHERE user_id = ? AND created_at >= ?`,
		int64(user), unixf(since))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, unavailable("count image generations", err)
	}
	return n, nil
}
