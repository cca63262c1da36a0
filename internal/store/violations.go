package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/astra/internal/platform"
)

// Severity grades a violation. The numeric value feeds the trust penalty.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeveritySevere
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeveritySevere:
		return "severe"
	}
	return "unknown"
}

// Violation is one recorded safety-filter hit.
type Violation struct {
	ID              int64
	UserID          platform.UserID
	GuildID         platform.GuildID
	ChannelID       platform.ChannelID
	MessageID       platform.MessageID
	Type            string
	Severity        Severity
	Timestamp       time.Time
	HeuristicScore  float64
	MLConfidence    float64
	FinalConfidence float64
	DetectionMethod string
	MessageContent  string
	Evidence        map[string]any
	ActionTaken     string
	ModeratorID     platform.UserID
	Resolved        bool
	StaffReviewed   bool
}

// AppendViolation inserts a violation and fills in its row ID.
func (s *Store) AppendViolation(ctx context.Context, v *Violation) error {
	var evidence any
	if len(v.Evidence) > 0 {
		b, err := json.Marshal(v.Evidence)
		if err != nil {
			return unavailable("encode violation evidence", err)
		}
		evidence = string(b)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO violations
		 (user_id, guild_id, channel_id, message_id, violation_type, severity,
		  timestamp, heuristic_score, ml_confidence, final_confidence,
		  detection_method, message_content, evidence_blob, action_taken,
		  moderator_id, resolved, staff_reviewed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(v.UserID), int64(v.GuildID), int64(v.ChannelID), int64(v.MessageID),
		v.Type, int(v.Severity), unixf(v.Timestamp),
		v.HeuristicScore, v.MLConfidence, v.FinalConfidence,
		v.DetectionMethod, v.MessageContent, evidence, v.ActionTaken,
		int64(v.ModeratorID), v.Resolved, v.StaffReviewed,
	)
	if err != nil {
		return unavailable("append violation", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		v.ID = id
	}
	return nil
}

// SetViolationAction records the action applied after enforcement.
func (s *Store) SetViolationAction(ctx context.Context, id int64, action string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE violations SET action_taken = ? WHERE id = ?`, action, id)
	if err != nil {
		return unavailable("set violation action", err)
	}
	return nil
}

// CountViolationsSince counts prior violations for a pair at or above a
// severity since the cutoff. This is the punishment-ladder tier input.
func (s *Store) CountViolationsSince(ctx context.Context, user platform.UserID, guild platform.GuildID, atLeast Severity, since time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM violations
		 WHERE user_id = ? AND guild_id = ? AND severity >= ? AND timestamp >= ?`,
		int64(user), int64(guild), int(atLeast), unixf(since))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, unavailable("count violations", err)
	}
	return n, nil
}

// ListViolations returns a user's recent violations, newest first.
func (s *Store) ListViolations(ctx context.Context, user platform.UserID, guild platform.GuildID, limit int) ([]Violation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, guild_id, channel_id, message_id, violation_type, severity,
		        timestamp, heuristic_score, ml_confidence, final_confidence,
		        detection_method, message_content, evidence_blob, action_taken,
		        moderator_id, resolved, staff_reviewed
		 FROM violations
		 WHERE user_id = ? AND guild_id = ?
		 ORDER BY timestamp DESC LIMIT ?`,
		int64(user), int64(guild), limit)
	if err != nil {
		return nil, unavailable("list violations", err)
	}
	defer rows.Close()

	var out []Violation
	for rows.Next() {
		var v Violation
		var userID, guildID, channelID, messageID, moderatorID int64
		var severity int
		var ts float64
		var detection, content, evidence, action *string
		if err := rows.Scan(
			&v.ID, &userID, &guildID, &channelID, &messageID, &v.Type, &severity,
			&ts, &v.HeuristicScore, &v.MLConfidence, &v.FinalConfidence,
			&detection, &content, &evidence, &action,
			&moderatorID, &v.Resolved, &v.StaffReviewed,
		); err != nil {
			return nil, unavailable("scan violation", err)
		}
		v.UserID = platform.UserID(userID)
		v.GuildID = platform.GuildID(guildID)
		v.ChannelID = platform.ChannelID(channelID)
		v.MessageID = platform.MessageID(messageID)
		v.ModeratorID = platform.UserID(moderatorID)
		v.Severity = Severity(severity)
		v.Timestamp = fromUnixf(ts)
		if detection != nil {
			v.DetectionMethod = *detection
		}
		if content != nil {
			v.MessageContent = *content
		}
		if action != nil {
			v.ActionTaken = *action
		}
		if evidence != nil && *evidence != "" {
			_ = json.Unmarshal([]byte(*evidence), &v.Evidence)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
