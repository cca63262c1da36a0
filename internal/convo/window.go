// Package convo maintains per-session conversation state: a rolling window
// of recent turns, a bounded list of important turns, topic extraction, and
// prompt assembly for the provider layer.
package convo

import (
	"strings"
	"time"

	"github.com/nextlevelbuilder/astra/internal/platform"
)

const (
	// MaxWindow bounds the rolling window per session.
	MaxWindow = 20
	// MaxImportant bounds the retained important-turn list.
	MaxImportant = 10
	// ImportantThreshold is the importance above which a turn is retained
	// in the important list.
	ImportantThreshold = 0.7
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SessionKey identifies a conversation window.
type SessionKey struct {
	Guild   platform.GuildID
	Channel platform.ChannelID
	User    platform.UserID
}

// Turn is a single message within a window.
type Turn struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Importance float64   `json:"importance"`
}

// Window is the rolling conversation state for one session. Turns are
// append-only; the window trims oldest-first past MaxWindow and the
// important list keeps the MaxImportant most recent turns above threshold.
type Window struct {
	Turns     []Turn `json:"turns"`
	Important []Turn `json:"important,omitempty"`
}

// importantKeywords raise a turn's importance score.
var importantKeywords = []string{
	"help", "learn", "explain", "problem", "issue", "strategy", "remember",
}

// Importance scores a turn in [0,1]:
// 0.3 for user role, up to 0.3 for length (len/500), 0.2 for a question
// mark, and 0.1 per important keyword capped at 0.3.
func Importance(role Role, content string) float64 {
	score := 0.0
	if role == RoleUser {
		score += 0.3
	}
	l := float64(len(content)) / 500
	if l > 0.3 {
		l = 0.3
	}
	score += l
	if strings.Contains(content, "?") {
		score += 0.2
	}
	lower := strings.ToLower(content)
	kw := 0.0
	for _, k := range importantKeywords {
		if strings.Contains(lower, k) {
			kw += 0.1
		}
	}
	if kw > 0.3 {
		kw = 0.3
	}
	score += kw
	if score > 1 {
		score = 1
	}
	return score
}

// Append scores and appends a turn, enforcing both bounds.
func (w *Window) Append(role Role, content string, at time.Time) Turn {
	t := Turn{Role: role, Content: content, Timestamp: at, Importance: Importance(role, content)}
	w.Turns = append(w.Turns, t)
	if len(w.Turns) > MaxWindow {
		w.Turns = w.Turns[len(w.Turns)-MaxWindow:]
	}
	if t.Importance > ImportantThreshold {
		w.Important = append(w.Important, t)
		if len(w.Important) > MaxImportant {
			w.Important = w.Important[len(w.Important)-MaxImportant:]
		}
	}
	return t
}

// PromptTurns assembles the provider message list: the last nImportant
// important turns then the last nRecent window turns, deduplicated (an
// important turn that is still inside the recent slice appears once).
func (w *Window) PromptTurns(nImportant, nRecent int) []Turn {
	recent := w.Turns
	if len(recent) > nRecent {
		recent = recent[len(recent)-nRecent:]
	}
	imp := w.Important
	if len(imp) > nImportant {
		imp = imp[len(imp)-nImportant:]
	}

	seen := make(map[string]bool, len(recent))
	for _, t := range recent {
		seen[string(t.Role)+"\x00"+t.Content] = true
	}
	out := make([]Turn, 0, len(imp)+len(recent))
	for _, t := range imp {
		if !seen[string(t.Role)+"\x00"+t.Content] {
			out = append(out, t)
		}
	}
	return append(out, recent...)
}
