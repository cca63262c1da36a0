package pipeline

import (
	"strings"

	"github.com/nextlevelbuilder/astra/internal/convo"
	"github.com/nextlevelbuilder/astra/internal/store"
)

// emotionalCues signal a message worth reaching out on.
var emotionalCues = []string{
	"i'm so", "im so", "feeling", "excited", "nervous", "can't believe",
	"cant believe", "finally", "amazing", "terrible", "worst", "best day",
}

// helpCues signal the author is looking for assistance.
var helpCues = []string{
	"anyone know", "does anyone", "how do i", "how do you", "can someone",
	"need help", "any advice", "what should i", "stuck on", "confused about",
}

// engagementScore rates how strongly the bot should volunteer a reply to
// a message that didn't address it. Deterministic except for the final
// nudge, whose dice come from randf.
func engagementScore(content string, profile *store.UserProfile, randf func() float64) float64 {
	lower := strings.ToLower(content)
	var score float64

	// Topic-of-interest match against the author's preferred topics.
	if len(profile.PreferredTopics) > 0 {
		var topicBoost float64
		for _, topic := range convo.ExtractTopics(content) {
			if w := profile.PreferredTopics[topic]; w > 0 {
				topicBoost += 0.2 * w
			}
		}
		if topicBoost > 0.4 {
			topicBoost = 0.4
		}
		score += topicBoost
	}

	for _, cue := range emotionalCues {
		if strings.Contains(lower, cue) {
			score += 0.4
			break
		}
	}
	for _, cue := range helpCues {
		if strings.Contains(lower, cue) {
			score += 0.5
			break
		}
	}

	// Personal history: frequent, engaged users get more outreach.
	if profile.TotalInteractions > 50 {
		score += 0.15
	}
	score += 0.2 * profile.EngagementScore

	// Message complexity: longer, structured messages invite a response.
	// The component as a whole, question bonus included, caps at 0.55.
	var complexity float64
	words := len(strings.Fields(content))
	switch {
	case words >= 40:
		complexity = 0.55
	case words >= 20:
		complexity = 0.35
	case words >= 10:
		complexity = 0.15
	}
	if strings.Contains(content, "?") {
		complexity += 0.1
	}
	if complexity > 0.55 {
		complexity = 0.55
	}
	score += complexity

	if score > 0.3 && randf() < 0.15 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}
