package pipeline

import (
	"strings"

	"github.com/nextlevelbuilder/astra/internal/personality"
)

// contractionPairs drive both directions of the formality swap: casual
// style contracts the left column, formal style expands the right.
var contractionPairs = [][2]string{
	{"I am", "I'm"},
	{"I will", "I'll"},
	{"I would", "I'd"},
	{"I have", "I've"},
	{"you are", "you're"},
	{"you will", "you'll"},
	{"we are", "we're"},
	{"we will", "we'll"},
	{"they are", "they're"},
	{"it is", "it's"},
	{"that is", "that's"},
	{"do not", "don't"},
	{"does not", "doesn't"},
	{"cannot", "can't"},
	{"will not", "won't"},
	{"is not", "isn't"},
	{"are not", "aren't"},
}

func applyContractions(s string) string {
	for _, p := range contractionPairs {
		s = strings.ReplaceAll(s, p[0], p[1])
	}
	return s
}

func applyExpansions(s string) string {
	for _, p := range contractionPairs {
		s = strings.ReplaceAll(s, p[1], p[0])
	}
	return s
}

// distressKeywords trigger the soft empathy prefix.
var distressKeywords = []string{
	"sorry", "difficult", "hard time", "struggle", "stressed",
	"anxious", "sad", "upset", "worried", "frustrat", "overwhelm",
}

func containsDistress(s string) bool {
	lower := strings.ToLower(s)
	for _, k := range distressKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

const empathyPrefix = "I hear you — that sounds tough. "

// topicEmojis give the optional appended emoji something on-topic.
var topicEmojis = map[string]string{
	"gaming":      "🎮",
	"programming": "💻",
	"music":       "🎵",
	"media":       "🎬",
	"food":        "🍜",
	"study":       "📚",
	"sports":      "⚽",
	"travel":      "✈️",
	"art":         "🎨",
	"feelings":    "💙",
}

var followUpQuestions = []string{
	"What do you think?",
	"Want me to dig into that more?",
	"How does that land for you?",
}

func hasEmoji(s string) bool {
	for _, r := range s {
		if r >= 0x1F300 && r <= 0x1FAFF || r >= 0x2600 && r <= 0x27BF {
			return true
		}
	}
	return false
}

// postProcess applies the style directives to a provider response.
// userUsesEmoji comes from the author's profile; topics are the request's
// active topics; randf supplies the follow-up and emoji dice rolls.
func postProcess(response string, d personality.StyleDirectives, userUsesEmoji bool, topics []string, randf func() float64) string {
	if d.CasualContractions {
		response = applyContractions(response)
	}
	if d.FormalExpansions {
		response = applyExpansions(response)
	}

	if d.EmojiAllowance == personality.EmojiModerate && userUsesEmoji && !hasEmoji(response) {
		if d.HumorEmojiChance > 0 && randf() < d.HumorEmojiChance {
			emoji := "✨"
			for _, topic := range topics {
				if e, ok := topicEmojis[topic]; ok {
					emoji = e
					break
				}
			}
			response = strings.TrimRight(response, " ") + " " + emoji
		}
	}

	if d.EmpathyPrefix != personality.PrefixNone && containsDistress(response) {
		response = empathyPrefix + response
	}

	if d.FollowUpSuggestion && !strings.Contains(response, "?") && randf() < 0.2 {
		idx := len(response) % len(followUpQuestions)
		response = strings.TrimRight(response, " \n") + " " + followUpQuestions[idx]
	}
	return response
}
