package convo

import (
	"sort"
	"strings"
)

// topicKeywords maps trigger words to their topic tag. Matching is
// case-insensitive substring on the message.
var topicKeywords = map[string]string{
	"game":     "gaming",
	"play":     "gaming",
	"stream":   "gaming",
	"code":     "programming",
	"program":  "programming",
	"bug":      "programming",
	"deploy":   "programming",
	"music":    "music",
	"song":     "music",
	"album":    "music",
	"movie":    "media",
	"show":     "media",
	"anime":    "media",
	"food":     "food",
	"cook":     "food",
	"recipe":   "food",
	"work":     "work",
	"job":      "work",
	"school":   "study",
	"exam":     "study",
	"study":    "study",
	"homework": "study",
	"sad":      "feelings",
	"happy":    "feelings",
	"stress":   "feelings",
	"travel":   "travel",
	"trip":     "travel",
	"sport":    "sports",
	"team":     "sports",
	"match":    "sports",
	"crypto":   "finance",
	"stock":    "finance",
	"money":    "finance",
	"art":      "art",
	"draw":     "art",
	"design":   "art",
}

// ExtractTopics returns up to three topic tags for a message, ordered by
// hit count then alphabetically for determinism.
func ExtractTopics(content string) []string {
	lower := strings.ToLower(content)
	hits := map[string]int{}
	for kw, topic := range topicKeywords {
		if strings.Contains(lower, kw) {
			hits[topic]++
		}
	}
	if len(hits) == 0 {
		return nil
	}
	topics := make([]string, 0, len(hits))
	for t := range hits {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if hits[topics[i]] != hits[topics[j]] {
			return hits[topics[i]] > hits[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if len(topics) > 3 {
		topics = topics[:3]
	}
	return topics
}
