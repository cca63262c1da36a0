package pipeline

import (
	"strings"

	"github.com/nextlevelbuilder/astra/internal/personality"
)

// fastReplies answer trivial inputs without a provider call, keyed by the
// effective style bucket.
var fastReplies = map[string]map[personality.ResponseStyle]string{
	"hi": {
		personality.StyleCasual:       "hey!",
		personality.StyleProfessional: "Hello. How can I help?",
		personality.StyleAcademic:     "Greetings. What can I assist you with?",
		personality.StylePlayful:      "heyo! 👋",
		personality.StyleSupportive:   "Hi there! Good to see you.",
		personality.StyleAnalytical:   "Hello. What are we working on?",
	},
	"thanks": {
		personality.StyleCasual:       "anytime!",
		personality.StyleProfessional: "You're welcome.",
		personality.StyleAcademic:     "You are most welcome.",
		personality.StylePlayful:      "no prob! that's what I'm here for 😄",
		personality.StyleSupportive:   "Of course! Happy I could help.",
		personality.StyleAnalytical:   "Glad that worked. Anything else?",
	},
	"ping": {
		personality.StyleCasual:       "pong",
		personality.StyleProfessional: "Pong. I'm here.",
		personality.StyleAcademic:     "Pong. Operational.",
		personality.StylePlayful:      "pong! 🏓",
		personality.StyleSupportive:   "Pong — right here if you need me.",
		personality.StyleAnalytical:   "Pong. Latency nominal.",
	},
}

// fastAliases normalize trivial variants to their table key.
var fastAliases = map[string]string{
	"hi": "hi", "hello": "hi", "hey": "hi", "yo": "hi",
	"thanks": "thanks", "thank you": "thanks", "thx": "thanks", "ty": "thanks",
	"ping": "ping",
}

// fastReply returns the canned response for a trivial message, if it is one.
func fastReply(content string, traits personality.Traits) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(content))
	normalized = strings.TrimRight(normalized, "!. ")
	key, ok := fastAliases[normalized]
	if !ok {
		return "", false
	}
	style := personality.StyleBucket(traits)
	if reply, ok := fastReplies[key][style]; ok {
		return reply, true
	}
	return fastReplies[key][personality.StyleCasual], true
}
