// Package identity answers questions about the bot itself from fixed
// templates, so "who are you?" never costs a provider call.
package identity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/astra/internal/personality"
)

// Category is one recognized identity question.
type Category string

const (
	WhoAreYou     Category = "who_are_you"
	WhatCanYouDo  Category = "what_can_you_do"
	WhoCreatedYou Category = "who_created_you"
	YourPurpose   Category = "your_purpose"
)

// Patterns per category. Multiple languages live in one list; matching is
// case-insensitive against the whole message.
var categoryPatterns = []struct {
	category Category
	re       *regexp.Regexp
}{
	{WhoAreYou, regexp.MustCompile(`(?i)\bwho\s+(are|r)\s+(you|u)\b`)},
	{WhoAreYou, regexp.MustCompile(`(?i)\bwhat('?s| is)\s+your\s+name\b`)},
	{WhoAreYou, regexp.MustCompile(`(?i)\bqui\s+es[- ]tu\b`)},
	{WhoAreYou, regexp.MustCompile(`(?i)\bquién\s+eres\b`)},
	{WhoAreYou, regexp.MustCompile(`(?i)\bwer\s+bist\s+du\b`)},
	{WhatCanYouDo, regexp.MustCompile(`(?i)\bwhat\s+can\s+(you|u)\s+do\b`)},
	{WhatCanYouDo, regexp.MustCompile(`(?i)\bwhat\s+are\s+your\s+(abilities|capabilities|features)\b`)},
	{WhatCanYouDo, regexp.MustCompile(`(?i)\bhow\s+can\s+you\s+help\b`)},
	{WhoCreatedYou, regexp.MustCompile(`(?i)\bwho\s+(made|created|built|programmed)\s+(you|u)\b`)},
	{WhoCreatedYou, regexp.MustCompile(`(?i)\bwho('?s| is)\s+your\s+(creator|developer|maker)\b`)},
	{YourPurpose, regexp.MustCompile(`(?i)\bwhat('?s| is)\s+your\s+purpose\b`)},
	{YourPurpose, regexp.MustCompile(`(?i)\bwhy\s+(do\s+you|were\s+you)\s+(exist|made|created)\b`)},
	{YourPurpose, regexp.MustCompile(`(?i)\bwhat\s+are\s+you\s+(here\s+)?for\b`)},
}

// Match returns the category of an identity question, if the message is one.
func Match(content string) (Category, bool) {
	for _, p := range categoryPatterns {
		if p.re.MatchString(content) {
			return p.category, true
		}
	}
	return "", false
}

// templates maps (category, style) to the reply. %s is the bot name.
var templates = map[Category]map[personality.ResponseStyle]string{
	WhoAreYou: {
		personality.StyleCasual:       "I'm %s! Just hanging out here, keeping the chat fun and helping out where I can.",
		personality.StyleProfessional: "I'm %s, this server's assistant. I handle questions, moderation support, and day-to-day chat.",
		personality.StyleAcademic:     "I am %s, a conversational assistant integrated with this server to provide informational and administrative support.",
		personality.StylePlayful:      "The name's %s — part chat buddy, part server gremlin, all helpful. Mostly.",
		personality.StyleSupportive:   "Hi, I'm %s. I'm here whenever you need a hand, an answer, or just someone to talk to.",
		personality.StyleAnalytical:   "I'm %s, an assistant process attached to this server. Ask me something and I'll work through it with you.",
	},
	WhatCanYouDo: {
		personality.StyleCasual:       "Loads of stuff! Answer questions, chat, make images, keep an eye on the server. Just @ me.",
		personality.StyleProfessional: "I can answer questions, generate images, assist moderators, and keep conversations on track. Mention me to get started.",
		personality.StyleAcademic:     "My capabilities include conversational assistance, image generation, content moderation, and contextual recall of prior discussion.",
		personality.StylePlayful:      "Chat, answer stuff, conjure images out of thin air, and occasionally drop a good joke. Results may vary on the joke part.",
		personality.StyleSupportive:   "I can help with questions big or small, make images for you, and keep this a friendly place. What do you need?",
		personality.StyleAnalytical:   "Three main functions: conversational Q&A, image generation, and server safety monitoring. Pick one and we'll go from there.",
	},
	WhoCreatedYou: {
		personality.StyleCasual:       "The folks who run this server wired me up. I just showed up one day and never left.",
		personality.StyleProfessional: "I was set up by this server's administrators using an open assistant platform.",
		personality.StyleAcademic:     "I was configured and deployed by this server's administrators atop a general-purpose assistant framework.",
		personality.StylePlayful:      "A mad scientist. Kidding — the server admins built me. The lab coat is purely aspirational.",
		personality.StyleSupportive:   "The people running this community brought me here so everyone has someone to turn to.",
		personality.StyleAnalytical:   "Deployment credit goes to the server administrators; the underlying models come from several AI providers.",
	},
	YourPurpose: {
		personality.StyleCasual:       "Keep this place fun, answer your questions, and help out. That's pretty much the whole gig.",
		personality.StyleProfessional: "My purpose is to support this community: answering questions, assisting moderation, and keeping discussions productive.",
		personality.StyleAcademic:     "My purpose is threefold: informational assistance, community safety, and sustaining engagement within this server.",
		personality.StylePlayful:      "To be the most helpful thing on this server that isn't the pin board. Also: excellent conversation.",
		personality.StyleSupportive:   "I'm here to make this server a better place for you — to help, to listen, and to keep things safe.",
		personality.StyleAnalytical:   "Primary objective: useful answers. Secondary: server safety. Tertiary: keeping the conversation worth having.",
	},
}

// Respond renders the template for a category under the effective traits.
func Respond(category Category, traits personality.Traits, botName string) string {
	style := personality.StyleBucket(traits)
	tpl, ok := templates[category][style]
	if !ok {
		tpl = templates[category][personality.StyleCasual]
	}
	if strings.Contains(tpl, "%s") {
		return fmt.Sprintf(tpl, botName)
	}
	return tpl
}
