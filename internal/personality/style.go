package personality

// EmojiAllowance grades how freely the post-processor may add emoji.
type EmojiAllowance string

const (
	EmojiNone     EmojiAllowance = "none"
	EmojiLight    EmojiAllowance = "light"
	EmojiModerate EmojiAllowance = "moderate"
)

// EmpathyPrefix grades the acknowledging clause prepended to responses that
// contain distress cues.
type EmpathyPrefix string

const (
	PrefixNone   EmpathyPrefix = "none"
	PrefixSoft   EmpathyPrefix = "soft"
	PrefixStrong EmpathyPrefix = "strong"
)

// StyleDirectives are mechanical derivations from a trait vector, consumed
// by response post-processing. No randomness here — chances are parameters
// the post-processor rolls against.
type StyleDirectives struct {
	CasualContractions bool
	FormalExpansions   bool
	EmojiAllowance     EmojiAllowance
	EmpathyPrefix      EmpathyPrefix
	HumorEmojiChance   float64 // 0..0.3
	FollowUpSuggestion bool
}

// StyleFor derives the style directives for a trait vector.
func StyleFor(t Traits) StyleDirectives {
	d := StyleDirectives{
		CasualContractions: t.Formality < 30,
		FormalExpansions:   t.Formality > 70,
		FollowUpSuggestion: t.Initiative > 70,
	}

	switch {
	case t.Humor > 70 && t.Formality < 50:
		d.EmojiAllowance = EmojiModerate
	case t.Humor > 40 && t.Formality < 70:
		d.EmojiAllowance = EmojiLight
	default:
		d.EmojiAllowance = EmojiNone
	}

	switch {
	case t.Empathy > 80:
		d.EmpathyPrefix = PrefixStrong
	case t.Empathy > 55:
		d.EmpathyPrefix = PrefixSoft
	default:
		d.EmpathyPrefix = PrefixNone
	}

	if t.Humor > 70 {
		d.HumorEmojiChance = float64(t.Humor-70) / 30 * 0.3
		if d.HumorEmojiChance > 0.3 {
			d.HumorEmojiChance = 0.3
		}
	}

	return d
}

// ResponseStyle buckets a trait vector into one of the named template styles
// used by the identity responder and fast replies.
type ResponseStyle string

const (
	StyleCasual       ResponseStyle = "casual"
	StyleProfessional ResponseStyle = "professional"
	StyleAcademic     ResponseStyle = "academic"
	StylePlayful      ResponseStyle = "playful"
	StyleSupportive   ResponseStyle = "supportive"
	StyleAnalytical   ResponseStyle = "analytical"
)

// StyleBucket picks a response style from formality, humor and empathy.
// Deterministic: equal traits always pick the same style.
func StyleBucket(t Traits) ResponseStyle {
	switch {
	case t.Humor >= 70 && t.Formality < 50:
		return StylePlayful
	case t.Empathy >= 80:
		return StyleSupportive
	case t.Formality >= 75:
		return StyleAcademic
	case t.Formality >= 55:
		return StyleProfessional
	case t.Formality < 30:
		return StyleCasual
	default:
		return StyleAnalytical
	}
}
