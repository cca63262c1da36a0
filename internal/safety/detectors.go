package safety

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/nextlevelbuilder/astra/internal/store"
)

// Violation type names recorded in the store.
const (
	TypeSpamMessages    = "spam_messages"
	TypeRepeatedContent = "repeated_content"
	TypeMassMentions    = "mass_mentions"
	TypeCapsAbuse       = "caps_abuse"
	TypeToxicLanguage   = "toxic_language"
	TypeUnsafeLinks     = "unsafe_links"
	TypeScamAttempt     = "scam_attempt"
	TypeBotAbuse        = "bot_abuse"
)

// detection is one detector hit before persistence.
type detection struct {
	Type           string
	Severity       store.Severity
	HeuristicScore float64
	Method         string
	Evidence       map[string]any
}

var urlPattern = regexp.MustCompile(`https?://([^\s/]+)`)

// maliciousDomains is the curated severe list; exact or subdomain match.
var maliciousDomains = map[string]bool{
	"discord-nitro.click":  true,
	"discorcl.gift":        true,
	"steamcommunlty.ru":    true,
	"free-nitro.site":      true,
	"dlscord-airdrop.com":  true,
	"wallet-validation.io": true,
}

// suspiciousTLDs escalate to high severity.
var suspiciousTLDs = []string{".zip", ".mov", ".click", ".gq", ".tk", ".ml", ".cf", ".top"}

// toxicityPatterns score pattern hits; the sum is capped at 1.
var toxicityPatterns = []struct {
	re     *regexp.Regexp
	weight float64
}{
	{regexp.MustCompile(`(?i)\bkill\s+(yourself|urself|ur\s*self)\b`), 1.0},
	{regexp.MustCompile(`(?i)\b(kys)\b`), 1.0},
	{regexp.MustCompile(`(?i)\byou('re| are)\s+(worthless|pathetic|garbage|trash)\b`), 0.8},
	{regexp.MustCompile(`(?i)\b(idiot|moron|imbecile)s?\b`), 0.4},
	{regexp.MustCompile(`(?i)\bshut\s+up\b.*\b(stupid|dumb)\b`), 0.5},
	{regexp.MustCompile(`(?i)\bnobody\s+(likes|wants)\s+you\b`), 0.6},
	{regexp.MustCompile(`(?i)\bget\s+cancer\b`), 1.0},
	{regexp.MustCompile(`(?i)\b(stupid|dumb)\s+(bot|idiot)\b`), 0.3},
}

// scamPatterns match current social-engineering and crypto/AI bait.
var scamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)free\s+(discord\s+)?nitro`),
	regexp.MustCompile(`(?i)(claim|collect)\s+your\s+(prize|reward|gift)`),
	regexp.MustCompile(`(?i)steam\s+(gift|wallet)\s*card`),
	regexp.MustCompile(`(?i)(double|triple|10x)\s+your\s+(crypto|bitcoin|btc|eth)`),
	regexp.MustCompile(`(?i)(airdrop|whitelist)\s+(ending|closing|live)\s+(soon|now)`),
	regexp.MustCompile(`(?i)connect\s+your\s+wallet\s+to\s+(claim|verify)`),
	regexp.MustCompile(`(?i)(validate|verify)\s+your\s+seed\s+phrase`),
	regexp.MustCompile(`(?i)ai\s+trading\s+bot.{0,30}(guaranteed|passive)\s+(profit|income)`),
	regexp.MustCompile(`(?i)dm\s+me\s+for\s+(easy|quick)\s+(money|cash|profit)`),
	regexp.MustCompile(`(?i)limited\s+time.{0,30}(crypto|token)\s+presale`),
}

// capsRatio returns the uppercase share among letters, or 0 when the
// message has no letters.
func capsRatio(content string) float64 {
	var letters, upper int
	for _, r := range content {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

func detectCapsAbuse(content string, ratio float64) *detection {
	if len([]rune(content)) < 10 {
		return nil
	}
	r := capsRatio(content)
	if r < ratio {
		return nil
	}
	return &detection{
		Type:           TypeCapsAbuse,
		Severity:       store.SeverityLow,
		HeuristicScore: r,
		Method:         "caps_ratio",
		Evidence:       map[string]any{"ratio": r},
	}
}

func detectMassMentions(userMentions, roleMentions, limit int) *detection {
	total := userMentions + roleMentions
	if total < limit {
		return nil
	}
	score := 0.8 + 0.05*float64(total-limit)
	if score > 1 {
		score = 1
	}
	return &detection{
		Type:           TypeMassMentions,
		Severity:       store.SeverityHigh,
		HeuristicScore: score,
		Method:         "mention_count",
		Evidence:       map[string]any{"mentions": total},
	}
}

func detectToxicity(content string, threshold float64) *detection {
	var score float64
	var matched []string
	for _, p := range toxicityPatterns {
		if p.re.MatchString(content) {
			score += p.weight
			matched = append(matched, p.re.String())
		}
	}
	if score > 1 {
		score = 1
	}
	if score < threshold {
		return nil
	}
	sev := store.SeverityMedium
	if score >= 0.9 {
		sev = store.SeverityHigh
	}
	return &detection{
		Type:           TypeToxicLanguage,
		Severity:       sev,
		HeuristicScore: score,
		Method:         "toxicity_patterns",
		Evidence:       map[string]any{"patterns": matched},
	}
}

func detectUnsafeLinks(content string) *detection {
	for _, m := range urlPattern.FindAllStringSubmatch(content, -1) {
		host := strings.ToLower(m[1])
		if h, _, ok := strings.Cut(host, ":"); ok {
			host = h
		}
		if matchesMaliciousDomain(host) {
			return &detection{
				Type:           TypeUnsafeLinks,
				Severity:       store.SeveritySevere,
				HeuristicScore: 0.97,
				Method:         "malicious_domain",
				Evidence:       map[string]any{"host": host},
			}
		}
		for _, tld := range suspiciousTLDs {
			if strings.HasSuffix(host, tld) {
				return &detection{
					Type:           TypeUnsafeLinks,
					Severity:       store.SeverityHigh,
					HeuristicScore: 0.8,
					Method:         "suspicious_tld",
					Evidence:       map[string]any{"host": host},
				}
			}
		}
	}
	return nil
}

func matchesMaliciousDomain(host string) bool {
	for d := range maliciousDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func detectScam(content string) *detection {
	var matched []string
	for _, re := range scamPatterns {
		if re.MatchString(content) {
			matched = append(matched, re.String())
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return &detection{
		Type:           TypeScamAttempt,
		Severity:       store.SeverityHigh,
		HeuristicScore: 0.85,
		Method:         "scam_patterns",
		Evidence:       map[string]any{"patterns": matched},
	}
}

// detectBotAbuse flags a ≥10x jump above the user's EMA message length,
// indicating pasted payloads aimed at the bot.
func detectBotAbuse(content string, emaLength float64) *detection {
	if emaLength < 20 {
		// Not enough history to call a jump abusive.
		return nil
	}
	ratio := float64(len(content)) / emaLength
	if ratio < 10 {
		return nil
	}
	return &detection{
		Type:           TypeBotAbuse,
		Severity:       store.SeverityLow,
		HeuristicScore: 0.6,
		Method:         "length_anomaly",
		Evidence:       map[string]any{"ratio": ratio, "ema": emaLength},
	}
}
