package providers

import (
	"sort"
	"strings"
)

// canonicalModels maps known display names and aliases to their canonical
// vendor/model-id form.
var canonicalModels = map[string]string{
	"gpt-4o":                "openai/gpt-4o",
	"gpt 4o":                "openai/gpt-4o",
	"gpt-4o-mini":           "openai/gpt-4o-mini",
	"gpt 4o mini":           "openai/gpt-4o-mini",
	"o3 mini":               "openai/o3-mini",
	"claude sonnet 4":       "anthropic/claude-sonnet-4-20250514",
	"claude 3.5 haiku":      "anthropic/claude-3-5-haiku-20241022",
	"claude haiku":          "anthropic/claude-3-5-haiku-20241022",
	"grok code fast 1":      "xai/grok-code-fast-1",
	"grok 3":                "xai/grok-3",
	"gemini 2.5 flash":      "google/gemini-2.5-flash",
	"gemini flash":          "google/gemini-2.5-flash",
	"deepseek v3":           "deepseek/deepseek-chat",
	"llama 3.3 70b":         "meta-llama/llama-3.3-70b-instruct",
	"mistral large":         "mistralai/mistral-large",
}

// canonicalIDs is the reverse lookup set so canonical forms are fixed
// points of NormalizeModel.
var canonicalIDs = func() map[string]bool {
	ids := make(map[string]bool, len(canonicalModels))
	for _, id := range canonicalModels {
		ids[id] = true
	}
	return ids
}()

// sortedIDs and sortedAliases keep fuzzy matching deterministic.
var sortedIDs = func() []string {
	ids := make([]string, 0, len(canonicalIDs))
	for id := range canonicalIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}()

var sortedAliases = func() []string {
	aliases := make([]string, 0, len(canonicalModels))
	for a := range canonicalModels {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	return aliases
}()

func simplify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeModel maps a caller-supplied model identifier (display name or
// id) to canonical vendor/model-id form. Already-canonical ids pass
// through unchanged; unresolvable names get the safe default.
func NormalizeModel(model, safeDefault string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return safeDefault
	}
	if canonicalIDs[model] {
		return model
	}
	if id, ok := canonicalModels[strings.ToLower(model)]; ok {
		return id
	}

	// Fuzzy pass: compare alphanumeric-only forms, then substrings.
	want := simplify(model)
	for _, alias := range sortedAliases {
		if simplify(alias) == want {
			return canonicalModels[alias]
		}
	}
	for _, id := range sortedIDs {
		if simplify(id) == want {
			return id
		}
	}
	if len(want) >= 4 {
		for _, id := range sortedIDs {
			if strings.Contains(simplify(id), want) {
				return id
			}
		}
	}

	// A plausible vendor/model-id we don't know about passes through.
	if strings.Count(model, "/") == 1 && !strings.ContainsAny(model, " \t") {
		return model
	}
	return safeDefault
}
