package memory

import (
	"regexp"
	"strings"

	"github.com/edgecore/engined/internal/store"
)

// preferenceRule matches a user turn against a pattern and, on match,
// derives a (key, value, confidence) triple. Patterns are tried in
// order; the same idiom as the teacher's ordered memoryTriggers list,
// narrowed here from "should this be captured at all" to "what
// specific preference does this express".
type preferenceRule struct {
	pattern    *regexp.Regexp
	key        string
	confidence float64
	value      func(match []string) string
}

var preferenceRules = []preferenceRule{
	{
		pattern:    regexp.MustCompile(`(?i)\b(?:reply|respond|answer)\s+(?:to me\s+)?in\s+([a-zA-Z]+)\b`),
		key:        "reply_language",
		confidence: 0.9,
		value:      func(m []string) string { return languageCode(m[1]) },
	},
	{
		pattern:    regexp.MustCompile(`(?i)\bcall me\s+([a-zA-Z][a-zA-Z '\-]{0,40})`),
		key:        "preferred_name",
		confidence: 0.85,
		value:      func(m []string) string { return strings.TrimSpace(m[1]) },
	},
	{
		pattern:    regexp.MustCompile(`(?i)\bmy (?:name|timezone|time zone) is\s+([\w/ '\-]{1,40})`),
		key:        "identity_fact",
		confidence: 0.7,
		value:      func(m []string) string { return strings.TrimSpace(m[1]) },
	},
	{
		pattern:    regexp.MustCompile(`(?i)\balways\s+([a-zA-Z ]{3,60})`),
		key:        "standing_instruction",
		confidence: 0.6,
		value:      func(m []string) string { return strings.TrimSpace(m[1]) },
	},
	{
		pattern:    regexp.MustCompile(`(?i)\bnever\s+([a-zA-Z0-9 ]{3,60})`),
		key:        "standing_prohibition",
		confidence: 0.6,
		value:      func(m []string) string { return "never " + strings.TrimSpace(m[1]) },
	},
	{
		pattern:    regexp.MustCompile(`(?i)\bi (?:prefer|like)\s+([a-zA-Z0-9 ,\-]{2,60})`),
		key:        "stated_preference",
		confidence: 0.5,
		value:      func(m []string) string { return strings.TrimSpace(m[1]) },
	},
}

// extractPreferences scans one user turn for every rule it matches,
// returning a row per hit (UserID/ChatID left zero for the caller to
// fill in). A rule that fires more than once in the same turn only
// produces its first match.
func extractPreferences(content string) []store.UserPreference {
	var out []store.UserPreference
	for _, rule := range preferenceRules {
		m := rule.pattern.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		value := rule.value(m)
		if value == "" {
			continue
		}
		out = append(out, store.UserPreference{
			Key:        rule.key,
			Value:      value,
			Confidence: rule.confidence,
			Source:     "auto_extract",
		})
	}
	return out
}

var languageNames = map[string]string{
	"english":  "en",
	"spanish":  "es",
	"french":   "fr",
	"german":   "de",
	"italian":  "it",
	"czech":    "cs",
	"japanese": "ja",
	"chinese":  "zh",
	"korean":   "ko",
	"russian":  "ru",
	"polish":   "pl",
	"dutch":    "nl",
}

// languageCode maps a spelled-out language name to an ISO-ish code,
// passing through anything already short enough to be a code.
func languageCode(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if code, ok := languageNames[lower]; ok {
		return code
	}
	if len(lower) <= 3 {
		return lower
	}
	return lower
}
