// Package extract pulls structured fields out of free-form model output.
//
// Every function here is pure and total: text that does not contain the
// field yields an empty value, never an error.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Default bounds for a usable follow-up suggestion, in characters.
const (
	DefaultMinSuggestionLen = 11
	DefaultMaxSuggestionLen = 149
)

var (
	followUpHeading   = regexp.MustCompile(`(?im)^[ \t]*(?:#{1,6}[ \t]*)?(?:\*\*|__)?[ \t]*follow[- ]?up questions[ \t]*(?:\*\*|__)?[ \t]*:?[ \t]*(?:\*\*|__)?[ \t]*$`)
	recommendHeading  = regexp.MustCompile(`(?im)^[ \t]*(?:#{1,6}[ \t]*)?(?:\*\*|__)?[ \t]*recommendations?[ \t]*(?:\*\*|__)?[ \t]*:?[ \t]*(?:\*\*|__)?`)
	diagnosisPattern  = regexp.MustCompile(`(?i)(?:primary diagnosis|most likely|diagnosis):?\s*([^\n.]+)`)
	percentPattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)
	bulletPrefix      = regexp.MustCompile(`^(?:[-*•]|\d+[.)])[ \t]+`)
	boldOnlyLine      = regexp.MustCompile(`^(?:\*\*|__)[^*_]+(?:\*\*|__):?$`)
	markdownDecorator = " \t*_:"
)

// Suggestions returns the follow-up questions listed under a
// "Follow-up Questions:" heading. The heading must stand on its own line;
// the phrase inside a sentence is not a heading. Bullet markers are stripped and only
// lines whose length lies in [minLen, maxLen] are kept.
func Suggestions(text string, minLen, maxLen int) []string {
	loc := followUpHeading.FindStringIndex(text)
	if loc == nil {
		return []string{}
	}

	out := []string{}
	sawBlank := false
	for i, raw := range strings.Split(text[loc[1]:], "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			sawBlank = len(out) > 0
			continue
		}
		if i > 0 && isHeading(line) {
			break
		}
		item, bulleted := stripBullet(line)
		if sawBlank && !bulleted {
			break
		}
		item = strings.TrimSpace(item)
		n := utf8.RuneCountInString(item)
		if n < minLen || n > maxLen {
			continue
		}
		out = append(out, item)
	}
	return out
}

// DefaultSuggestions applies Suggestions with the default length bounds.
func DefaultSuggestions(text string) []string {
	return Suggestions(text, DefaultMinSuggestionLen, DefaultMaxSuggestionLen)
}

// PrimaryDiagnosis returns the phrase following the first "primary
// diagnosis", "most likely" or "diagnosis" label, up to the end of that
// line or sentence.
func PrimaryDiagnosis(text string) string {
	m := diagnosisPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.Trim(m[1], markdownDecorator)
}

// Confidence returns the first percentage token in text, e.g. "87%".
func Confidence(text string) string {
	return percentPattern.FindString(text)
}

// ConfidenceValue coerces the first percentage in text to an integer.
// Missing or unparsable values yield 0.
func ConfidenceValue(text string) int {
	m := percentPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return int(f)
}

// Recommendations returns the items listed under a "Recommendations"
// heading, up to the next heading or paragraph break.
func Recommendations(text string) []string {
	loc := recommendHeading.FindStringIndex(text)
	if loc == nil {
		return []string{}
	}

	out := []string{}
	for i, raw := range strings.Split(text[loc[1]:], "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			if len(out) > 0 {
				break
			}
			continue
		}
		if i > 0 && isHeading(line) {
			break
		}
		item, _ := stripBullet(line)
		item = strings.Trim(item, " \t")
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Analysis bundles every field extracted from a diagnostic response.
type Analysis struct {
	PrimaryDiagnosis string
	Confidence       int
	Recommendations  []string
	Suggestions      []string
}

// Analyze runs every extractor over text.
func Analyze(text string) Analysis {
	return Analysis{
		PrimaryDiagnosis: PrimaryDiagnosis(text),
		Confidence:       ConfidenceValue(text),
		Recommendations:  Recommendations(text),
		Suggestions:      DefaultSuggestions(text),
	}
}

func stripBullet(line string) (string, bool) {
	if loc := bulletPrefix.FindStringIndex(line); loc != nil {
		return line[loc[1]:], true
	}
	return line, false
}

func isHeading(line string) bool {
	return strings.HasPrefix(line, "#") || boldOnlyLine.MatchString(line)
}
