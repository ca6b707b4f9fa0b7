// Package text normalizes written text into a form engines read aloud cleanly.
//
// Normalization expands abbreviations, spells out numbers, drops citation and
// reference markers, flattens whitespace and typographic punctuation, and makes
// sure the text ends like a sentence. URLs and email addresses pass through intact.
package text

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Regex patterns for text normalization.
const (
	urlRegexPattern        = `https?://\S+`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern     = `\b\d{1,3}(?:,\d{3})+\b|\b\d+(?:\.\d+)?\b`
	referenceRegexPattern  = `\[\d+\]|\(\d+\)|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	citationRegexPattern   = `\([^)]*\d{4}[^)]*\)|\b\w+\s+et\s+al\.`
	whitespaceRegexPattern = `\s+`
	spaceBeforePunctPatt   = `\s+([.,!?;:])`
	longEllipsisPattern    = `\.{4,}`
)

// Placeholders for tokens that must survive cleanup untouched.
const (
	urlPlaceholderPattern   = `__URL_PLACEHOLDER_%d__`
	emailPlaceholderPattern = `__EMAIL_PLACEHOLDER_%d__`
)

// Punctuation constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// collapsible marks are reduced to one when repeated ("!!!" becomes "!").
const collapsible = "!?,;:"

// danglingMarks are replaced by a period at the end of the text.
const danglingMarks = ",;:-"

// closers may follow the terminal punctuation of a sentence.
const closers = `"')]`

// Normalizer rewrites text for speech. It is safe for concurrent use.
type Normalizer struct {
	urlPattern          *regexp.Regexp
	emailPattern        *regexp.Regexp
	numberPattern       *regexp.Regexp
	referencePattern    *regexp.Regexp
	citationPattern     *regexp.Regexp
	whitespacePattern   *regexp.Regexp
	spaceBeforePunct    *regexp.Regexp
	longEllipsis        *regexp.Regexp
	abbreviations       *strings.Replacer
	typographicReplacer *strings.Replacer
}

// NewNormalizer creates a normalizer with compiled patterns and replacers.
func NewNormalizer() *Normalizer {
	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"St.", "Saint",
		"Co.", "Company",
		"Ltd.", "Limited",
		"Corp.", "Corporation",
		"Inc.", "Incorporated",
		"e.g.", "for example",
		"i.e.", "that is",
		"etc.", "et cetera",
	}

	return &Normalizer{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		emailPattern:      regexp.MustCompile(emailRegexPattern),
		numberPattern:     regexp.MustCompile(numberRegexPattern),
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		citationPattern:   regexp.MustCompile(citationRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		spaceBeforePunct:  regexp.MustCompile(spaceBeforePunctPatt),
		longEllipsis:      regexp.MustCompile(longEllipsisPattern),
		abbreviations:     strings.NewReplacer(abbreviations...),
		typographicReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize returns text rewritten for speech. Empty or blank input yields "".
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	preserved, placeholders := n.preserveTokens(text)

	cleaned := n.abbreviations.Replace(preserved)
	cleaned = n.referencePattern.ReplaceAllString(cleaned, "")
	cleaned = n.citationPattern.ReplaceAllString(cleaned, "")
	cleaned = n.numberPattern.ReplaceAllStringFunc(cleaned, numberToWords)
	cleaned = n.normalizeWhitespace(cleaned)

	restored := restoreTokens(cleaned, placeholders)

	return n.finalCleanup(restored)
}

// preserveTokens swaps URLs and emails for numbered placeholders.
func (n *Normalizer) preserveTokens(text string) (string, map[string]string) {
	placeholders := make(map[string]string)
	counter := 0
	processed := text

	replace := func(pattern *regexp.Regexp, placeholderFormat string) {
		processed = pattern.ReplaceAllStringFunc(processed, func(match string) string {
			placeholder := fmt.Sprintf(placeholderFormat, counter)
			placeholders[placeholder] = match
			counter++

			return placeholder
		})
	}

	replace(n.urlPattern, urlPlaceholderPattern)
	replace(n.emailPattern, emailPlaceholderPattern)

	return processed, placeholders
}

func restoreTokens(text string, placeholders map[string]string) string {
	for placeholder, original := range placeholders {
		text = strings.ReplaceAll(text, placeholder, original)
	}

	return text
}

func (n *Normalizer) normalizeWhitespace(text string) string {
	text = n.whitespacePattern.ReplaceAllString(text, " ")
	text = n.spaceBeforePunct.ReplaceAllString(text, "$1")

	return strings.TrimSpace(text)
}

func (n *Normalizer) finalCleanup(text string) string {
	text = n.typographicReplacer.Replace(text)
	text = n.longEllipsis.ReplaceAllString(text, ellipsis)
	text = collapseRepeatedPunctuation(text)

	return ensureSentenceEnding(text)
}

func collapseRepeatedPunctuation(text string) string {
	var builder strings.Builder

	builder.Grow(len(text))

	var previous rune

	for _, char := range text {
		if char == previous && strings.ContainsRune(collapsible, char) {
			continue
		}

		builder.WriteRune(char)

		previous = char
	}

	return builder.String()
}

// ensureSentenceEnding appends a period unless the text already ends with
// terminal punctuation, possibly followed by closing quotes or brackets.
func ensureSentenceEnding(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	core := strings.TrimRight(trimmed, closers)
	if core == "" {
		return trimmed
	}

	lastChar, _ := utf8.DecodeLastRuneInString(core)

	switch lastChar {
	case '.', '!', '?':
		return trimmed
	}

	if strings.ContainsRune(danglingMarks, lastChar) && core == trimmed {
		return strings.TrimRight(trimmed, danglingMarks) + "."
	}

	return trimmed + "."
}
