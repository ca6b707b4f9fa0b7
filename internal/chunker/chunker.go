// Package chunker splits extracted blocks into bounded, pause-annotated segments.
//
// Segments break preferentially at paragraph, then sentence, then clause, then
// whitespace boundaries and never inside a word. Each segment carries the pause
// that should follow it: a clause pause is shorter than a sentence pause, which is
// shorter than a paragraph pause. Chunking is deterministic.
package chunker

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/extract"
	"github.com/book-expert/narrator/internal/text"
)

const defaultMaxChars = 400

// Options configures a Chunker.
type Options struct {
	MaxChars       int
	ClausePause    time.Duration
	SentencePause  time.Duration
	ParagraphPause time.Duration
	Normalize      bool
}

// boundary is the kind of break that ends a unit of text, weakest first.
type boundary int

const (
	boundaryWord boundary = iota
	boundaryClause
	boundarySentence
	boundaryParagraph
)

var (
	strongPattern   = regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`)
	moderatePattern = regexp.MustCompile(`\*([^*\s][^*]*)\*|\b_([^_]+)_\b`)
)

// abbreviations never end a sentence even though they end with a period.
var abbreviations = map[string]struct{}{
	"mr.": {}, "mrs.": {}, "ms.": {}, "dr.": {}, "st.": {}, "co.": {},
	"ltd.": {}, "corp.": {}, "inc.": {}, "vs.": {}, "e.g.": {}, "i.e.": {},
	"no.": {}, "fig.": {}, "p.": {}, "pp.": {}, "vol.": {}, "ch.": {},
}

// Chunker converts blocks into text segments. It is safe for concurrent use.
type Chunker struct {
	normalizer *text.Normalizer
	opts       Options
}

// New creates a chunker. A non-positive MaxChars falls back to the default.
func New(opts Options) *Chunker {
	if opts.MaxChars <= 0 {
		opts.MaxChars = defaultMaxChars
	}

	return &Chunker{opts: opts, normalizer: text.NewNormalizer()}
}

// unit is a sentence, or a piece of one that exceeded MaxChars.
type unit struct {
	text     string
	end      boundary
	emphasis core.Emphasis
}

// ChunkText chunks raw text, treating blank lines as paragraph boundaries.
func (c *Chunker) ChunkText(raw string) []core.TextSegment {
	return c.Chunk(extract.PlainText(raw))
}

// Chunk converts blocks into segments indexed 0..n-1 in document order.
func (c *Chunker) Chunk(blocks []core.Block) []core.TextSegment {
	var segments []core.TextSegment

	for _, block := range blocks {
		units := c.units(block)
		if len(units) == 0 {
			continue
		}

		blockEnd := boundaryParagraph
		if block.Kind == core.BlockListItem {
			blockEnd = boundarySentence
		}

		units[len(units)-1].end = blockEnd

		for _, segment := range c.pack(units) {
			if block.Kind == core.BlockHeading {
				segment.PauseBefore = c.opts.ParagraphPause
			}

			segment.Index = len(segments)
			segments = append(segments, segment)
		}
	}

	return segments
}

func (c *Chunker) units(block core.Block) []unit {
	var units []unit

	for _, sentence := range splitSentences(block.Text) {
		emphasis, plain := stripEmphasis(sentence)
		if c.opts.Normalize {
			plain = c.normalizer.Normalize(plain)
		}

		plain = strings.TrimSpace(plain)
		if plain == "" {
			continue
		}

		if utf8.RuneCountInString(plain) <= c.opts.MaxChars {
			units = append(units, unit{text: plain, end: boundarySentence, emphasis: emphasis})

			continue
		}

		pieces := c.splitLong(plain)
		for i, piece := range pieces {
			if i == len(pieces)-1 {
				piece.end = boundarySentence
			}

			piece.emphasis = emphasis
			units = append(units, piece)
		}
	}

	return units
}

// splitLong breaks an oversized sentence at clause marks, then at whitespace.
func (c *Chunker) splitLong(sentence string) []unit {
	var pieces []unit

	for _, clause := range splitClauses(sentence) {
		if utf8.RuneCountInString(clause) <= c.opts.MaxChars {
			pieces = append(pieces, unit{text: clause, end: boundaryClause})

			continue
		}

		words := c.packWords(strings.Fields(clause))
		for i, word := range words {
			end := boundaryWord
			if i == len(words)-1 {
				end = boundaryClause
			}

			pieces = append(pieces, unit{text: word, end: end})
		}
	}

	return pieces
}

// packWords joins words greedily into runs of at most MaxChars runes. A single
// word longer than MaxChars is emitted on its own.
func (c *Chunker) packWords(words []string) []string {
	var (
		runs    []string
		current strings.Builder
		length  int
	)

	for _, word := range words {
		wordLen := utf8.RuneCountInString(word)
		if length > 0 && length+1+wordLen > c.opts.MaxChars {
			runs = append(runs, current.String())
			current.Reset()

			length = 0
		}

		if length > 0 {
			current.WriteByte(' ')

			length++
		}

		current.WriteString(word)

		length += wordLen
	}

	if length > 0 {
		runs = append(runs, current.String())
	}

	return runs
}

// pack greedily merges consecutive units into segments within the size bound.
func (c *Chunker) pack(units []unit) []core.TextSegment {
	var (
		segments []core.TextSegment
		parts    []string
		length   int
		emphasis core.Emphasis
		last     boundary
	)

	flush := func() {
		if len(parts) == 0 {
			return
		}

		segments = append(segments, core.TextSegment{
			Content:    strings.Join(parts, " "),
			PauseAfter: c.pauseFor(last),
			Emphasis:   emphasis,
		})
		parts = nil
		length = 0
		emphasis = core.EmphasisNone
	}

	for _, u := range units {
		unitLen := utf8.RuneCountInString(u.text)
		if length > 0 && length+1+unitLen > c.opts.MaxChars {
			flush()
		}

		if length > 0 {
			length++
		}

		parts = append(parts, u.text)
		length += unitLen
		last = u.end
		emphasis = stronger(emphasis, u.emphasis)
	}

	flush()

	return segments
}

func (c *Chunker) pauseFor(b boundary) time.Duration {
	switch b {
	case boundaryParagraph:
		return c.opts.ParagraphPause
	case boundarySentence:
		return c.opts.SentencePause
	case boundaryClause:
		return c.opts.ClausePause
	default:
		return 0
	}
}

func stronger(a, b core.Emphasis) core.Emphasis {
	if a == core.EmphasisStrong || b == core.EmphasisStrong {
		return core.EmphasisStrong
	}

	if a == core.EmphasisModerate || b == core.EmphasisModerate {
		return core.EmphasisModerate
	}

	return core.EmphasisNone
}

// stripEmphasis removes Markdown emphasis markers and reports the strongest found.
func stripEmphasis(sentence string) (core.Emphasis, string) {
	emphasis := core.EmphasisNone

	if strongPattern.MatchString(sentence) {
		emphasis = core.EmphasisStrong
		sentence = strongPattern.ReplaceAllString(sentence, "$1$2")
	}

	if moderatePattern.MatchString(sentence) {
		emphasis = stronger(emphasis, core.EmphasisModerate)
		sentence = moderatePattern.ReplaceAllString(sentence, "$1$2")
	}

	return emphasis, sentence
}

// splitSentences splits text after terminal punctuation followed by whitespace,
// keeping closing quotes and brackets with the sentence they close.
func splitSentences(input string) []string {
	var sentences []string

	runes := []rune(input)
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}

		end := i + 1
		for end < len(runes) && (isTerminal(runes[end]) || strings.ContainsRune(`"')]`, runes[end])) {
			end++
		}

		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			i = end - 1

			continue
		}

		candidate := strings.TrimSpace(string(runes[start:end]))
		if runes[i] == '.' && endsWithAbbreviation(candidate) {
			i = end - 1

			continue
		}

		if candidate != "" {
			sentences = append(sentences, candidate)
		}

		start = end
		i = end - 1
	}

	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}

	return sentences
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func endsWithAbbreviation(sentence string) bool {
	fields := strings.Fields(sentence)
	if len(fields) == 0 {
		return false
	}

	word := strings.ToLower(strings.TrimLeft(fields[len(fields)-1], `"'(*_`))
	if _, ok := abbreviations[word]; ok {
		return true
	}

	// A single capital initial such as "J." in "J. R. Tolkien".
	letters := []rune(fields[len(fields)-1])

	return len(letters) == 2 && unicode.IsUpper(letters[0])
}

// splitClauses splits after clause punctuation followed by whitespace.
func splitClauses(sentence string) []string {
	var clauses []string

	start := 0
	runes := []rune(sentence)

	for i := 0; i < len(runes)-1; i++ {
		if strings.ContainsRune(",;:", runes[i]) && unicode.IsSpace(runes[i+1]) {
			clauses = append(clauses, strings.TrimSpace(string(runes[start:i+1])))
			start = i + 1
		}
	}

	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		clauses = append(clauses, rest)
	}

	return clauses
}
