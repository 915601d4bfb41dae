// Package extract finds the sources an answer cites and renumbers its
// citation markers per document.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/groundwork/internal/model"
)

// DefaultMinImplicitLength is the shortest source sentence that counts as an
// implicit citation when found verbatim in an answer
const DefaultMinImplicitLength = 30

var (
	markerGroup = regexp.MustCompile(`\[([\d,\s]+)\]`)
	sourceTag   = regexp.MustCompile(`<source id="(\d+)">`)
)

// Extractor resolves which sources an answer relies on
type Extractor struct {
	minImplicit int
}

// NewExtractor creates an extractor; minImplicit <= 0 uses the default
func NewExtractor(minImplicit int) *Extractor {
	if minImplicit <= 0 {
		minImplicit = DefaultMinImplicitLength
	}
	return &Extractor{minImplicit: minImplicit}
}

// Cited returns the sources the answer cites, in first-seen order. Ids the
// source map does not know are ignored. When the answer has no usable marker
// the sources whose sentences it quotes are returned instead.
func (e *Extractor) Cited(answer string, sources model.SourceMap) []model.CitedSource {
	var cited []model.CitedSource
	for _, id := range CitedIDs(answer) {
		if src, ok := sources[id]; ok {
			cited = append(cited, src.Cite(id))
		}
	}
	if len(cited) > 0 || len(sources) == 0 {
		return cited
	}
	return e.implicit(answer, sources)
}

func (e *Extractor) implicit(answer string, sources model.SourceMap) []model.CitedSource {
	lower := strings.ToLower(answer)
	var cited []model.CitedSource
	for _, id := range sources.IDs() {
		src := sources[id]
		for _, sentence := range splitSentences(strings.ToLower(src.Content)) {
			if len(sentence) >= e.minImplicit && strings.Contains(lower, sentence) {
				cited = append(cited, src.Cite(id))
				break
			}
		}
	}
	return cited
}

// CitedIDs returns every numeric id in [n] or [n, m] markers, first-seen order
func CitedIDs(text string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range markerGroup.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ",") {
			id := strings.TrimSpace(part)
			if !isDigits(id) || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// ContextIDs returns the ids of the <source id="N"> tags in a context block
func ContextIDs(context string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range sourceTag.FindAllStringSubmatch(context, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil && !strings.ContainsAny(s, "+-")
}

// splitSentences splits text after terminators that are followed by whitespace
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && isSpace(runes[i+1]) {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
