// Package assemble turns ranked passages into the tagged context block the
// model answers from, plus the id-to-passage map used to resolve citations.
package assemble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/groundwork/internal/model"
)

// EmptyContext replaces the context block when no passage survives
const EmptyContext = "[No context available from knowledge base]"

// Context is an assembled context block
type Context struct {
	Text    string
	Sources model.SourceMap
}

// Empty reports whether no passage made it into the block
func (c Context) Empty() bool {
	return len(c.Sources) == 0
}

// Build wraps up to maxChunks passages as <source id="N"> entries, numbering
// from 1 and skipping passages with no content
func Build(results []model.SearchResult, maxChunks int) Context {
	if maxChunks > 0 && len(results) > maxChunks {
		results = results[:maxChunks]
	}

	sources := make(model.SourceMap, len(results))
	entries := make([]string, 0, len(results))
	id := 1

	for _, r := range results {
		chunk := strings.TrimSpace(StripMarkup(r.Chunk))
		if chunk == "" {
			continue
		}
		if !endsTerminal(chunk) {
			chunk += "..."
		}
		chunk = strings.TrimSpace(DedupeLines(splitSentences(chunk)))

		sid := strconv.Itoa(id)
		entries = append(entries, fmt.Sprintf(`<source id="%s">%s</source>`, sid, chunk))
		sources[sid] = model.Source{
			Title:      r.Title,
			Content:    chunk,
			DocumentID: r.DocumentID,
			URL:        r.URL,
		}
		id++
	}

	if len(entries) == 0 {
		return Context{Text: EmptyContext, Sources: sources}
	}
	return Context{Text: strings.Join(entries, "\n\n"), Sources: sources}
}

// endsTerminal reports whether the chunk ends like a complete sentence.
// Anything else is treated as cut off mid-sentence by the indexer.
func endsTerminal(s string) bool {
	r := []rune(s)
	switch r[len(r)-1] {
	case '.', '?', '!', '"', '\'', ')', ']', '}', '”', '’':
		return true
	}
	return false
}

// splitSentences puts each sentence on its own paragraph
func splitSentences(text string) string {
	var parts []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
		default:
			continue
		}
		j := i + 1
		for j < len(runes) && isSpace(runes[j]) {
			j++
		}
		if j == i+1 || j == len(runes) {
			continue
		}
		parts = append(parts, strings.TrimSpace(string(runes[start:i+1])))
		start = j
		i = j - 1
	}
	parts = append(parts, strings.TrimSpace(string(runes[start:])))

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// DedupeLines drops repeated lines, keeping first occurrences in order, and
// collapses runs of blank lines into one
func DedupeLines(text string) string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(text, "\n") {
		s := strings.TrimSpace(line)
		if s == "" {
			if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
