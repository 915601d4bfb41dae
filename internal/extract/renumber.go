package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/groundwork/internal/model"
)

var singleMarker = regexp.MustCompile(`\[(\d+)\]`)

// Renumbered is the outcome of document-level renumbering
type Renumbered struct {
	Text    string              // Answer with markers rewritten
	Sources []model.CitedSource // One entry per cited document, ids 1..M
	Mapping map[string]string   // Old chunk id to new document id
}

// DocumentKey groups passages of the same document: the document id when
// set, else the normalized title
func DocumentKey(s model.CitedSource) string {
	if s.DocumentID != "" {
		return s.DocumentID
	}
	return strings.ToLower(strings.TrimSpace(s.Title))
}

// Renumber collapses cited chunks to one entry per document, numbered in
// order of first appearance, and rewrites the answer's markers to match.
// The mapping is computed from cited as given, so it must be applied only
// once per draft; a second pass needs a source map keyed to the new ids.
func Renumber(answer string, cited []model.CitedSource) Renumbered {
	docNewID := make(map[string]string)
	mapping := make(map[string]string, len(cited))
	var sources []model.CitedSource

	for _, src := range cited {
		key := DocumentKey(src)
		newID, ok := docNewID[key]
		if !ok {
			newID = strconv.Itoa(len(sources) + 1)
			docNewID[key] = newID
			entry := src
			entry.ID = newID
			sources = append(sources, entry)
		}
		mapping[src.ID] = newID
	}

	text := markerGroup.ReplaceAllStringFunc(answer, func(marker string) string {
		inner := marker[1 : len(marker)-1]
		parts := strings.Split(inner, ",")
		if len(parts) == 1 {
			if newID, ok := mapping[strings.TrimSpace(inner)]; ok {
				return "[" + newID + "]"
			}
			return marker
		}

		seen := make(map[string]bool, len(parts))
		out := make([]string, 0, len(parts))
		changed := false
		for _, p := range parts {
			id := strings.TrimSpace(p)
			if id == "" {
				continue
			}
			if newID, ok := mapping[id]; ok {
				id = newID
				changed = true
			}
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		if !changed {
			return marker
		}
		return "[" + strings.Join(out, ", ") + "]"
	})

	return Renumbered{
		Text:    CollapseAdjacent(text),
		Sources: sources,
		Mapping: mapping,
	}
}

// CollapseAdjacent reduces runs of the same marker, optionally separated by
// whitespace, to a single marker: "[1][1]" and "[2] [2]" become "[1]" and "[2]"
func CollapseAdjacent(text string) string {
	locs := singleMarker.FindAllStringIndex(text, -1)
	if len(locs) < 2 {
		return text
	}

	var b strings.Builder
	last := 0
	prevMarker := ""
	prevEnd := -1

	for _, loc := range locs {
		marker := text[loc[0]:loc[1]]
		if marker == prevMarker && strings.TrimSpace(text[prevEnd:loc[0]]) == "" {
			// drop the gap and the repeated marker
			last = loc[1]
			prevEnd = loc[1]
			continue
		}
		b.WriteString(text[last:loc[1]])
		last = loc[1]
		prevMarker = marker
		prevEnd = loc[1]
	}
	b.WriteString(text[last:])
	return b.String()
}
