package retrieval

import (
	"sort"

	"github.com/ppiankov/groundwork/internal/model"
)

// dedupeKeyPrefix is how much content identifies a passage without a document id
const dedupeKeyPrefix = 200

// Dedupe keeps one passage per key, preferring the higher relevance.
// The key is the document id when present, else title plus the first 200
// characters of the chunk. The result is sorted by relevance, descending.
func Dedupe(results []model.SearchResult) []model.SearchResult {
	best := make(map[string]int, len(results))
	out := make([]model.SearchResult, 0, len(results))

	for _, r := range results {
		key := dedupeKey(r)
		if i, ok := best[key]; ok {
			if r.Relevance > out[i].Relevance {
				out[i] = r
			}
			continue
		}
		best[key] = len(out)
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Relevance > out[j].Relevance
	})
	return out
}

func dedupeKey(r model.SearchResult) string {
	if r.DocumentID != "" {
		return r.DocumentID
	}
	chunk := []rune(r.Chunk)
	if len(chunk) > dedupeKeyPrefix {
		chunk = chunk[:dedupeKeyPrefix]
	}
	return r.Title + "|" + string(chunk)
}
