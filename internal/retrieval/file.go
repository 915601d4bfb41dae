package retrieval

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/ppiankov/groundwork/internal/model"
	"gopkg.in/yaml.v3"
)

// FileRetriever searches a local YAML corpus of passages. Passages with an
// embedding are scored by cosine similarity when the query has a vector;
// the rest are scored by query term overlap.
type FileRetriever struct {
	passages []model.SearchResult
}

type corpusFile struct {
	Passages []model.SearchResult `yaml:"passages"`
}

// LoadFileRetriever reads a corpus file
func LoadFileRetriever(path string) (*FileRetriever, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	var corpus corpusFile
	if err := yaml.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}
	return NewFileRetriever(corpus.Passages), nil
}

// NewFileRetriever creates a retriever over in-memory passages
func NewFileRetriever(passages []model.SearchResult) *FileRetriever {
	return &FileRetriever{passages: passages}
}

// Len returns the corpus size
func (f *FileRetriever) Len() int {
	return len(f.passages)
}

// Search scores every passage and returns the best q.Top with a positive score
func (f *FileRetriever) Search(ctx context.Context, q Query) ([]model.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := tokenize(q.Text)
	scored := make([]model.SearchResult, 0, len(f.passages))
	for _, p := range f.passages {
		var score float64
		if len(q.Vector) > 0 && len(p.Embedding) > 0 {
			score = Cosine(q.Vector, p.Embedding)
		} else {
			score = overlap(terms, tokenize(p.Title+" "+p.Chunk))
		}
		if score <= 0 {
			continue
		}
		r := p
		r.Relevance = score
		scored = append(scored, r)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Relevance > scored[j].Relevance
	})
	if q.Top > 0 && len(scored) > q.Top {
		scored = scored[:q.Top]
	}
	return scored, nil
}

// overlap is the share of query terms present in the passage
func overlap(query []string, passage []string) float64 {
	if len(query) == 0 {
		return 0
	}
	present := make(map[string]bool, len(passage))
	for _, t := range passage {
		present[t] = true
	}
	hits := 0
	for _, t := range query {
		if present[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "do": true, "does": true, "for": true,
	"how": true, "i": true, "in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "the": true, "to": true, "what": true, "with": true, "can": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
