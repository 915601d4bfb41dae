package model

import (
	"sort"
	"strconv"
)

// SearchResult is a passage returned by the retrieval service
type SearchResult struct {
	Chunk      string    `json:"chunk" yaml:"chunk"`
	Title      string    `json:"title" yaml:"title"`
	DocumentID string    `json:"document_id,omitempty" yaml:"document_id,omitempty"` // Parent document; passages of one document share it
	URL        string    `json:"url,omitempty" yaml:"url,omitempty"`
	Relevance  float64   `json:"relevance" yaml:"relevance,omitempty"`
	Embedding  []float32 `json:"-" yaml:"embedding,omitempty"`
}

// Source is a passage placed in the context block under a numeric id
type Source struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	DocumentID string `json:"document_id,omitempty"`
	URL        string `json:"url,omitempty"`
}

// SourceMap maps the 1-based string ids used in the context block to their passages
type SourceMap map[string]Source

// IDs returns the map's ids in ascending numeric order
func (m SourceMap) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
	return ids
}

// CitedSource is a source the answer actually relies on
type CitedSource struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	DocumentID string `json:"document_id,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Cite converts a source into a cited source under the given id
func (s Source) Cite(id string) CitedSource {
	return CitedSource{
		ID:         id,
		Title:      s.Title,
		Content:    s.Content,
		DocumentID: s.DocumentID,
		URL:        s.URL,
	}
}
