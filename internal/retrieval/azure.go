package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/util"
)

// AzureSearch queries an Azure AI Search index over its REST API
type AzureSearch struct {
	endpoint    string
	index       string
	apiKey      string
	apiVersion  string
	vectorField string
	client      *http.Client
}

// AzureConfig configures an AzureSearch client
type AzureConfig struct {
	Endpoint    string
	Index       string
	APIKey      string
	APIVersion  string
	VectorField string
	Timeout     time.Duration
	Proxy       util.ProxySettings
}

// NewAzureSearch creates an Azure AI Search client
func NewAzureSearch(config AzureConfig) (*AzureSearch, error) {
	if config.Endpoint == "" || config.Index == "" {
		return nil, fmt.Errorf("azure search requires endpoint and index")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("azure search API key is required")
	}
	if config.APIVersion == "" {
		config.APIVersion = "2024-07-01"
	}
	if config.VectorField == "" {
		config.VectorField = "text_vector"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &AzureSearch{
		endpoint:    strings.TrimRight(config.Endpoint, "/"),
		index:       config.Index,
		apiKey:      config.APIKey,
		apiVersion:  config.APIVersion,
		vectorField: config.VectorField,
		client:      util.NewHTTPClient(config.Timeout, config.Proxy),
	}, nil
}

type azureVectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

type azureSearchRequest struct {
	Search        string             `json:"search"`
	Top           int                `json:"top,omitempty"`
	Select        string             `json:"select"`
	VectorQueries []azureVectorQuery `json:"vectorQueries,omitempty"`
}

type azureSearchResponse struct {
	Value []map[string]json.RawMessage `json:"value"`
}

type azureError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Search runs a hybrid text and vector query
func (a *AzureSearch) Search(ctx context.Context, q Query) ([]model.SearchResult, error) {
	reqBody := azureSearchRequest{
		Search: q.Text,
		Top:    q.Top,
		Select: strings.Join([]string{"chunk", "title", "parent_id", a.vectorField}, ","),
	}
	if len(q.Vector) > 0 {
		k := q.KNN
		if k <= 0 {
			k = q.Top
		}
		reqBody.VectorQueries = []azureVectorQuery{{
			Kind:   "vector",
			Vector: q.Vector,
			Fields: a.vectorField,
			K:      k,
		}}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	u := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s",
		a.endpoint, url.PathEscape(a.index), url.QueryEscape(a.apiVersion))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr azureError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("search error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("search error (%d): %s", resp.StatusCode, string(data))
	}

	var parsed azureSearchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]model.SearchResult, 0, len(parsed.Value))
	for _, doc := range parsed.Value {
		r := model.SearchResult{
			Title:     "Untitled",
			Relevance: 1.0,
		}
		decodeField(doc, "chunk", &r.Chunk)
		decodeField(doc, "title", &r.Title)
		decodeField(doc, "parent_id", &r.DocumentID)
		decodeField(doc, "@search.score", &r.Relevance)
		decodeField(doc, a.vectorField, &r.Embedding)
		results = append(results, r)
	}
	return results, nil
}

// decodeField leaves dst untouched when the field is missing, null or mistyped
func decodeField(doc map[string]json.RawMessage, key string, dst interface{}) {
	raw, ok := doc[key]
	if !ok || string(raw) == "null" {
		return
	}
	_ = json.Unmarshal(raw, dst)
}
