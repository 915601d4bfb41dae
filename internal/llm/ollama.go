package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/util"
)

// OllamaProvider implements the Provider interface for Ollama local models
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
	config     Config
}

// Ollama API structures
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"` // Max tokens
}

type ollamaChatResponse struct {
	Model     string        `json:"model"`
	CreatedAt string        `json:"created_at"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	Error     string        `json:"error,omitempty"`

	// Token counts (only present when done=true)
	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: util.NewHTTPClient(0, util.ProxySettings{
			HTTPProxy:  config.HTTPProxy,
			HTTPSProxy: config.HTTPSProxy,
			NoProxy:    config.NoProxy,
		}),
		config: config,
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// IsAvailable checks if Ollama is running by listing models
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

func (p *OllamaProvider) timeout() time.Duration {
	timeout := time.Duration(p.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second // Local models can be slow
	}
	return timeout
}

// Complete runs a non-streaming chat call
func (p *OllamaProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Style == StyleReasoning {
		return nil, ErrStyleUnsupported
	}
	if p.config.model(req, "") == "" {
		return nil, fmt.Errorf("ollama model must be specified (e.g., llama3.1:8b, mistral)")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	apiReq := p.buildRequest(req, false)
	httpResp, err := p.post(ctx, "/api/chat", apiReq)
	if err != nil {
		return nil, fmt.Errorf("ollama API error: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	var resp ollamaChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	text := strings.TrimSpace(resp.Message.Content)
	return &Response{
		Text:     text,
		Usage:    ollamaUsage(resp, req.Messages, text),
		Model:    firstNonEmpty(resp.Model, apiReq.Model),
		CallType: model.CallChatCompletions,
	}, nil
}

// CompleteStream opens a streaming chat call; Ollama streams NDJSON
func (p *OllamaProvider) CompleteStream(ctx context.Context, req Request) (Stream, error) {
	if req.Style == StyleReasoning {
		return nil, ErrStyleUnsupported
	}
	if p.config.model(req, "") == "" {
		return nil, fmt.Errorf("ollama model must be specified (e.g., llama3.1:8b, mistral)")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	httpResp, err := p.post(ctx, "/api/chat", p.buildRequest(req, true))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ollama API error: %w", err)
	}

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &ollamaStream{body: httpResp.Body, scanner: scanner, cancel: cancel, prompt: req.Messages}, nil
}

// Embed returns the embedding of text from the configured embedding model
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	name := firstNonEmpty(p.config.EmbeddingModel, "nomic-embed-text")

	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	httpResp, err := p.post(ctx, "/api/embeddings", ollamaEmbedRequest{Model: name, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings error: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	var resp ollamaEmbedResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("unmarshal embedding: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (p *OllamaProvider) buildRequest(req Request, stream bool) ollamaChatRequest {
	apiReq := ollamaChatRequest{
		Model:  p.config.model(req, ""),
		Stream: stream,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  p.config.maxTokens(req),
		},
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.JSONMode {
		apiReq.Format = "json"
	}
	return apiReq
}

func (p *OllamaProvider) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		respBody, _ := io.ReadAll(httpResp.Body)
		var apiErr ollamaError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", httpResp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", httpResp.StatusCode, string(respBody))
	}
	return httpResp, nil
}

// ollamaUsage uses reported counts when present and estimates them otherwise
func ollamaUsage(resp ollamaChatResponse, prompt []model.Message, completion string) Usage {
	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		return NewUsage(resp.PromptEvalCount, resp.EvalCount)
	}
	return NewUsage(EstimateMessages(prompt), EstimateTokens(completion))
}

type ollamaStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	prompt  []model.Message
	text    strings.Builder
	done    bool
}

func (s *ollamaStream) Recv() (Chunk, error) {
	for {
		if s.done {
			return Chunk{}, io.EOF
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Chunk{}, fmt.Errorf("ollama stream error: %w", err)
			}
			return Chunk{}, io.EOF
		}

		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp ollamaChatResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return Chunk{}, fmt.Errorf("ollama stream decode: %w", err)
		}
		if resp.Error != "" {
			return Chunk{}, fmt.Errorf("ollama stream error: %s", resp.Error)
		}

		s.text.WriteString(resp.Message.Content)
		if resp.Done {
			s.done = true
			usage := ollamaUsage(resp, s.prompt, s.text.String())
			return Chunk{Text: resp.Message.Content, Usage: &usage}, nil
		}
		if resp.Message.Content != "" {
			return Chunk{Text: resp.Message.Content}, nil
		}
	}
}

func (s *ollamaStream) Close() error {
	defer s.cancel()
	return s.body.Close()
}
