package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/util"
)

// AnthropicProvider implements the Provider interface for Anthropic Claude models
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	config     Config
}

// Anthropic API structures
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(config Config) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &AnthropicProvider{
		apiKey:  config.APIKey,
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
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// IsAvailable checks if the provider is properly configured
func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	req := anthropicRequest{
		Model:     "claude-3-5-haiku-20241022",
		MaxTokens: 10,
		Messages:  []anthropicMessage{{Role: "user", Content: "Hi"}},
	}
	_, err := p.makeRequest(ctx, req)
	return err == nil
}

func (p *AnthropicProvider) timeout() time.Duration {
	timeout := time.Duration(p.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return timeout
}

// Complete runs a Messages API call
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Style == StyleReasoning {
		return nil, ErrStyleUnsupported
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	apiReq := p.buildRequest(req)
	resp, err := p.makeRequest(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("Anthropic API error: %w", err)
	}

	var b strings.Builder
	for _, part := range resp.Content {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}

	return &Response{
		Text:     strings.TrimSpace(b.String()),
		Usage:    NewUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens),
		Model:    firstNonEmpty(resp.Model, apiReq.Model),
		CallType: model.CallChatCompletions,
	}, nil
}

// CompleteStream opens a streaming Messages API call
func (p *AnthropicProvider) CompleteStream(ctx context.Context, req Request) (Stream, error) {
	if req.Style == StyleReasoning {
		return nil, ErrStyleUnsupported
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	apiReq := p.buildRequest(req)
	apiReq.Stream = true

	httpResp, err := p.post(ctx, apiReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("Anthropic API error: %w", err)
	}
	return &anthropicStream{body: httpResp.Body, events: newSSEReader(httpResp.Body), cancel: cancel}, nil
}

// Embed is not offered by the Messages API
func (p *AnthropicProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrEmbeddingsUnsupported
}

func (p *AnthropicProvider) buildRequest(req Request) anthropicRequest {
	apiReq := anthropicRequest{
		Model:       p.config.model(req, "claude-3-5-sonnet-20241022"),
		MaxTokens:   p.config.maxTokens(req),
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	// System messages are hoisted into the top-level system field
	var system []string
	for _, m := range req.Messages {
		if m.Role == model.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	apiReq.System = strings.Join(system, "\n\n")
	if req.JSONMode {
		apiReq.System = strings.TrimSpace(apiReq.System + "\n\nRespond with a single JSON object and nothing else.")
	}
	return apiReq
}

// makeRequest makes an HTTP request to the Anthropic API
func (p *AnthropicProvider) makeRequest(ctx context.Context, apiReq anthropicRequest) (*anthropicResponse, error) {
	httpResp, err := p.post(ctx, apiReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

func (p *AnthropicProvider) post(ctx context.Context, apiReq anthropicRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/messages", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		respBody, _ := io.ReadAll(httpResp.Body)
		var apiErr anthropicError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s - %s", httpResp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", httpResp.StatusCode, string(respBody))
	}
	return httpResp, nil
}

type anthropicStream struct {
	body         io.ReadCloser
	events       *sseReader
	cancel       context.CancelFunc
	inputTokens  int
	outputTokens int
	done         bool
}

func (s *anthropicStream) Recv() (Chunk, error) {
	for {
		if s.done {
			return Chunk{}, io.EOF
		}
		ev, err := s.events.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Chunk{}, io.EOF
			}
			return Chunk{}, fmt.Errorf("Anthropic stream error: %w", err)
		}
		if ev.Data == "" {
			continue
		}

		var payload anthropicStreamEvent
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			continue
		}

		switch payload.Type {
		case "message_start":
			if payload.Message != nil {
				s.inputTokens = payload.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if payload.Delta != nil && payload.Delta.Text != "" {
				return Chunk{Text: payload.Delta.Text}, nil
			}
		case "message_delta":
			if payload.Usage != nil {
				s.outputTokens = payload.Usage.OutputTokens
			}
		case "message_stop":
			s.done = true
			usage := NewUsage(s.inputTokens, s.outputTokens)
			return Chunk{Usage: &usage}, nil
		case "error":
			if payload.Error != nil {
				return Chunk{}, fmt.Errorf("Anthropic stream error: %s", payload.Error.Message)
			}
			return Chunk{}, fmt.Errorf("Anthropic stream error")
		}
	}
}

func (s *anthropicStream) Close() error {
	defer s.cancel()
	return s.body.Close()
}
