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

	"github.com/ppiankov/groundwork/internal/model"
)

// Responses API structures
type responsesRequest struct {
	Model           string               `json:"model"`
	Input           []responsesMessage   `json:"input"`
	MaxOutputTokens int                  `json:"max_output_tokens,omitempty"`
	Reasoning       *responsesReasoning  `json:"reasoning,omitempty"`
	Text            *responsesTextConfig `json:"text,omitempty"`
	Stream          bool                 `json:"stream,omitempty"`
}

type responsesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesReasoning struct {
	Effort string `json:"effort,omitempty"`
}

type responsesTextConfig struct {
	Verbosity string           `json:"verbosity,omitempty"`
	Format    *responsesFormat `json:"format,omitempty"`
}

type responsesFormat struct {
	Type string `json:"type"`
}

type responsesResponse struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Status string `json:"status"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage *responsesUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type responsesStreamEvent struct {
	Type     string             `json:"type"`
	Delta    string             `json:"delta"`
	Response *responsesResponse `json:"response"`
	Message  string             `json:"message"`
}

type openAIError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r *responsesResponse) text() string {
	var b strings.Builder
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func (u *responsesUsage) usage() Usage {
	if u == nil {
		return Usage{}
	}
	usage := NewUsage(u.InputTokens, u.OutputTokens)
	if u.TotalTokens > 0 {
		total := u.TotalTokens
		usage.TotalTokens = &total
	}
	return usage
}

func (p *OpenAIProvider) responsesRequest(req Request, stream bool) responsesRequest {
	apiReq := responsesRequest{
		Model:           p.config.model(req, "gpt-5-mini"),
		MaxOutputTokens: p.config.maxTokens(req),
		Stream:          stream,
	}
	// The Responses API takes instructions from the developer role
	for _, m := range req.Messages {
		role := string(m.Role)
		if m.Role == model.RoleSystem {
			role = "developer"
		}
		apiReq.Input = append(apiReq.Input, responsesMessage{Role: role, Content: m.Content})
	}
	if req.ReasoningEffort != "" {
		apiReq.Reasoning = &responsesReasoning{Effort: req.ReasoningEffort}
	}
	if req.Verbosity != "" || req.JSONMode {
		apiReq.Text = &responsesTextConfig{Verbosity: req.Verbosity}
		if req.JSONMode {
			apiReq.Text.Format = &responsesFormat{Type: "json_object"}
		}
	}
	return apiReq
}

// respond runs a non-streaming Responses API call
func (p *OpenAIProvider) respond(ctx context.Context, req Request) (*Response, error) {
	apiReq := p.responsesRequest(req, false)

	httpResp, err := p.postResponses(ctx, apiReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp responsesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return nil, fmt.Errorf("responses API error: %s", resp.Error.Message)
	}

	return &Response{
		Text:     resp.text(),
		Usage:    resp.Usage.usage(),
		Model:    firstNonEmpty(resp.Model, apiReq.Model),
		CallType: model.CallResponses,
	}, nil
}

// respondStream opens a streaming Responses API call
func (p *OpenAIProvider) respondStream(ctx context.Context, req Request) (*responsesStream, error) {
	httpResp, err := p.postResponses(ctx, p.responsesRequest(req, true))
	if err != nil {
		return nil, err
	}
	return &responsesStream{body: httpResp.Body, events: newSSEReader(httpResp.Body)}, nil
}

func (p *OpenAIProvider) postResponses(ctx context.Context, apiReq responsesRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if apiReq.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		respBody, _ := io.ReadAll(httpResp.Body)
		var apiErr openAIError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("responses API error (%d): %s", httpResp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("responses API error (%d): %s", httpResp.StatusCode, string(respBody))
	}
	return httpResp, nil
}

type responsesStream struct {
	body   io.ReadCloser
	events *sseReader
	cancel context.CancelFunc
	done   bool
}

func (s *responsesStream) Recv() (Chunk, error) {
	for {
		if s.done {
			return Chunk{}, io.EOF
		}
		ev, err := s.events.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Chunk{}, io.EOF
			}
			return Chunk{}, fmt.Errorf("responses stream error: %w", err)
		}
		if ev.Data == "" || ev.Data == "[DONE]" {
			continue
		}

		var payload responsesStreamEvent
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			continue
		}
		kind := firstNonEmpty(payload.Type, ev.Event)

		switch kind {
		case "response.output_text.delta":
			if payload.Delta != "" {
				return Chunk{Text: payload.Delta}, nil
			}
		case "response.completed":
			s.done = true
			if payload.Response != nil && payload.Response.Usage != nil {
				usage := payload.Response.Usage.usage()
				return Chunk{Usage: &usage}, nil
			}
			return Chunk{}, io.EOF
		case "response.failed", "error":
			msg := payload.Message
			if payload.Response != nil && payload.Response.Error != nil {
				msg = payload.Response.Error.Message
			}
			return Chunk{}, fmt.Errorf("responses stream failed: %s", msg)
		}
	}
}

func (s *responsesStream) Close() error {
	if s.cancel != nil {
		defer s.cancel()
	}
	return s.body.Close()
}
