package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/util"
	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements the Provider interface for OpenAI models.
// Standard calls go through Chat Completions; reasoning calls use the Responses API.
type OpenAIProvider struct {
	client     *openai.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
	config     Config
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	// No client-level timeout: streams may outlive it. Calls bound themselves by context.
	httpClient := util.NewHTTPClient(0, util.ProxySettings{
		HTTPProxy:  config.HTTPProxy,
		HTTPSProxy: config.HTTPSProxy,
		NoProxy:    config.NoProxy,
	})

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = httpClient

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     config.APIKey,
		config:     config,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsAvailable checks if the provider is properly configured
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}

func (p *OpenAIProvider) timeout() time.Duration {
	timeout := time.Duration(p.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return timeout
}

// Complete runs a chat completion, or a Responses API call for the reasoning style
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	if req.Style == StyleReasoning {
		return p.respond(ctx, req)
	}

	chatReq := p.chatRequest(req)
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	return &Response{
		Text:     strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage:    NewUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		Model:    firstNonEmpty(resp.Model, chatReq.Model),
		CallType: model.CallChatCompletions,
	}, nil
}

// CompleteStream opens a streaming call that reports usage on its final chunk
func (p *OpenAIProvider) CompleteStream(ctx context.Context, req Request) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())

	if req.Style == StyleReasoning {
		s, err := p.respondStream(ctx, req)
		if err != nil {
			cancel()
			return nil, err
		}
		s.cancel = cancel
		return s, nil
	}

	chatReq := p.chatRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	return &openAIChatStream{stream: stream, cancel: cancel}, nil
}

// Embed returns the embedding vector of text using the configured embedding model
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	name := p.config.EmbeddingModel
	if name == "" {
		name = string(openai.SmallEmbedding3)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(name),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

func (p *OpenAIProvider) chatRequest(req Request) openai.ChatCompletionRequest {
	name := p.config.model(req, openai.GPT4oMini)

	chatReq := openai.ChatCompletionRequest{
		Model:    name,
		Messages: toOpenAIMessages(req.Messages),
	}

	// Reasoning-family models reject max_tokens and sampling parameters
	if isReasoningModel(name) {
		chatReq.MaxCompletionTokens = p.config.maxTokens(req)
		chatReq.ReasoningEffort = req.ReasoningEffort
	} else {
		chatReq.MaxTokens = p.config.maxTokens(req)
		if req.Temperature != nil {
			chatReq.Temperature = nonZero(*req.Temperature)
		}
		if req.TopP != nil {
			chatReq.TopP = nonZero(*req.TopP)
		}
		chatReq.PresencePenalty = req.PresencePenalty
		chatReq.FrequencyPenalty = req.FrequencyPenalty
	}

	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return chatReq
}

// nonZero keeps an explicit zero from being dropped by omitempty
func nonZero(v float32) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return v
}

func isReasoningModel(name string) bool {
	name = strings.ToLower(name)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func toOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}

type openAIChatStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
}

func (s *openAIChatStream) Recv() (Chunk, error) {
	resp, err := s.stream.Recv()
	if errors.Is(err, io.EOF) {
		return Chunk{}, io.EOF
	}
	if err != nil {
		return Chunk{}, fmt.Errorf("OpenAI stream error: %w", err)
	}

	var chunk Chunk
	if len(resp.Choices) > 0 {
		chunk.Text = resp.Choices[0].Delta.Content
	}
	if resp.Usage != nil {
		usage := NewUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		chunk.Usage = &usage
	}
	return chunk, nil
}

func (s *openAIChatStream) Close() error {
	defer s.cancel()
	return s.stream.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
