package completion

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu        sync.Mutex
	calls     []llm.Request
	failStyle llm.CallStyle
	failTimes int
	chunks    []string
	usage     *llm.Usage
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	if req.Style == f.failStyle {
		return nil, errors.New("style rejected")
	}
	if f.failTimes > 0 {
		f.failTimes--
		return nil, errors.New("transient")
	}
	return &llm.Response{Text: "answer", Usage: llm.NewUsage(100, 20), CallType: callType(req.Style, false)}, nil
}

func (f *fakeProvider) CompleteStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	if req.Style == f.failStyle {
		return nil, errors.New("style rejected")
	}
	return &fakeStream{chunks: append([]string(nil), f.chunks...), usage: f.usage}, nil
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, llm.ErrEmbeddingsUnsupported
}

func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return true }

type fakeStream struct {
	chunks []string
	usage  *llm.Usage
	sent   bool
}

func (s *fakeStream) Recv() (llm.Chunk, error) {
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		return llm.Chunk{Text: c}, nil
	}
	if s.usage != nil && !s.sent {
		s.sent = true
		return llm.Chunk{Usage: s.usage}, nil
	}
	return llm.Chunk{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

type memorySink struct {
	mu      sync.Mutex
	records []model.UsageRecord
}

func (m *memorySink) SaveUsage(ctx context.Context, rec model.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func newTestOrchestrator(p llm.Provider, sink UsageSink, attempts int) *Orchestrator {
	return New(p, nil, sink, nil, nil, Config{Model: "gpt-4o", MaxAttempts: attempts, RetryDelay: time.Millisecond})
}

func TestComplete_RecordsUsageAndCost(t *testing.T) {
	sink := &memorySink{}
	o := newTestOrchestrator(&fakeProvider{}, sink, 1)

	resp, err := o.Complete(context.Background(), llm.Request{QueryID: "q1", Scenario: "answer"})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Text)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "q1", rec.QueryID)
	assert.Equal(t, "gpt-4o", rec.Model)
	assert.Equal(t, model.CallChatCompletions, rec.CallType)
	assert.Equal(t, 120, rec.TotalTokens)
	assert.InDelta(t, 100*2.50/1e6+20*10.0/1e6, rec.TotalCost, 1e-12)
	assert.True(t, rec.Succeeded)
}

func TestComplete_RetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{failTimes: 2}
	o := newTestOrchestrator(p, nil, 3)

	_, err := o.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Len(t, p.calls, 3)
}

func TestComplete_GivesUpAfterMaxAttempts(t *testing.T) {
	p := &fakeProvider{failTimes: 5}
	sink := &memorySink{}
	o := newTestOrchestrator(p, sink, 2)

	_, err := o.Complete(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.Len(t, p.calls, 2)
	require.Len(t, sink.records, 1)
	assert.False(t, sink.records[0].Succeeded)
}

func TestComplete_ReasoningFallsBackToStandard(t *testing.T) {
	p := &fakeProvider{failStyle: llm.StyleReasoning}
	sink := &memorySink{}
	o := newTestOrchestrator(p, sink, 1)

	msgs := []model.Message{model.User("q")}
	resp, err := o.Complete(context.Background(), llm.Request{
		Messages:  msgs,
		Style:     llm.StyleReasoning,
		MaxTokens: 700,
	})
	require.NoError(t, err)
	assert.Equal(t, model.CallChatCompletions, resp.CallType)

	require.Len(t, p.calls, 2)
	assert.Equal(t, llm.StyleReasoning, p.calls[0].Style)
	assert.Equal(t, llm.StyleStandard, p.calls[1].Style)
	assert.Equal(t, msgs, p.calls[1].Messages)
	assert.Equal(t, 700, p.calls[1].MaxTokens)

	// One failed reasoning record plus one successful standard record
	require.Len(t, sink.records, 2)
	assert.Equal(t, model.CallResponses, sink.records[0].CallType)
	assert.False(t, sink.records[0].Succeeded)
	assert.True(t, sink.records[1].Succeeded)
}

func TestComplete_StyleUnsupportedIsNotRetried(t *testing.T) {
	p := &fakeProvider{}
	o := newTestOrchestrator(&styleless{p}, nil, 3)

	_, err := o.Complete(context.Background(), llm.Request{Style: llm.StyleReasoning})
	require.NoError(t, err)
	// one rejected reasoning attempt, one standard call
	assert.Len(t, p.calls, 1)
}

type styleless struct{ *fakeProvider }

func (s *styleless) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if req.Style == llm.StyleReasoning {
		return nil, llm.ErrStyleUnsupported
	}
	return s.fakeProvider.Complete(ctx, req)
}

func TestStream_ForwardsChunksAndUsage(t *testing.T) {
	usage := llm.NewUsage(50, 3)
	p := &fakeProvider{chunks: []string{"a", "b", "c"}, usage: &usage}
	sink := &memorySink{}
	o := newTestOrchestrator(p, sink, 1)

	var got []string
	resp, err := o.Stream(context.Background(), llm.Request{}, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, "abc", resp.Text)

	require.Len(t, sink.records, 1)
	assert.Equal(t, model.CallChatCompletionsStream, sink.records[0].CallType)
	assert.Equal(t, 53, sink.records[0].TotalTokens)
	assert.False(t, sink.records[0].Estimated)
}

func TestStream_EstimatesMissingUsage(t *testing.T) {
	p := &fakeProvider{chunks: []string{"some streamed words"}}
	sink := &memorySink{}
	o := newTestOrchestrator(p, sink, 1)

	_, err := o.Stream(context.Background(), llm.Request{Messages: []model.Message{model.User("question")}}, nil)
	require.NoError(t, err)
	require.Len(t, sink.records, 1)
	assert.True(t, sink.records[0].Estimated)
	assert.Greater(t, sink.records[0].CompletionTokens, 0)
}

func TestStream_DrainsAfterConsumerStops(t *testing.T) {
	p := &fakeProvider{chunks: []string{"x", "y", "z"}}
	o := newTestOrchestrator(p, nil, 1)

	calls := 0
	resp, err := o.Stream(context.Background(), llm.Request{}, func(s string) error {
		calls++
		return errors.New("consumer gone")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "xyz", resp.Text)
}

func TestStream_ReasoningFallsBack(t *testing.T) {
	p := &fakeProvider{failStyle: llm.StyleReasoning, chunks: []string{"ok"}}
	o := newTestOrchestrator(p, nil, 1)

	resp, err := o.Stream(context.Background(), llm.Request{Style: llm.StyleReasoning}, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, model.CallChatCompletionsStream, resp.CallType)
}

func TestEmbed_UnsupportedNotRetried(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{}, nil, 3)
	_, err := o.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, llm.ErrEmbeddingsUnsupported)
}
