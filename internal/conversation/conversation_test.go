package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SeedsSystemPrompt(t *testing.T) {
	s := NewStore("")
	s.Append(model.RoleUser, "hi")
	assert.Equal(t, 1, s.Len(), "no default prompt configured")

	s = Restore("be helpful", nil)
	s.Clear(false)
	s.Append(model.RoleUser, "hi")
	h := s.History()
	require.Len(t, h, 2)
	assert.Equal(t, model.RoleSystem, h[0].Role)
	assert.Equal(t, "be helpful", h[0].Content)
}

func TestStore_ClearPreservesSystem(t *testing.T) {
	s := NewStore("sys")
	s.Append(model.RoleUser, "q")
	s.Append(model.RoleAssistant, "a")

	s.Clear(true)
	assert.Equal(t, []model.Message{model.System("sys")}, s.History())

	s.Clear(false)
	assert.Empty(t, s.History())
}

func TestStore_HistoryIsCopy(t *testing.T) {
	s := NewStore("sys")
	h := s.History()
	h[0].Content = "changed"
	assert.Equal(t, "sys", s.History()[0].Content)
}

func TestStore_SetSystem(t *testing.T) {
	s := Restore("default", []model.Message{model.User("q"), model.Assistant("a")})
	require.Equal(t, 3, s.Len())

	s.SetSystem("custom")
	assert.Equal(t, "custom", s.History()[0].Content)

	s.Append(model.RoleUser, "q2")
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, 2, s.UserTurns())
}

type scriptedCompleter struct {
	text string
	err  error
	reqs []llm.Request
}

func (c *scriptedCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Text: c.text}, nil
}

func longHistory(n int) []model.Message {
	h := []model.Message{model.System("sys")}
	for i := 1; len(h) < n; i++ {
		if i%2 == 1 {
			h = append(h, model.User(fmt.Sprintf("question %d", i)))
		} else {
			h = append(h, model.Assistant(fmt.Sprintf("answer %d [%d]", i, i)))
		}
	}
	return h
}

func TestCondense_UnderLimitUnchanged(t *testing.T) {
	c := NewCondenser(&scriptedCompleter{text: "x"}, CondenserConfig{MaxTurns: 5, Summarize: true}, nil)
	h := longHistory(11)
	out, trimmed := c.Condense(context.Background(), "q", h)
	assert.False(t, trimmed)
	assert.Equal(t, h, out)
}

func TestCondense_SummarizesOlderTurns(t *testing.T) {
	comp := &scriptedCompleter{text: "earlier talk [2]"}
	c := NewCondenser(comp, CondenserConfig{MaxTurns: 5, Summarize: true, Temperature: 0.3}, nil)

	h := longHistory(13)
	out, trimmed := c.Condense(context.Background(), "q", h)
	require.True(t, trimmed)
	require.Len(t, out, 12)

	assert.Equal(t, h[0], out[0])
	assert.Equal(t, model.RoleSystem, out[1].Role)
	assert.Equal(t, "Previous conversation summary: earlier talk [2]", out[1].Content)
	assert.Equal(t, h[3:], out[2:])

	require.Len(t, comp.reqs, 1)
	prompt := comp.reqs[0].Messages[1].Content
	assert.Contains(t, prompt, "USER: question 1")
	assert.Contains(t, prompt, "preserve these citation references in your summary: [2]")
	assert.Equal(t, "summarize", comp.reqs[0].Scenario)
}

func TestCondense_TruncatesWhenSummaryDisabled(t *testing.T) {
	comp := &scriptedCompleter{text: "unused"}
	c := NewCondenser(comp, CondenserConfig{MaxTurns: 2, Summarize: false}, nil)

	h := longHistory(9)
	out, trimmed := c.Condense(context.Background(), "q", h)
	require.True(t, trimmed)
	require.Len(t, out, 5)
	assert.Equal(t, h[0], out[0])
	assert.Equal(t, h[5:], out[1:])
	assert.Empty(t, comp.reqs)
}

func TestCondense_NoSystemMessageIsNotPinned(t *testing.T) {
	h := longHistory(10)[1:]
	require.Equal(t, model.RoleUser, h[0].Role)

	truncating := NewCondenser(nil, CondenserConfig{MaxTurns: 2}, nil)
	out, trimmed := truncating.Condense(context.Background(), "q", h)
	require.True(t, trimmed)
	assert.Equal(t, h[len(h)-4:], out)

	comp := &scriptedCompleter{text: "earlier turns [2]"}
	summarizing := NewCondenser(comp, CondenserConfig{MaxTurns: 2, Summarize: true}, nil)
	out, trimmed = summarizing.Condense(context.Background(), "q", h)
	require.True(t, trimmed)
	require.Len(t, out, 5)
	assert.Equal(t, model.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, "earlier turns [2]")
	assert.Equal(t, h[len(h)-4:], out[1:])
	require.Len(t, comp.reqs, 1)
	assert.Contains(t, comp.reqs[0].Messages[1].Content, "question 1")
}

func TestCondense_SummaryFailureKeepsHistory(t *testing.T) {
	c := NewCondenser(&scriptedCompleter{err: errors.New("boom")}, CondenserConfig{MaxTurns: 2, Summarize: true}, nil)
	h := longHistory(9)
	out, trimmed := c.Condense(context.Background(), "q", h)
	assert.False(t, trimmed)
	assert.Equal(t, h, out)
}

func TestMemorySessionStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Hour)

	_, found, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, found)

	sess := NewSession("s1")
	sess.Persona = "scientist"
	sess.Messages = []model.Message{model.System("sys"), model.User("q")}
	require.NoError(t, store.Save(ctx, sess))

	got, found, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "scientist", got.Persona)
	assert.Equal(t, sess.Messages, got.Messages)

	// mutation of a loaded copy does not leak back
	got.Messages = nil
	again, _, _ := store.Load(ctx, "s1")
	assert.Len(t, again.Messages, 2)

	require.NoError(t, store.Delete(ctx, "s1"))
	_, found, _ = store.Load(ctx, "s1")
	assert.False(t, found)
}

func TestMemorySessionStore_LockIsExclusive(t *testing.T) {
	store := NewMemorySessionStore(time.Hour)

	unlock, err := store.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = store.Lock(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionLocked)

	// other sessions are independent
	other, err := store.Lock(context.Background(), "s2")
	require.NoError(t, err)
	other()

	unlock()
	unlock() // second release is a no-op

	again, err := store.Lock(context.Background(), "s1")
	require.NoError(t, err)
	again()
}

func TestMemorySessionStore_LocksAreFreedAfterUse(t *testing.T) {
	store := NewMemorySessionStore(time.Hour)

	for i := 0; i < 50; i++ {
		unlock, err := store.Lock(context.Background(), fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		unlock()
	}

	held, err := store.Lock(context.Background(), "busy")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = store.Lock(ctx, "busy")
	require.ErrorIs(t, err, ErrSessionLocked)

	store.mu.Lock()
	assert.Len(t, store.locks, 1, "only the held session keeps a lock entry")
	assert.Equal(t, 1, store.locks["busy"].refs)
	store.mu.Unlock()

	held()
	store.mu.Lock()
	assert.Empty(t, store.locks)
	store.mu.Unlock()
}

func TestRedisSessionStore(t *testing.T) {
	url := os.Getenv("GROUNDWORK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("GROUNDWORK_TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	store, err := NewRedisSessionStore(url, time.Minute)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Ping(ctx))

	id := "test-" + strings.ReplaceAll(t.Name(), "/", "-")
	sess := NewSession(id)
	sess.Messages = []model.Message{model.System("sys")}
	require.NoError(t, store.Save(ctx, sess))

	got, found, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sess.Messages, got.Messages)

	unlock, err := store.Lock(ctx, id)
	require.NoError(t, err)
	short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = store.Lock(short, id)
	assert.ErrorIs(t, err, ErrSessionLocked)
	unlock()

	require.NoError(t, store.Delete(ctx, id))
}
