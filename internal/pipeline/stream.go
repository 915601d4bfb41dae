package pipeline

import (
	"context"
	"strings"

	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/model"
)

// Emit receives the events of a streaming turn in order. The last event is
// always of type metadata.
type Emit func(model.StreamEvent) error

// emitter forwards events until the consumer fails once, then drops the rest
type emitter struct {
	emit      Emit
	c         *Controller
	queryID   string
	broken    bool
	forwarded int
}

func (e *emitter) send(ev model.StreamEvent) error {
	if e.broken {
		return nil
	}
	if err := e.emit(ev); err != nil {
		e.broken = true
		e.c.log.Warn("pipeline", "stream consumer failed, dropping further events", map[string]interface{}{
			"query_id": e.queryID,
			"error":    err.Error(),
		})
		return err
	}
	if ev.Type == model.EventChunk {
		e.forwarded++
	}
	return nil
}

// Stream answers query like Generate but delivers the draft as it is
// produced. When the correction loop rewrites the draft a replace event
// carries the final text before the metadata event. The turn runs to
// completion even if emit fails.
func (c *Controller) Stream(ctx context.Context, query, sessionID string, isEnhanced bool, emit Emit) error {
	t, unlock, err := c.begin(ctx, query, sessionID, modeStreaming)
	if err != nil {
		return err
	}
	defer unlock()

	out := &emitter{emit: emit, c: c, queryID: t.queryID}

	results := c.retrieve(ctx, t, isEnhanced)
	if len(results) == 0 {
		ans := c.noResults(ctx, t)
		_ = out.send(model.StreamEvent{Type: model.EventChunk, Text: ans.Text})
		_ = out.send(model.StreamEvent{Type: model.EventMetadata, Metadata: &model.StreamMetadata{
			QueryID:   t.queryID,
			Status:    ans.Status,
			Sources:   []model.CitedSource{},
			FinalText: ans.Text,
		}})
		return nil
	}

	c.compose(ctx, t, results)

	start := c.now()
	resp, err := c.completer.Stream(ctx, t.request, func(chunk string) error {
		return out.send(model.StreamEvent{Type: model.EventChunk, Text: chunk})
	})
	t.llmMS = c.now().Sub(start).Milliseconds()
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = llm.ErrEmptyCompletion
	}
	if err != nil {
		ans := c.failed(t, err)
		if out.forwarded == 0 {
			_ = out.send(model.StreamEvent{Type: model.EventChunk, Text: ans.Text})
		}
		_ = out.send(model.StreamEvent{Type: model.EventMetadata, Metadata: &model.StreamMetadata{
			QueryID:   t.queryID,
			Status:    ans.Status,
			Sources:   []model.CitedSource{},
			FinalText: ans.Text,
			Failed:    true,
		}})
		return nil
	}
	c.commit(ctx, t, resp.Text)

	ans := c.finish(ctx, t, resp.Text)
	if ans.Correction.WasCorrected() {
		_ = out.send(model.StreamEvent{Type: model.EventReplace, Text: ans.Text})
	}

	sources := ans.CitedSources
	if sources == nil {
		sources = []model.CitedSource{}
	}
	_ = out.send(model.StreamEvent{Type: model.EventMetadata, Metadata: &model.StreamMetadata{
		QueryID:     t.queryID,
		Status:      ans.Status,
		Sources:     sources,
		Evaluation:  ans.Evaluation,
		Correction:  ans.Correction,
		Context:     ans.Context,
		Renumbering: ans.Renumbering,
		FinalText:   ans.Text,
	}})

	c.record(ctx, t, ans)
	return nil
}
