package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/groundwork/internal/llm"
	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/model"
)

// Completer runs a single model call
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// CondenserConfig controls how history is shortened
type CondenserConfig struct {
	MaxTurns         int     // Recent user/assistant exchanges kept verbatim
	Summarize        bool    // Replace older turns with a summary instead of dropping them
	MaxSummaryTokens int     // Token cap for the summary call
	Temperature      float64 // Temperature for the summary call
}

// Condenser shortens a history before it is sent to the model
type Condenser struct {
	completer Completer
	config    CondenserConfig
	log       logging.Logger
}

// NewCondenser creates a condenser. completer may be nil, in which case
// history is always truncated.
func NewCondenser(completer Completer, config CondenserConfig, log logging.Logger) *Condenser {
	if config.MaxTurns <= 0 {
		config.MaxTurns = 5
	}
	if config.MaxSummaryTokens <= 0 {
		config.MaxSummaryTokens = 800
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Condenser{completer: completer, config: config, log: log}
}

// MaxTurns returns the number of exchanges kept verbatim
func (c *Condenser) MaxTurns() int {
	return c.config.MaxTurns
}

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

const summarizerSystem = "You create concise summaries that preserve technical details, product information, " +
	"and citation references exactly as they appear in the original text."

// Condense returns history shortened to the system prompt plus the last
// MaxTurns exchanges, with older turns folded into one summary message when
// summarization is enabled. The second result reports whether anything was
// dropped. A failed summary call leaves the history unchanged.
func (c *Condenser) Condense(ctx context.Context, queryID string, history []model.Message) ([]model.Message, bool) {
	keep := c.config.MaxTurns * 2
	if len(history) <= keep+1 {
		return history, false
	}

	recent := history[len(history)-keep:]

	// Only a leading system message is pinned.
	var head []model.Message
	if history[0].Role == model.RoleSystem {
		head = history[:1]
	}

	if !c.config.Summarize || c.completer == nil {
		out := make([]model.Message, 0, keep+1)
		out = append(out, head...)
		out = append(out, recent...)
		return out, true
	}

	older := history[len(head) : len(history)-keep]
	summary, err := c.summarize(ctx, queryID, older)
	if err != nil {
		c.log.Warn("conversation", "history summary failed, sending full history", map[string]interface{}{
			"query_id": queryID,
			"messages": len(history),
			"error":    err.Error(),
		})
		return history, false
	}

	out := make([]model.Message, 0, keep+2)
	out = append(out, head...)
	out = append(out, model.System("Previous conversation summary: "+summary))
	out = append(out, recent...)

	c.log.Debug("conversation", "history condensed", map[string]interface{}{
		"query_id":   queryID,
		"before":     len(history),
		"after":      len(out),
		"summarized": len(older),
	})
	return out, true
}

func (c *Condenser) summarize(ctx context.Context, queryID string, msgs []model.Message) (string, error) {
	var citations []string
	for _, m := range msgs {
		if m.Role != model.RoleAssistant {
			continue
		}
		for _, match := range citationMarker.FindAllString(m.Content, -1) {
			citations = append(citations, match)
		}
	}

	var b strings.Builder
	b.WriteString("Summarize the following conversation while:\n")
	b.WriteString("1. Preserving ALL mentions of specific products, models, and technical details\n")
	b.WriteString("2. Maintaining ALL citation references [X] in their original form\n")
	b.WriteString("3. Keeping the key questions and answers\n")
	b.WriteString("4. Focusing on technical information rather than conversational elements\n\n")
	b.WriteString("Conversation to summarize:")
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n\n%s: %s", strings.ToUpper(string(m.Role)), m.Content)
	}
	if len(citations) > 0 {
		fmt.Fprintf(&b, "\n\nIMPORTANT: Make sure to preserve these citation references in your summary: %s",
			strings.Join(citations, ", "))
	}

	resp, err := c.completer.Complete(ctx, llm.Request{
		Messages:    []model.Message{model.System(summarizerSystem), model.User(b.String())},
		Temperature: llm.Temp(c.config.Temperature),
		MaxTokens:   c.config.MaxSummaryTokens,
		QueryID:     queryID,
		Scenario:    "summarize",
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", llm.ErrEmptyCompletion
	}
	return text, nil
}
