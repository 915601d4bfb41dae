package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/ppiankov/groundwork/internal/model"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// perMessageOverhead approximates the role and separator tokens of the chat format
const perMessageOverhead = 4

func loadEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// EstimateTokens counts tokens with the cl100k encoding.
// When the encoding cannot be loaded it falls back to one token per four bytes.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := loadEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// EstimateMessages estimates the prompt tokens of a message list
func EstimateMessages(messages []model.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + perMessageOverhead
	}
	return total
}
