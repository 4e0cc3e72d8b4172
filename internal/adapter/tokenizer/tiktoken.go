// Package tokenizer provides a tiktoken based token counter for
// history windowing.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"nimbus/internal/domain"
)

// perMessageOverhead approximates the wrapper tokens the chat format
// adds around each message.
const perMessageOverhead = 4

// Counter implements domain.TokenCounter using a tiktoken encoding.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// New creates a counter for the given encoding name (e.g. "cl100k_base").
// Falls back to cl100k_base when the name is unknown.
func New(encoding string) (*Counter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get fallback encoding: %w", err)
		}
	}
	return &Counter{enc: enc}, nil
}

// Count implements domain.TokenCounter.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages implements domain.TokenCounter.
func (c *Counter) CountMessages(messages []domain.Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		total += c.Count(m.Content)
		total += c.Count(m.Reasoning)
		for _, tc := range m.ToolCalls {
			total += c.Count(tc.Name)
			total += c.Count(string(tc.Arguments))
		}
	}
	return total
}

var _ domain.TokenCounter = (*Counter)(nil)
