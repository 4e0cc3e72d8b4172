package usecase

import (
	"time"

	"nimbus/internal/domain"
)

// HistoryBuilder constructs the prompt message array for LLM calls.
// The system prompt is prepended at build time and never persisted
// with the thread.
type HistoryBuilder struct {
	systemPrompt string
	model        string
	maxRounds    int
	maxTokens    int
	counter      domain.TokenCounter // optional, nil disables the token budget
}

// NewHistoryBuilder creates a history builder. maxRounds bounds how many
// user turns are kept (0 = unlimited); maxTokens bounds the total token
// count when a counter is provided (0 = unlimited).
func NewHistoryBuilder(systemPrompt, model string, maxRounds, maxTokens int, counter domain.TokenCounter) *HistoryBuilder {
	return &HistoryBuilder{
		systemPrompt: systemPrompt,
		model:        model,
		maxRounds:    maxRounds,
		maxTokens:    maxTokens,
		counter:      counter,
	}
}

// Build assembles: system prompt + windowed conversation history.
func (hb *HistoryBuilder) Build(history []domain.Message, tools []domain.ToolSchema) domain.ChatRequest {
	windowed := hb.window(history)

	messages := make([]domain.Message, 0, 1+len(windowed))
	messages = append(messages, domain.Message{
		Role:      domain.RoleSystem,
		Content:   hb.systemPrompt,
		Timestamp: time.Now(),
	})
	messages = append(messages, windowed...)

	return domain.ChatRequest{
		Model:    hb.model,
		Messages: messages,
		Tools:    tools,
		Stream:   true,
	}
}

// window trims history to the most recent rounds that fit both limits.
// A round is a user message plus everything up to the next user message,
// so an assistant tool-call message and its tool results are never split
// from each other or from their user turn.
func (hb *HistoryBuilder) window(history []domain.Message) []domain.Message {
	rounds := groupRounds(history)
	if len(rounds) == 0 {
		return history
	}

	keep := len(rounds)
	if hb.maxRounds > 0 && keep > hb.maxRounds {
		keep = hb.maxRounds
	}

	if hb.maxTokens > 0 && hb.counter != nil {
		for keep > 1 {
			if hb.countRounds(rounds[len(rounds)-keep:]) <= hb.maxTokens {
				break
			}
			keep--
		}
	}

	kept := rounds[len(rounds)-keep:]
	total := 0
	for _, r := range kept {
		total += len(r)
	}
	result := make([]domain.Message, 0, total)
	for _, r := range kept {
		result = append(result, r...)
	}
	return result
}

func (hb *HistoryBuilder) countRounds(rounds [][]domain.Message) int {
	total := 0
	for _, r := range rounds {
		total += hb.counter.CountMessages(r)
	}
	return total
}

// groupRounds partitions messages into rounds starting at each user
// message. Messages before the first user message join the first round.
func groupRounds(msgs []domain.Message) [][]domain.Message {
	var rounds [][]domain.Message
	for _, msg := range msgs {
		if msg.Role == domain.RoleUser || len(rounds) == 0 {
			rounds = append(rounds, []domain.Message{msg})
			continue
		}
		last := len(rounds) - 1
		rounds[last] = append(rounds[last], msg)
	}
	return rounds
}
