package framework

import (
	"context"
	"strings"
)

// ChatMessage is the role/content pair sent to a language model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMOptions tunes a single model call. Zero values mean provider default.
type LLMOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
	TopP        float64
}

// LLMResponse is the result of a blocking chat call.
type LLMResponse struct {
	Text         string         `json:"text,omitempty"`
	Model        string         `json:"model,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        map[string]int `json:"usage,omitempty"`
}

// StreamChunk is one increment of a streamed reply. A chunk with Err set is
// the last one the producer sends.
type StreamChunk struct {
	Text string
	Err  error
}

// LanguageModel is the model capability the orchestrator depends on.
// StreamChat producers must close the returned channel when the reply is
// complete or after sending an error chunk.
type LanguageModel interface {
	Chat(ctx context.Context, messages []ChatMessage, options *LLMOptions) (*LLMResponse, error)
	StreamChat(ctx context.Context, messages []ChatMessage, options *LLMOptions) (<-chan StreamChunk, error)
	IsAvailable(ctx context.Context) bool
}

// DrainStream accumulates a stream into one string. It returns only after
// the channel is closed, an error chunk arrives, or ctx is done.
func DrainStream(ctx context.Context, ch <-chan StreamChunk) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return b.String(), nil
			}
			if chunk.Err != nil {
				return b.String(), chunk.Err
			}
			b.WriteString(chunk.Text)
		}
	}
}
