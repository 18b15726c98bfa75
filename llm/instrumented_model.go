package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mukut03/agents/framework"
	"github.com/mukut03/agents/metrics"
)

// InstrumentedModel wraps a LanguageModel and emits telemetry and metrics for
// prompts and responses.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Telemetry framework.Telemetry
	Metrics   *metrics.Metrics
	Debug     bool
}

func NewInstrumentedModel(inner framework.LanguageModel, telemetry framework.Telemetry, m *metrics.Metrics, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Telemetry: telemetry, Metrics: m, Debug: debug}
}

func (m *InstrumentedModel) Chat(ctx context.Context, messages []framework.ChatMessage, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	meta := chatMeta(messages, options)
	m.emitPrompt("chat", meta.base, meta.debug)
	start := time.Now()
	resp, err := m.Inner.Chat(ctx, messages, options)
	m.Metrics.ObserveLLM("chat", err, time.Since(start))
	m.emitResponse("chat", resp, err, time.Since(start))
	return resp, err
}

// StreamChat forwards chunks unchanged. The response event is emitted once
// the inner stream closes, carrying the accumulated text length.
func (m *InstrumentedModel) StreamChat(ctx context.Context, messages []framework.ChatMessage, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	meta := chatMeta(messages, options)
	m.emitPrompt("stream", meta.base, meta.debug)
	start := time.Now()
	inner, err := m.Inner.StreamChat(ctx, messages, options)
	if err != nil {
		m.Metrics.ObserveLLM("stream", err, time.Since(start))
		m.emitResponse("stream", nil, err, time.Since(start))
		return nil, err
	}
	out := make(chan framework.StreamChunk)
	go func() {
		defer close(out)
		var text strings.Builder
		var streamErr error
		for chunk := range inner {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			text.WriteString(chunk.Text)
			select {
			case out <- chunk:
			case <-ctx.Done():
				streamErr = ctx.Err()
				m.finishStream(text.String(), streamErr, start)
				for range inner {
				}
				return
			}
		}
		m.finishStream(text.String(), streamErr, start)
	}()
	return out, nil
}

func (m *InstrumentedModel) finishStream(text string, err error, start time.Time) {
	m.Metrics.ObserveLLM("stream", err, time.Since(start))
	resp := &framework.LLMResponse{Text: text, FinishReason: "stream"}
	if err != nil {
		resp = nil
	}
	m.emitResponse("stream", resp, err, time.Since(start))
}

func (m *InstrumentedModel) IsAvailable(ctx context.Context) bool {
	return m.Inner.IsAvailable(ctx)
}

type chatMetaPayload struct {
	base  map[string]any
	debug map[string]any
}

func chatMeta(messages []framework.ChatMessage, options *framework.LLMOptions) chatMetaPayload {
	var roles []string
	preview := make([]map[string]any, 0, min(len(messages), 20))
	for i, msg := range messages {
		if i >= 20 {
			break
		}
		roles = append(roles, msg.Role)
		preview = append(preview, map[string]any{
			"role":    msg.Role,
			"content": clip(msg.Content, 512),
		})
	}
	base := map[string]any{
		"model":            modelFromOptions(options),
		"message_count":    len(messages),
		"roles":            roles,
		"messages_preview": preview,
	}
	debug := map[string]any{}
	if len(messages) > 0 {
		full := make([]map[string]any, 0, len(messages))
		for _, msg := range messages {
			full = append(full, map[string]any{
				"role":    msg.Role,
				"content": clip(msg.Content, 8192),
			})
		}
		debug["messages"] = full
	}
	return chatMetaPayload{base: base, debug: debug}
}

func (m *InstrumentedModel) emitPrompt(kind string, base map[string]any, debugFields map[string]any) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]any{"kind": kind}
	for k, v := range base {
		metadata[k] = v
	}
	if m.Debug {
		for k, v := range debugFields {
			metadata[k] = v
		}
	}
	m.Telemetry.Emit(framework.Event{
		Type:      framework.EventLLMPrompt,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("llm %s prompt", kind),
		Metadata:  metadata,
	})
}

func (m *InstrumentedModel) emitResponse(kind string, resp *framework.LLMResponse, err error, elapsed time.Duration) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]any{
		"kind":        kind,
		"duration_ms": elapsed.Milliseconds(),
	}
	if resp != nil {
		metadata["finish_reason"] = resp.FinishReason
		metadata["text_preview"] = clip(resp.Text, 1024)
		if resp.Usage != nil {
			metadata["usage"] = resp.Usage
		}
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	m.Telemetry.Emit(framework.Event{
		Type:      framework.EventLLMResponse,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("llm %s response", kind),
		Metadata:  metadata,
	})
}

func modelFromOptions(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
