package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukut03/agents/framework"
	"github.com/mukut03/agents/metrics"
)

type scriptedLLM struct {
	replies     []string
	idx         int
	unavailable bool
	failAt      int
	prompts     [][]framework.ChatMessage
}

func (s *scriptedLLM) next(messages []framework.ChatMessage) (string, error) {
	s.prompts = append(s.prompts, append([]framework.ChatMessage(nil), messages...))
	if s.failAt > 0 && len(s.prompts) == s.failAt {
		return "", errors.New("connection refused")
	}
	if s.idx >= len(s.replies) {
		return "", errors.New("script exhausted")
	}
	reply := s.replies[s.idx]
	s.idx++
	return reply, nil
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []framework.ChatMessage, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	text, err := s.next(messages)
	if err != nil {
		return nil, err
	}
	return &framework.LLMResponse{Text: text}, nil
}

func (s *scriptedLLM) StreamChat(ctx context.Context, messages []framework.ChatMessage, options *framework.LLMOptions) (<-chan framework.StreamChunk, error) {
	text, err := s.next(messages)
	if err != nil {
		return nil, err
	}
	ch := make(chan framework.StreamChunk)
	go func() {
		defer close(ch)
		for _, word := range strings.SplitAfter(text, " ") {
			ch <- framework.StreamChunk{Text: word}
		}
	}()
	return ch, nil
}

func (s *scriptedLLM) IsAvailable(ctx context.Context) bool { return !s.unavailable }

type eventRecorder struct {
	events []framework.Event
}

func (r *eventRecorder) Emit(event framework.Event) { r.events = append(r.events, event) }

func (r *eventRecorder) types() []framework.EventType {
	out := make([]framework.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func echoRegistry(t *testing.T) *framework.ToolRegistry {
	t.Helper()
	registry := framework.NewToolRegistry()
	require.NoError(t, registry.Register(framework.ToolSpec{
		Name:        "echo",
		Description: "echoes text",
		Parameters:  []framework.ToolParameter{{Name: "text", Type: framework.ParamString, Required: true}},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return args["text"], nil
	}))
	return registry
}

func roles(history []framework.ChatMessage) []string {
	out := make([]string, len(history))
	for i, msg := range history {
		out[i] = msg.Role
	}
	return out
}

func TestProcessQueryEchoThenAnswer(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`<action>{"tool":"echo","tool_input":{"text":"hi"},"reasoning":"test"}</action>`,
		`<action>{"tool":"answer","tool_input":{"text":"done"},"reasoning":"ok"}</action>`,
	}}
	orch := NewOrchestrator(llm, echoRegistry(t), nil)
	recorder := &eventRecorder{}
	orch.Telemetry = recorder

	answer, err := orch.ProcessQuery(context.Background(), "start")
	require.NoError(t, err)
	assert.Equal(t, "done", answer)

	history := orch.Memory().History()
	require.Len(t, history, 3)
	assert.Equal(t, framework.ChatMessage{Role: "user", Content: "start"}, history[0])
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "Observation: Tool 'echo' returned: hi", history[1].Content)
	assert.Equal(t, framework.ChatMessage{Role: "assistant", Content: "done"}, history[2])

	require.Len(t, llm.prompts, 2)
	assert.Equal(t, "system", llm.prompts[0][0].Role)
	assert.Contains(t, llm.prompts[0][0].Content, "## echo")
	assert.Equal(t, []string{"system", "user", "assistant"}, roles(llm.prompts[1]))

	assert.Equal(t, framework.EventQueryStart, recorder.events[0].Type)
	assert.Equal(t, framework.EventQueryFinish, recorder.events[len(recorder.events)-1].Type)
	assert.Contains(t, recorder.types(), framework.EventToolCall)
	assert.Contains(t, recorder.types(), framework.EventToolResult)
}

func TestProcessQueryStreaming(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`<action>{"tool": "echo", "tool_input": {"text": "hi there"}, "reasoning": "test"}</action>`,
		`final answer without a block`,
	}}
	orch := NewOrchestrator(llm, echoRegistry(t), nil)
	orch.Stream = true

	answer, err := orch.ProcessQuery(context.Background(), "start")
	require.NoError(t, err)
	assert.Equal(t, "final answer without a block", answer)
	assert.Equal(t, "Observation: Tool 'echo' returned: hi there", orch.Memory().History()[1].Content)
}

func TestProcessQueryInjectsAndStoresHandoffValues(t *testing.T) {
	registry := framework.NewToolRegistry()
	require.NoError(t, registry.Register(framework.ToolSpec{Name: "get_route"}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{
			"polyline":        "_p~iF~ps|U",
			"polyline_coords": [][]float64{{1, 2}, {3, 4}},
			"distance_text":   "5 km",
			"duration_text":   "7 mins",
		}, nil
	}))
	var seen map[string]any
	require.NoError(t, registry.Register(framework.ToolSpec{
		Name:       "get_places",
		Parameters: []framework.ToolParameter{{Name: "polyline_coords", Type: framework.ParamArray, Required: true}},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		seen = args
		return []any{map[string]any{"name": "Normal", "type": "town"}}, nil
	}))

	llm := &scriptedLLM{replies: []string{
		`<action>{"tool":"get_route","tool_input":{"origin":"A","destination":"B"}}</action>`,
		`<action>{"tool":"get_places","tool_input":{}}</action>`,
		`<action>{"tool":"answer","tool_input":{"text":"One town."}}</action>`,
	}}
	orch := NewOrchestrator(llm, registry, nil)
	answer, err := orch.ProcessQuery(context.Background(), "what is on the way?")
	require.NoError(t, err)
	assert.Equal(t, "One town.", answer)

	require.NotNil(t, seen)
	assert.Equal(t, []any{[]any{1.0, 2.0}, []any{3.0, 4.0}}, seen["polyline_coords"])
	places, ok := orch.Memory().Recall(KeyPlaces)
	require.True(t, ok)
	assert.Len(t, places, 1)

	history := orch.Memory().History()
	assert.Equal(t, "Observation: Route calculated: 5 km, 7 mins", history[1].Content)
	assert.Equal(t, "Observation: Found 1 places along the route: 1 town", history[2].Content)
}

func TestProcessQueryCapFallsBack(t *testing.T) {
	reply := `<action>{"tool":"echo","tool_input":{"text":"again"}}</action>`
	llm := &scriptedLLM{replies: []string{reply, reply, reply, reply}}
	orch := NewOrchestrator(llm, echoRegistry(t), nil)
	orch.MaxIterations = 2
	orch.Metrics = metrics.MustNew(prometheus.NewRegistry())

	answer, err := orch.ProcessQuery(context.Background(), "loop")
	require.NoError(t, err)
	assert.Equal(t, DegradedAnswer, answer)
	assert.Len(t, llm.prompts, 3)

	history := orch.Memory().History()
	require.Len(t, history, 4)
	assert.Equal(t, DegradedAnswer, history[3].Content)
}

func TestProcessQueryEmptyAnswerFallsBack(t *testing.T) {
	llm := &scriptedLLM{replies: []string{`<action>{"tool":"answer","tool_input":{}}</action>`}}
	orch := NewOrchestrator(llm, echoRegistry(t), nil)
	answer, err := orch.ProcessQuery(context.Background(), "?")
	require.NoError(t, err)
	assert.Equal(t, DegradedAnswer, answer)
}

func TestProcessQueryParseErrorBecomesObservation(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`<action>{"tool":"echo","tool_input":{"text":"hi"}</action>`,
		`<action>{"tool":"answer","tool_input":{"text":"recovered"}}</action>`,
	}}
	orch := NewOrchestrator(llm, echoRegistry(t), nil)
	recorder := &eventRecorder{}
	orch.Telemetry = recorder

	answer, err := orch.ProcessQuery(context.Background(), "start")
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)
	history := orch.Memory().History()
	require.Len(t, history, 3)
	assert.True(t, strings.HasPrefix(history[1].Content, "Observation: Error parsing your last reply: failed to parse action JSON"))
	assert.Contains(t, history[1].Content, "<action> block")
	assert.Contains(t, recorder.types(), framework.EventParseError)
}

func TestProcessQueryUnknownToolBecomesObservation(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`<action>{"tool":"teleport","tool_input":{}}</action>`,
		`<action>{"tool":"answer","tool_input":{"text":"sorry"}}</action>`,
	}}
	orch := NewOrchestrator(llm, echoRegistry(t), nil)
	answer, err := orch.ProcessQuery(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "sorry", answer)
	assert.Equal(t, "Observation: Error: tool 'teleport' does not exist. Available tools: echo.", orch.Memory().History()[1].Content)
}

func TestProcessQueryUnknownToolUsesFixedMetricLabel(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`<action>{"tool":"teleport","tool_input":{}}</action>`,
		`<action>{"tool":"warp_drive","tool_input":{}}</action>`,
		`<action>{"tool":"answer","tool_input":{"text":"sorry"}}</action>`,
	}}
	reg := prometheus.NewRegistry()
	orch := NewOrchestrator(llm, echoRegistry(t), nil)
	orch.Metrics = metrics.MustNew(reg)
	_, err := orch.ProcessQuery(context.Background(), "go")
	require.NoError(t, err)

	expected := `
# HELP mapagent_tools_calls_total Tool dispatches, by tool and status.
# TYPE mapagent_tools_calls_total counter
mapagent_tools_calls_total{status="not_found",tool="unknown"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "mapagent_tools_calls_total"))
}

func TestProcessQueryInvalidInputBecomesObservation(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		`<action>{"tool":"echo","tool_input":{}}</action>`,
		`<action>{"tool":"answer","tool_input":{"text":"ok"}}</action>`,
	}}
	orch := NewOrchestrator(llm, echoRegistry(t), nil)
	_, err := orch.ProcessQuery(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Observation: Error: invalid input for tool 'echo': 'text' required field missing.", orch.Memory().History()[1].Content)
}

func TestProcessQueryToolFailureBecomesObservation(t *testing.T) {
	registry := framework.NewToolRegistry()
	require.NoError(t, registry.Register(framework.ToolSpec{Name: "flaky"}, func(ctx context.Context, args map[string]any) (any, error) {
		panic("backend exploded")
	}))
	llm := &scriptedLLM{replies: []string{
		`<action>{"tool":"flaky"}</action>`,
		`<action>{"tool":"answer","tool_input":{"text":"gave up"}}</action>`,
	}}
	orch := NewOrchestrator(llm, registry, nil)
	answer, err := orch.ProcessQuery(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "gave up", answer)
	assert.Equal(t, "Observation: Error executing tool 'flaky': panic: backend exploded", orch.Memory().History()[1].Content)
}

func TestProcessQueryUnavailableModel(t *testing.T) {
	llm := &scriptedLLM{unavailable: true}
	orch := NewOrchestrator(llm, echoRegistry(t), nil)
	answer, err := orch.ProcessQuery(context.Background(), "hello")
	assert.Empty(t, answer)
	var llmErr *framework.LLMError
	require.True(t, errors.As(err, &llmErr))
	assert.Empty(t, llm.prompts)
	assert.Empty(t, orch.Memory().History())
}

func TestProcessQueryModelFailureMidLoop(t *testing.T) {
	llm := &scriptedLLM{
		replies: []string{`<action>{"tool":"echo","tool_input":{"text":"hi"}}</action>`},
		failAt:  2,
	}
	orch := NewOrchestrator(llm, echoRegistry(t), nil)
	answer, err := orch.ProcessQuery(context.Background(), "hello")
	assert.Empty(t, answer)
	var llmErr *framework.LLMError
	require.True(t, errors.As(err, &llmErr))
	assert.Contains(t, llmErr.Error(), "connection refused")
}

func TestResetClearsMemory(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"plain"}}
	orch := NewOrchestrator(llm, echoRegistry(t), framework.NewMemory(4))
	_, err := orch.ProcessQuery(context.Background(), "hi")
	require.NoError(t, err)
	orch.Memory().Remember(KeyPlaces, []any{}, nil)
	orch.Reset()
	assert.Empty(t, orch.Memory().History())
	assert.Empty(t, orch.Memory().Keys())
	assert.Equal(t, 4, orch.Memory().MaxMessages())
}
