package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mukut03/agents/framework"
	"github.com/mukut03/agents/logging"
	"github.com/mukut03/agents/metrics"
)

// DefaultMaxIterations caps tool rounds per query when unset.
const DefaultMaxIterations = 5

// DegradedAnswer is returned when no answer was produced within the cap.
const DegradedAnswer = "I could not determine an answer to your query."

var discardLogger = logging.Discard()

// Orchestrator runs the bounded reason/act loop for one conversation. It is
// not safe for concurrent ProcessQuery calls; use one Orchestrator per
// conversation.
type Orchestrator struct {
	Model         framework.LanguageModel
	Registry      *framework.ToolRegistry
	Extractor     *ActionExtractor
	Injector      *Injector
	MemoryRules   *MemoryRules
	Formatter     *ObservationFormatter
	Telemetry     framework.Telemetry
	Metrics       *metrics.Metrics
	Logger        *log.Logger
	SystemPrompt  string
	MaxIterations int
	// Stream drains StreamChat instead of calling Chat.
	Stream  bool
	Options *framework.LLMOptions

	memory *framework.Memory
}

// NewOrchestrator wires the default rule tables and formatter. mem may be nil,
// in which case a fresh Memory with the default window is created.
func NewOrchestrator(model framework.LanguageModel, registry *framework.ToolRegistry, mem *framework.Memory) *Orchestrator {
	if registry == nil {
		registry = framework.NewToolRegistry()
	}
	if mem == nil {
		mem = framework.NewMemory(framework.DefaultMaxMessages)
	}
	return &Orchestrator{
		Model:         model,
		Registry:      registry,
		Extractor:     &ActionExtractor{},
		Injector:      NewInjector(DefaultInjectionRules()),
		MemoryRules:   NewMemoryRules(DefaultMemoryRules()),
		Formatter:     NewObservationFormatter(),
		MaxIterations: DefaultMaxIterations,
		memory:        mem,
	}
}

// Memory exposes the conversation state.
func (o *Orchestrator) Memory() *framework.Memory { return o.memory }

// SetMemory replaces the conversation state, e.g. after a restore.
func (o *Orchestrator) SetMemory(mem *framework.Memory) {
	if mem != nil {
		o.memory = mem
	}
}

// Reset clears the conversation log and keyed memory.
func (o *Orchestrator) Reset() { o.memory.Clear() }

// ProcessQuery answers query. Parsing and tool failures are fed back to the
// model as observations; only language model failures are returned as errors,
// always as *framework.LLMError. Exhausting the iteration cap is not an error
// and yields DegradedAnswer.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string) (string, error) {
	logger := o.logger()
	if o.Model == nil {
		return "", framework.NewLLMError("no language model configured", nil, nil)
	}
	if !o.Model.IsAvailable(ctx) {
		logger.Error("language model unavailable")
		o.Metrics.ObserveQuery("error", 0)
		return "", framework.NewLLMError("language model unavailable", nil, nil)
	}
	start := time.Now()
	o.memory.AddMessage("user", query, nil)
	o.emit(framework.Event{Type: framework.EventQueryStart, Message: query})
	logger.Info("processing query", "max_iterations", o.maxIterations())

	iterations := 0
	for {
		text, err := o.callModel(ctx, iterations)
		if err != nil {
			logger.Error("language model call failed", "iteration", iterations, "err", err)
			o.finish("error", iterations, start)
			return "", err
		}
		action, err := o.extractor().Extract(text)
		if err == nil && action.IsAnswer() {
			answer := strings.TrimSpace(action.AnswerText())
			outcome := "answered"
			if answer == "" {
				answer = DegradedAnswer
				outcome = "degraded"
			}
			o.memory.AddMessage("assistant", answer, nil)
			o.finish(outcome, iterations, start)
			return answer, nil
		}
		if iterations >= o.maxIterations() {
			logger.Warn("iteration cap reached", "iterations", iterations)
			o.memory.AddMessage("assistant", DegradedAnswer, map[string]any{"degraded": true})
			o.finish("degraded", iterations, start)
			return DegradedAnswer, nil
		}
		var observation string
		if err != nil {
			observation = o.parseFailure(err, iterations)
			o.memory.AddMessage("assistant", "Observation: "+observation, map[string]any{"iteration": iterations})
		} else {
			o.emit(framework.Event{
				Type:      framework.EventActionParsed,
				Iteration: iterations,
				Tool:      action.Tool,
				Message:   action.Reasoning,
			})
			observation = o.toolRound(ctx, action, iterations)
			o.memory.AddMessage("assistant", "Observation: "+observation, map[string]any{
				"iteration": iterations,
				"tool":      action.Tool,
			})
		}
		iterations++
	}
}

func (o *Orchestrator) callModel(ctx context.Context, iteration int) (string, error) {
	messages := make([]framework.ChatMessage, 0, len(o.memory.History())+1)
	messages = append(messages, framework.ChatMessage{Role: "system", Content: o.systemPrompt()})
	messages = append(messages, o.memory.History()...)
	o.emit(framework.Event{
		Type:      framework.EventLLMPrompt,
		Iteration: iteration,
		Metadata:  map[string]any{"messages": len(messages), "stream": o.Stream},
	})

	var text string
	if o.Stream {
		ch, err := o.Model.StreamChat(ctx, messages, o.Options)
		if err != nil {
			return "", asLLMError("stream request failed", err)
		}
		text, err = framework.DrainStream(ctx, ch)
		if err != nil {
			return "", asLLMError("stream interrupted", err)
		}
	} else {
		resp, err := o.Model.Chat(ctx, messages, o.Options)
		if err != nil {
			return "", asLLMError("chat request failed", err)
		}
		if resp == nil {
			return "", framework.NewLLMError("empty response from language model", nil, nil)
		}
		text = resp.Text
	}
	o.emit(framework.Event{
		Type:      framework.EventLLMResponse,
		Iteration: iteration,
		Metadata:  map[string]any{"chars": len(text)},
	})
	return text, nil
}

func asLLMError(message string, err error) error {
	var llmErr *framework.LLMError
	if errors.As(err, &llmErr) {
		return llmErr
	}
	return framework.NewLLMError(message, err, nil)
}

func (o *Orchestrator) parseFailure(err error, iteration int) string {
	o.Metrics.IncParseError()
	msg := err.Error()
	var parseErr *framework.ParsingError
	if errors.As(err, &parseErr) {
		msg = parseErr.Message
		if parseErr.Cause != nil {
			msg = fmt.Sprintf("%s: %v", parseErr.Message, parseErr.Cause)
		}
		o.emit(framework.Event{
			Type:      framework.EventParseError,
			Iteration: iteration,
			Message:   msg,
			Metadata:  map[string]any{"raw_output": parseErr.Raw},
		})
	}
	o.logger().Warn("could not parse model reply", "iteration", iteration, "err", msg)
	return fmt.Sprintf("Error parsing your last reply: %s. Respond with a single <action> block containing valid JSON.", msg)
}

func (o *Orchestrator) toolRound(ctx context.Context, action Action, iteration int) string {
	logger := o.logger()
	input := o.Injector.Inject(action.Tool, action.ToolInput, o.memory)
	o.emit(framework.Event{
		Type:      framework.EventToolCall,
		Iteration: iteration,
		Tool:      action.Tool,
		Metadata:  map[string]any{"fields": sortedFields(input)},
	})
	logger.Info("executing tool", "tool", action.Tool, "iteration", iteration, "reasoning", action.Reasoning)

	start := time.Now()
	res, err := o.Registry.Execute(ctx, action.Tool, input)
	elapsed := time.Since(start)
	if err != nil {
		var notFound *framework.ToolNotFoundError
		var invalid *framework.InvalidToolInputError
		switch {
		case errors.As(err, &notFound):
			o.Metrics.ObserveTool(metrics.UnknownTool, "not_found", elapsed)
			logger.Warn("model requested unknown tool", "tool", action.Tool)
			o.emitResult(iteration, action.Tool, false, err.Error())
			return fmt.Sprintf("Error: tool '%s' does not exist. Available tools: %s.",
				action.Tool, strings.Join(o.Registry.Names(), ", "))
		case errors.As(err, &invalid):
			o.Metrics.ObserveTool(action.Tool, "invalid_input", elapsed)
			logger.Warn("invalid tool input", "tool", action.Tool, "fields", len(invalid.Fields))
			o.emitResult(iteration, action.Tool, false, err.Error())
			return fmt.Sprintf("Error: invalid input for tool '%s': %s.", action.Tool, describeFields(invalid.Fields))
		default:
			o.Metrics.ObserveTool(action.Tool, "error", elapsed)
			o.emitResult(iteration, action.Tool, false, err.Error())
			return fmt.Sprintf("Error executing tool '%s': %v", action.Tool, err)
		}
	}

	status := "ok"
	if res.Success {
		if keys := o.MemoryRules.Apply(action.Tool, res.Result, o.memory); len(keys) > 0 {
			o.emit(framework.Event{
				Type:      framework.EventMemoryUpdate,
				Iteration: iteration,
				Tool:      action.Tool,
				Metadata:  map[string]any{"keys": keys},
			})
			logger.Debug("stored tool result", "tool", action.Tool, "keys", keys)
		}
	} else {
		status = "error"
		logger.Warn("tool failed", "tool", action.Tool, "err", res.Error)
	}
	o.Metrics.ObserveTool(action.Tool, status, elapsed)
	errText := ""
	if res.Error != nil {
		errText = res.Error.Error()
	}
	o.emitResult(iteration, action.Tool, res.Success, errText)
	return o.formatter().Format(action.Tool, res)
}

func (o *Orchestrator) emitResult(iteration int, tool string, success bool, errText string) {
	meta := map[string]any{"success": success}
	if errText != "" {
		meta["error"] = errText
	}
	o.emit(framework.Event{Type: framework.EventToolResult, Iteration: iteration, Tool: tool, Metadata: meta})
}

func (o *Orchestrator) finish(outcome string, iterations int, start time.Time) {
	o.Metrics.ObserveQuery(outcome, iterations)
	o.emit(framework.Event{
		Type:      framework.EventQueryFinish,
		Iteration: iterations,
		Message:   outcome,
		Metadata:  map[string]any{"duration_ms": time.Since(start).Milliseconds()},
	})
	o.logger().Info("query finished", "outcome", outcome, "iterations", iterations)
}

func describeFields(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("'%s' %s", name, fields[name])
	}
	return strings.Join(parts, "; ")
}

func sortedFields(input map[string]any) []string {
	fields := make([]string, 0, len(input))
	for k := range input {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func (o *Orchestrator) emit(event framework.Event) {
	if o.Telemetry == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	o.Telemetry.Emit(event)
}

func (o *Orchestrator) maxIterations() int {
	if o.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return o.MaxIterations
}

func (o *Orchestrator) systemPrompt() string {
	if o.SystemPrompt != "" {
		return o.SystemPrompt
	}
	return BuildSystemPrompt("", o.Registry.Specs())
}

func (o *Orchestrator) extractor() *ActionExtractor {
	if o.Extractor == nil {
		o.Extractor = &ActionExtractor{Logger: o.Logger}
	}
	return o.Extractor
}

func (o *Orchestrator) formatter() *ObservationFormatter {
	if o.Formatter == nil {
		o.Formatter = NewObservationFormatter()
	}
	return o.Formatter
}

func (o *Orchestrator) logger() *log.Logger {
	if o.Logger == nil {
		return discardLogger
	}
	return o.Logger
}
