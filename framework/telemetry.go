package framework

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventQueryStart   EventType = "query_start"
	EventQueryFinish  EventType = "query_finish"
	EventLLMPrompt    EventType = "llm_prompt"
	EventLLMResponse  EventType = "llm_response"
	EventActionParsed EventType = "action_parsed"
	EventParseError   EventType = "parse_error"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventMemoryUpdate EventType = "memory_update"
)

// Event captures structured telemetry data.
type Event struct {
	Type      EventType      `json:"type"`
	Iteration int            `json:"iteration"`
	Tool      string         `json:"tool,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Telemetry receives execution traces from the orchestrator and the model
// wrappers. Implementations must not block for long; they run inline.
type Telemetry interface {
	Emit(event Event)
}

// NopTelemetry drops every event.
type NopTelemetry struct{}

// Emit implements Telemetry.
func (NopTelemetry) Emit(Event) {}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file.
// This allows external tools to tail and process the stream in real-time.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{
		path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		j.enc = nil
		return err
	}
	return nil
}

// LoggerTelemetry emits events at debug level through a structured logger.
type LoggerTelemetry struct {
	Logger *log.Logger
}

// Emit logs the event.
func (t LoggerTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		logger = log.Default()
	}
	keyvals := []any{"iteration", event.Iteration}
	if event.Tool != "" {
		keyvals = append(keyvals, "tool", event.Tool)
	}
	if len(event.Metadata) > 0 {
		keyvals = append(keyvals, "meta", event.Metadata)
	}
	msg := string(event.Type)
	if event.Message != "" {
		msg += ": " + event.Message
	}
	logger.Debug(msg, keyvals...)
}
