package framework

import (
	"fmt"
	"sort"
	"strings"
)

// ErrorCode classifies failures raised by the agent core.
type ErrorCode string

const (
	ErrCodeUnknown          ErrorCode = "unknown_error"
	ErrCodeToolNotFound     ErrorCode = "tool_not_found"
	ErrCodeToolExecution    ErrorCode = "tool_execution_error"
	ErrCodeInvalidToolInput ErrorCode = "invalid_tool_input"
	ErrCodeLLM              ErrorCode = "llm_error"
	ErrCodeParsing          ErrorCode = "parsing_error"
	ErrCodeMemory           ErrorCode = "memory_error"
	ErrCodeConfig           ErrorCode = "config_error"
)

// CodedError is implemented by every error type in this package so callers
// can branch on the kind without a type switch.
type CodedError interface {
	error
	Code() ErrorCode
	Details() map[string]any
}

func formatError(code ErrorCode, message string, details map[string]any) string {
	if len(details) == 0 {
		return fmt.Sprintf("%s: %s", code, message)
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return fmt.Sprintf("%s: %s (%s)", code, message, strings.Join(parts, ", "))
}

// ParsingError reports a model reply that could not be turned into an action.
// Raw always holds the complete reply text.
type ParsingError struct {
	Message string
	Raw     string
	Cause   error
}

func NewParsingError(message, raw string, cause error) *ParsingError {
	return &ParsingError{Message: message, Raw: raw, Cause: cause}
}

func (e *ParsingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrCodeParsing, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrCodeParsing, e.Message)
}

func (e *ParsingError) Unwrap() error   { return e.Cause }
func (e *ParsingError) Code() ErrorCode { return ErrCodeParsing }
func (e *ParsingError) Details() map[string]any {
	return map[string]any{"raw_output": e.Raw}
}

// ToolNotFoundError is returned when the model names a tool that was never
// registered.
type ToolNotFoundError struct {
	ToolName string
}

func (e *ToolNotFoundError) Error() string {
	return formatError(ErrCodeToolNotFound, fmt.Sprintf("tool %q not found in registry", e.ToolName), nil)
}

func (e *ToolNotFoundError) Code() ErrorCode { return ErrCodeToolNotFound }
func (e *ToolNotFoundError) Details() map[string]any {
	return map[string]any{"tool_name": e.ToolName}
}

// InvalidToolInputError carries one reason per failing field.
type InvalidToolInputError struct {
	ToolName string
	Fields   map[string]string
}

func (e *InvalidToolInputError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, name := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return fmt.Sprintf("%s: invalid input for tool %q: %s", ErrCodeInvalidToolInput, e.ToolName, strings.Join(parts, "; "))
}

func (e *InvalidToolInputError) Code() ErrorCode { return ErrCodeInvalidToolInput }
func (e *InvalidToolInputError) Details() map[string]any {
	fields := make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	return map[string]any{"tool_name": e.ToolName, "validation_errors": fields}
}

// ToolExecutionError wraps a fault raised inside a tool executable.
type ToolExecutionError struct {
	ToolName string
	Cause    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s: error executing tool %q: %v", ErrCodeToolExecution, e.ToolName, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error   { return e.Cause }
func (e *ToolExecutionError) Code() ErrorCode { return ErrCodeToolExecution }
func (e *ToolExecutionError) Details() map[string]any {
	cause := ""
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	return map[string]any{
		"tool_name":  e.ToolName,
		"cause":      cause,
		"cause_type": fmt.Sprintf("%T", e.Cause),
	}
}

// LLMError reports an unavailable provider or a malformed response.
type LLMError struct {
	Message string
	Detail  map[string]any
	Cause   error
}

func NewLLMError(message string, cause error, detail map[string]any) *LLMError {
	return &LLMError{Message: message, Cause: cause, Detail: detail}
}

func (e *LLMError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return formatError(ErrCodeLLM, msg, e.Detail)
}

func (e *LLMError) Unwrap() error           { return e.Cause }
func (e *LLMError) Code() ErrorCode         { return ErrCodeLLM }
func (e *LLMError) Details() map[string]any { return e.Detail }

// MemoryError is returned by Restore on malformed snapshots.
type MemoryError struct {
	Message string
	Cause   error
}

func (e *MemoryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrCodeMemory, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", ErrCodeMemory, e.Message)
}

func (e *MemoryError) Unwrap() error           { return e.Cause }
func (e *MemoryError) Code() ErrorCode         { return ErrCodeMemory }
func (e *MemoryError) Details() map[string]any { return nil }

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return formatError(ErrCodeConfig, e.Message, map[string]any{"field": e.Field})
}

func (e *ConfigError) Code() ErrorCode { return ErrCodeConfig }
func (e *ConfigError) Details() map[string]any {
	return map[string]any{"field": e.Field}
}
