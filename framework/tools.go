package framework

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonschema"
)

// Parameter types understood by the registry's validator.
const (
	ParamString  = "string"
	ParamInteger = "integer"
	ParamNumber  = "number"
	ParamBoolean = "boolean"
	ParamArray   = "array"
	ParamObject  = "object"
	ParamAny     = "any"
)

// ToolFunc is a tool executable. args have already been validated and have
// defaults applied.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolParameter describes an argument the tool accepts.
type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// ToolSpec is the static description of a tool. Parameters drive the
// field-level checks; Schema, when set, is an additional JSON Schema the
// input must satisfy (enums, ranges, array lengths).
type ToolSpec struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  []ToolParameter  `json:"parameters"`
	Schema      map[string]any   `json:"schema,omitempty"`
	Examples    []map[string]any `json:"examples,omitempty"`
}

// ToolResult is returned by every tool execution.
type ToolResult struct {
	Success  bool
	Result   Value
	Error    error
	Metadata map[string]any
}

type registeredTool struct {
	spec     ToolSpec
	fn       ToolFunc
	compiled *jsonschema.Schema
}

// ToolRegistry maps tool names to specs and executables. Registration
// normally happens once at startup; lookups are safe from any goroutine.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewToolRegistry builds a registry instance.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*registeredTool),
	}
}

// Register adds or replaces a tool. It fails only when the spec is unusable:
// empty name, nil executable, unknown parameter type or an extra schema that
// does not compile.
func (r *ToolRegistry) Register(spec ToolSpec, fn ToolFunc) error {
	if strings.TrimSpace(spec.Name) == "" {
		return errors.New("tool name required")
	}
	if fn == nil {
		return fmt.Errorf("tool %s has no executable", spec.Name)
	}
	for _, param := range spec.Parameters {
		if !knownParamType(param.Type) {
			return fmt.Errorf("tool %s: parameter %s has unknown type %q", spec.Name, param.Name, param.Type)
		}
	}
	entry := &registeredTool{spec: spec, fn: fn}
	if spec.Schema != nil {
		raw, err := json.Marshal(spec.Schema)
		if err != nil {
			return fmt.Errorf("tool %s: encode schema: %w", spec.Name, err)
		}
		compiled, err := jsonschema.NewCompiler().Compile(raw)
		if err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", spec.Name, err)
		}
		entry.compiled = compiled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[spec.Name] = entry
	return nil
}

// Get fetches a tool spec by name.
func (r *ToolRegistry) Get(name string) (ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok {
		return ToolSpec{}, false
	}
	return entry.spec, true
}

// Names lists registered tools in lexical order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns every spec ordered by name.
func (r *ToolRegistry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, entry := range r.tools {
		specs = append(specs, entry.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func (r *ToolRegistry) lookup(name string) (*registeredTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok {
		return nil, &ToolNotFoundError{ToolName: name}
	}
	return entry, nil
}

// Validate checks params against the tool's declared parameters and extra
// schema. On success it returns a copy of params with defaults filled in.
func (r *ToolRegistry) Validate(name string, params map[string]any) (map[string]any, error) {
	entry, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return entry.validate(params)
}

func (t *registeredTool) validate(params map[string]any) (map[string]any, error) {
	fields := make(map[string]string)
	for _, param := range t.spec.Parameters {
		value, present := params[param.Name]
		if !present || value == nil {
			if param.Required {
				fields[param.Name] = "required field missing"
			}
			continue
		}
		if !matchesType(param.Type, value) {
			fields[param.Name] = fmt.Sprintf("expected %s, got %s", param.Type, describeType(value))
		}
	}
	if t.compiled != nil && len(fields) == 0 {
		instance := params
		if instance == nil {
			instance = map[string]any{}
		}
		result := t.compiled.Validate(instance)
		if !result.Valid {
			for keyword, evalErr := range result.Errors {
				fields["schema."+fmt.Sprint(keyword)] = evalErr.Error()
			}
			if len(fields) == 0 {
				fields["schema"] = "input does not satisfy schema"
			}
		}
	}
	if len(fields) > 0 {
		return nil, &InvalidToolInputError{ToolName: t.spec.Name, Fields: fields}
	}
	out := make(map[string]any, len(params)+len(t.spec.Parameters))
	for k, v := range params {
		out[k] = v
	}
	for _, param := range t.spec.Parameters {
		if _, ok := out[param.Name]; !ok && param.Default != nil {
			out[param.Name] = param.Default
		}
	}
	return out, nil
}

// Execute looks the tool up, validates params and invokes it. The returned
// error is non-nil only for *ToolNotFoundError and *InvalidToolInputError;
// failures inside the executable, including panics, are reported through
// ToolResult with Success false.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params map[string]any) (*ToolResult, error) {
	entry, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	args, err := entry.validate(params)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	value, trace, callErr := entry.invoke(ctx, args)
	metadata := map[string]any{
		"tool":        name,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if callErr != nil {
		metadata["cause"] = callErr.Error()
		metadata["trace"] = trace
		return &ToolResult{
			Success:  false,
			Result:   Null(),
			Error:    &ToolExecutionError{ToolName: name, Cause: callErr},
			Metadata: metadata,
		}, nil
	}
	return &ToolResult{
		Success:  true,
		Result:   NewValue(value),
		Metadata: metadata,
	}, nil
}

func (t *registeredTool) invoke(ctx context.Context, args map[string]any) (value any, trace string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			value = nil
			trace = string(debug.Stack())
			if recErr, ok := rec.(error); ok {
				err = fmt.Errorf("panic: %w", recErr)
			} else {
				err = fmt.Errorf("panic: %v", rec)
			}
		}
	}()
	value, err = t.fn(ctx, args)
	if err != nil {
		trace = errorChain(err)
	}
	return value, trace, err
}

func errorChain(err error) string {
	var parts []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		parts = append(parts, fmt.Sprintf("%T: %v", e, e))
	}
	return strings.Join(parts, "\n")
}

func knownParamType(t string) bool {
	switch t {
	case ParamString, ParamInteger, ParamNumber, ParamBoolean, ParamArray, ParamObject, ParamAny, "":
		return true
	}
	return false
}

func matchesType(want string, value any) bool {
	switch want {
	case ParamString:
		_, ok := value.(string)
		return ok
	case ParamBoolean:
		_, ok := value.(bool)
		return ok
	case ParamInteger:
		f, ok := numeric(value)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case ParamNumber:
		_, ok := numeric(value)
		return ok
	case ParamArray:
		if _, ok := value.([]any); ok {
			return true
		}
		kind := reflect.ValueOf(value).Kind()
		return kind == reflect.Slice || kind == reflect.Array
	case ParamObject:
		if _, ok := value.(map[string]any); ok {
			return true
		}
		return reflect.ValueOf(value).Kind() == reflect.Map
	default:
		return true
	}
}

func numeric(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func describeType(value any) string {
	switch value.(type) {
	case string:
		return ParamString
	case bool:
		return ParamBoolean
	case []any:
		return ParamArray
	case map[string]any:
		return ParamObject
	}
	if _, ok := numeric(value); ok {
		return ParamNumber
	}
	return fmt.Sprintf("%T", value)
}
