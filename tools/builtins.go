package tools

import (
	"context"
	"fmt"
	"math"

	"github.com/mukut03/agents/framework"
)

// Sampling methods accepted by sample_polyline.
const (
	MethodInterval = "interval"
	MethodNth      = "nth"
)

// AnswerTool is the terminal tool. The orchestrator never dispatches it; it
// is registered so it shows up in the catalog rendered for the model.
type AnswerTool struct{}

func (AnswerTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "answer",
		Description: "Give the final answer to the user and stop.",
		Parameters: []framework.ToolParameter{
			{Name: "text", Type: framework.ParamString, Required: true, Description: "The answer shown to the user."},
		},
		Examples: []map[string]any{{"text": "The drive takes about 6 hours."}},
	}
}

func (AnswerTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return args["text"], nil
}

// SamplePolylineTool reduces an encoded route to fewer coordinates.
type SamplePolylineTool struct{}

func (SamplePolylineTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "sample_polyline",
		Description: "Reduce the number of lat/lon points along a route to simplify later processing.",
		Parameters: []framework.ToolParameter{
			{Name: "encoded_polyline", Type: framework.ParamString, Required: true, Description: "Google encoded polyline of the route."},
			{Name: "method", Type: framework.ParamString, Default: MethodInterval, Description: "'interval' for distance based or 'nth' for index based sampling."},
			{Name: "interval_km", Type: framework.ParamNumber, Default: 5.0, Description: "Distance between samples when method is 'interval'."},
			{Name: "every_nth", Type: framework.ParamInteger, Default: 10, Description: "Keep every nth point when method is 'nth'."},
		},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"method":      map[string]any{"enum": []any{MethodInterval, MethodNth}},
				"interval_km": map[string]any{"exclusiveMinimum": 0},
				"every_nth":   map[string]any{"minimum": 1},
			},
		},
		Examples: []map[string]any{{"method": MethodInterval, "interval_km": 5.0}},
	}
}

func (SamplePolylineTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	encoded, _ := args["encoded_polyline"].(string)
	points, err := DecodePolyline(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	method, _ := args["method"].(string)
	switch method {
	case "", MethodInterval:
		interval, ok := toFloat(args["interval_km"])
		if !ok || interval <= 0 {
			return nil, fmt.Errorf("interval_km must be positive")
		}
		return SampleByDistance(points, interval), nil
	case MethodNth:
		n, ok := toFloat(args["every_nth"])
		if !ok || n < 1 {
			return nil, fmt.Errorf("every_nth must be at least 1")
		}
		return SampleByIndex(points, int(n)), nil
	default:
		return nil, fmt.Errorf("unsupported sampling method %q, use 'interval' or 'nth'", method)
	}
}

// RouteLengthTool sums great-circle distances over a coordinate list.
type RouteLengthTool struct{}

func (RouteLengthTool) Spec() framework.ToolSpec {
	return framework.ToolSpec{
		Name:        "route_length",
		Description: "Total length in kilometres of a list of [lat, lng] coordinates.",
		Parameters: []framework.ToolParameter{
			{Name: "polyline_coords", Type: framework.ParamArray, Required: true, Description: "Route coordinates as [lat, lng] pairs."},
		},
	}
}

func (RouteLengthTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	points, err := toPoints(args["polyline_coords"])
	if err != nil {
		return nil, err
	}
	return math.Round(RouteLength(points)*1000) / 1000, nil
}

type builtin interface {
	Spec() framework.ToolSpec
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Builtins lists the tools that need no external service.
func Builtins() []builtin {
	return []builtin{AnswerTool{}, SamplePolylineTool{}, RouteLengthTool{}}
}

// RegisterBuiltins adds every builtin tool to registry.
func RegisterBuiltins(registry *framework.ToolRegistry) error {
	for _, tool := range Builtins() {
		if err := registry.Register(tool.Spec(), tool.Execute); err != nil {
			return err
		}
	}
	return nil
}

// toPoints accepts []Point, [][]float64 and JSON-decoded [][]any.
func toPoints(raw any) ([]Point, error) {
	switch v := raw.(type) {
	case framework.Value:
		return toPoints(v.Interface())
	case []Point:
		return v, nil
	case [][]float64:
		out := make([]Point, len(v))
		for i, pair := range v {
			if len(pair) != 2 {
				return nil, fmt.Errorf("coordinate %d: expected [lat, lng]", i)
			}
			out[i] = Point{pair[0], pair[1]}
		}
		return out, nil
	case []any:
		out := make([]Point, len(v))
		for i, item := range v {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("coordinate %d: expected [lat, lng]", i)
			}
			lat, okLat := toFloat(pair[0])
			lng, okLng := toFloat(pair[1])
			if !okLat || !okLng {
				return nil, fmt.Errorf("coordinate %d: non-numeric value", i)
			}
			out[i] = Point{lat, lng}
		}
		return out, nil
	}
	return nil, fmt.Errorf("polyline_coords: unsupported type %T", raw)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
