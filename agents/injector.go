package agents

import (
	"github.com/charmbracelet/log"

	"github.com/mukut03/agents/framework"
)

// Well-known keyed memory entries shared by the injector and the
// result-to-memory rules.
const (
	KeyEncodedPolyline = "encoded_polyline"
	KeyPolylineCoords  = "polyline_coords"
	KeyPlaces          = "places"
	KeyFeatures        = "features"
	KeyDistanceText    = "distance_text"
	KeyDurationText    = "duration_text"
)

// InjectionRule fills Field of Tool's input from MemoryKey when the model
// left it out.
type InjectionRule struct {
	Tool      string
	Field     string
	MemoryKey string
}

// DefaultInjectionRules covers the route pipeline tools.
func DefaultInjectionRules() []InjectionRule {
	return []InjectionRule{
		{Tool: "sample_polyline", Field: "encoded_polyline", MemoryKey: KeyEncodedPolyline},
		{Tool: "get_places", Field: "polyline_coords", MemoryKey: KeyPolylineCoords},
		{Tool: "get_natural_features", Field: "polyline_coords", MemoryKey: KeyPolylineCoords},
		{Tool: "render_map", Field: "polyline_coords", MemoryKey: KeyPolylineCoords},
		{Tool: "render_map", Field: "places", MemoryKey: KeyPlaces},
		{Tool: "render_map", Field: "features", MemoryKey: KeyFeatures},
		{Tool: "route_length", Field: "polyline_coords", MemoryKey: KeyPolylineCoords},
	}
}

// Injector completes tool inputs from keyed memory.
type Injector struct {
	rules  map[string][]InjectionRule
	Logger *log.Logger
}

// NewInjector indexes rules by tool name, keeping their order.
func NewInjector(rules []InjectionRule) *Injector {
	indexed := make(map[string][]InjectionRule)
	for _, rule := range rules {
		indexed[rule.Tool] = append(indexed[rule.Tool], rule)
	}
	return &Injector{rules: indexed}
}

// Inject returns a copy of input with every eligible missing field filled
// from mem. Fields present in input are never replaced, even when their value
// is null. The caller's map is not modified.
func (i *Injector) Inject(tool string, input map[string]any, mem *framework.Memory) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	if i == nil || mem == nil {
		return out
	}
	for _, rule := range i.rules[tool] {
		if _, present := out[rule.Field]; present {
			continue
		}
		value, ok := mem.Recall(rule.MemoryKey)
		if !ok {
			continue
		}
		out[rule.Field] = value
		if i.Logger != nil {
			i.Logger.Debug("injected field from memory", "tool", tool, "field", rule.Field, "key", rule.MemoryKey)
		}
	}
	return out
}
