package agents

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mukut03/agents/framework"
)

// MemoryRule copies part of a successful tool result into keyed memory.
// Field selects a map entry; an empty Field stores the whole result. The rule
// only fires when the result has the expected Kind.
type MemoryRule struct {
	Tool      string
	Kind      framework.ValueKind
	Field     string
	MemoryKey string
}

// DefaultMemoryRules mirrors DefaultInjectionRules: whatever the route tools
// produce is what the downstream tools get injected with.
func DefaultMemoryRules() []MemoryRule {
	return []MemoryRule{
		{Tool: "get_route", Kind: framework.KindMap, Field: "polyline", MemoryKey: KeyEncodedPolyline},
		{Tool: "get_route", Kind: framework.KindMap, Field: "polyline_coords", MemoryKey: KeyPolylineCoords},
		{Tool: "get_route", Kind: framework.KindMap, Field: "distance_text", MemoryKey: KeyDistanceText},
		{Tool: "get_route", Kind: framework.KindMap, Field: "duration_text", MemoryKey: KeyDurationText},
		{Tool: "sample_polyline", Kind: framework.KindList, MemoryKey: KeyPolylineCoords},
		{Tool: "get_places", Kind: framework.KindList, MemoryKey: KeyPlaces},
		{Tool: "get_natural_features", Kind: framework.KindList, MemoryKey: KeyFeatures},
	}
}

// MemoryRules is the indexed result-to-memory table.
type MemoryRules struct {
	rules map[string][]MemoryRule
}

// NewMemoryRules indexes rules by tool name.
func NewMemoryRules(rules []MemoryRule) *MemoryRules {
	indexed := make(map[string][]MemoryRule)
	for _, rule := range rules {
		indexed[rule.Tool] = append(indexed[rule.Tool], rule)
	}
	return &MemoryRules{rules: indexed}
}

// Apply writes matching parts of result into mem and returns the keys it
// touched, in rule order.
func (r *MemoryRules) Apply(tool string, result framework.Value, mem *framework.Memory) []string {
	if r == nil || mem == nil {
		return nil
	}
	var written []string
	for _, rule := range r.rules[tool] {
		if result.Kind != rule.Kind {
			continue
		}
		value := result
		if rule.Field != "" {
			field, ok := result.Field(rule.Field)
			if !ok {
				continue
			}
			value = field
		}
		mem.Remember(rule.MemoryKey, value.Interface(), map[string]any{"source_tool": tool})
		written = append(written, rule.MemoryKey)
	}
	return written
}

// Formatter renders a successful result as observation text.
type Formatter func(tool string, result framework.Value) string

// ObservationFormatter selects a formatter by tool name and falls back to a
// rendering chosen by the result's kind.
type ObservationFormatter struct {
	byTool map[string]Formatter
}

// NewObservationFormatter returns a formatter with the route tool summaries
// registered.
func NewObservationFormatter() *ObservationFormatter {
	f := &ObservationFormatter{byTool: make(map[string]Formatter)}
	f.Register("get_route", formatRoute)
	f.Register("sample_polyline", formatSample)
	f.Register("get_places", formatPlaces)
	f.Register("get_natural_features", formatFeatures)
	f.Register("render_map", formatRenderMap)
	return f
}

// Register sets the formatter for tool, replacing any existing one.
func (f *ObservationFormatter) Register(tool string, fn Formatter) {
	f.byTool[tool] = fn
}

// Format renders res. Failed executions always use the error template.
func (f *ObservationFormatter) Format(tool string, res *framework.ToolResult) string {
	if res == nil {
		return fmt.Sprintf("Error executing tool '%s': no result", tool)
	}
	if !res.Success {
		return fmt.Sprintf("Error executing tool '%s': %s", tool, failureMessage(res))
	}
	if fn, ok := f.byTool[tool]; ok {
		if text := fn(tool, res.Result); text != "" {
			return text
		}
	}
	return formatGeneric(tool, res.Result)
}

func failureMessage(res *framework.ToolResult) string {
	var execErr *framework.ToolExecutionError
	if errors.As(res.Error, &execErr) && execErr.Cause != nil {
		return execErr.Cause.Error()
	}
	if res.Error != nil {
		return res.Error.Error()
	}
	return "unknown error"
}

func formatGeneric(tool string, result framework.Value) string {
	switch result.Kind {
	case framework.KindList:
		if len(result.List) == 0 {
			return fmt.Sprintf("Tool '%s' returned an empty list.", tool)
		}
		sample := result.List
		if len(sample) > 3 {
			sample = sample[:3]
		}
		lines := make([]string, len(sample))
		for i, item := range sample {
			if item.Kind == framework.KindMap {
				lines[i] = strings.Join(pairs(item), ", ")
			} else {
				lines[i] = item.String()
			}
		}
		return fmt.Sprintf("Tool '%s' returned %d items. Here's a sample:\n%s", tool, len(result.List), strings.Join(lines, "\n"))
	case framework.KindMap:
		return fmt.Sprintf("Tool '%s' returned:\n%s", tool, strings.Join(pairs(result), "\n"))
	default:
		return fmt.Sprintf("Tool '%s' returned: %s", tool, result.String())
	}
}

func pairs(v framework.Value) []string {
	keys := v.SortedKeys()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s: %s", k, v.Map[k].String())
	}
	return out
}

func formatRoute(_ string, result framework.Value) string {
	if result.Kind != framework.KindMap {
		return ""
	}
	if errVal, ok := result.Field("error"); ok {
		return fmt.Sprintf("Error getting route: %s", errVal.String())
	}
	distance := "unknown distance"
	if v, ok := result.Field("distance_text"); ok {
		distance = v.String()
	}
	duration := "unknown duration"
	if v, ok := result.Field("duration_text"); ok {
		duration = v.String()
	}
	return fmt.Sprintf("Route calculated: %s, %s", distance, duration)
}

func formatSample(_ string, result framework.Value) string {
	if result.Kind != framework.KindList {
		return ""
	}
	return fmt.Sprintf("Route sampled to %d points.", len(result.List))
}

type category struct {
	types    []string
	singular string
	plural   string
}

var placeCategories = []category{
	{types: []string{"city"}, singular: "city", plural: "cities"},
	{types: []string{"town"}, singular: "town", plural: "towns"},
	{types: []string{"village"}, singular: "village", plural: "villages"},
}

var featureCategories = []category{
	{types: []string{"water", "river", "lake", "stream"}, singular: "water feature", plural: "water features"},
	{types: []string{"peak", "mountain"}, singular: "peak", plural: "peaks"},
	{types: []string{"wood", "forest"}, singular: "forest", plural: "forests"},
}

// summarize counts list items by their "type" field against categories;
// unmatched items are reported as "other".
func summarize(items []framework.Value, categories []category, otherSingular, otherPlural string) string {
	counts := make([]int, len(categories))
	others := 0
	for _, item := range items {
		kind := ""
		if v, ok := item.Field("type"); ok {
			kind = v.String()
		}
		matched := false
		for i, cat := range categories {
			for _, t := range cat.types {
				if t == kind {
					counts[i]++
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			others++
		}
	}
	var parts []string
	for i, cat := range categories {
		if counts[i] > 0 {
			parts = append(parts, plural(counts[i], cat.singular, cat.plural))
		}
	}
	if others > 0 {
		parts = append(parts, plural(others, otherSingular, otherPlural))
	}
	return strings.Join(parts, ", ")
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, pluralForm)
}

func formatPlaces(_ string, result framework.Value) string {
	if result.Kind != framework.KindList {
		return ""
	}
	if len(result.List) == 0 {
		return "No places found along the route."
	}
	summary := summarize(result.List, placeCategories, "other place", "other places")
	return fmt.Sprintf("Found %d places along the route: %s", len(result.List), summary)
}

func formatFeatures(_ string, result framework.Value) string {
	if result.Kind != framework.KindList {
		return ""
	}
	if len(result.List) == 0 {
		return "No natural features found along the route."
	}
	summary := summarize(result.List, featureCategories, "other feature", "other features")
	return fmt.Sprintf("Found %d natural features along the route: %s", len(result.List), summary)
}

func formatRenderMap(_ string, result framework.Value) string {
	return fmt.Sprintf("Map rendered to %s", result.String())
}
