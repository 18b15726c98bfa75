package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mukut03/agents/framework"
)

// DefaultSystemPrompt is used when the configuration leaves the prompt empty.
// BuildSystemPrompt follows it with a call order covering only the pipeline
// tools actually registered.
const DefaultSystemPrompt = `You are a geospatial assistant. You answer questions about routes and what lies along them using the tools listed below.

Values produced by earlier tools are remembered, so you may omit them from later calls.
If a follow-up question can be answered from earlier results, use the answer tool instead of calling the same tool again.`

// routePipeline is the order route-planning tools are meant to run in.
var routePipeline = []string{
	"get_route",
	"sample_polyline",
	"route_length",
	"get_places",
	"get_natural_features",
	"render_map",
}

// BuildSystemPrompt appends the tool catalog and the <action> wire format to
// base. An empty base selects DefaultSystemPrompt plus the pipeline order.
func BuildSystemPrompt(base string, specs []framework.ToolSpec) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
		if hint := pipelineHint(specs); hint != "" {
			base += "\n" + hint
		}
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "\n"))
	b.WriteString("\n\n")
	b.WriteString(renderToolCatalog(specs))
	b.WriteString(`
To use a tool, reply with exactly one action block:

<action>
{"tool": "tool_name", "tool_input": {"arg": "value"}, "reasoning": "why this tool helps"}
</action>

When you have the final answer, use the answer tool:

<action>
{"tool": "answer", "tool_input": {"text": "your answer"}, "reasoning": "why you are done"}
</action>

Only the first action block in a reply is read. Tool results come back as messages starting with "Observation:".
`)
	return b.String()
}

// pipelineHint names the registered pipeline tools in call order. It is empty
// when fewer than two of them are registered.
func pipelineHint(specs []framework.ToolSpec) string {
	registered := make(map[string]bool, len(specs))
	for _, spec := range specs {
		registered[spec.Name] = true
	}
	var steps []string
	for _, name := range routePipeline {
		if registered[name] {
			steps = append(steps, name)
		}
	}
	switch len(steps) {
	case 0, 1:
		return ""
	case 2:
		return fmt.Sprintf("When planning a route, call %s first, then %s.", steps[0], steps[1])
	}
	last := len(steps) - 1
	return fmt.Sprintf("When planning a route, call %s first, then %s, and finally %s.",
		steps[0], strings.Join(steps[1:last], ", then "), steps[last])
}

func renderToolCatalog(specs []framework.ToolSpec) string {
	if len(specs) == 0 {
		return "No tools available.\n"
	}
	var b strings.Builder
	b.WriteString("You have access to the following tools.\n\n")
	for _, spec := range specs {
		b.WriteString(fmt.Sprintf("## %s\n", spec.Name))
		if spec.Description != "" {
			b.WriteString(spec.Description + "\n")
		}
		b.WriteString("Arguments:\n")
		if len(spec.Parameters) == 0 {
			b.WriteString("  (No arguments)\n")
		}
		for _, param := range spec.Parameters {
			req := "optional"
			if param.Required {
				req = "required"
			}
			typ := param.Type
			if typ == "" {
				typ = framework.ParamAny
			}
			line := fmt.Sprintf("  - %s (%s, %s)", param.Name, typ, req)
			if param.Description != "" {
				line += ": " + param.Description
			}
			if param.Default != nil {
				line += fmt.Sprintf(" [default: %v]", param.Default)
			}
			b.WriteString(line + "\n")
		}
		for _, example := range spec.Examples {
			encoded, err := json.Marshal(example)
			if err != nil {
				continue
			}
			b.WriteString(fmt.Sprintf("Example input: %s\n", encoded))
		}
		b.WriteString("\n")
	}
	return b.String()
}
