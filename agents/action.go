package agents

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/kaptinlin/jsonrepair"

	"github.com/mukut03/agents/framework"
)

// AnswerTool is the sentinel tool name that ends the reasoning loop.
const AnswerTool = "answer"

const (
	noActionReasoning  = "No structured action found."
	noReasoningDefault = "No reasoning provided."
)

var (
	actionBlockPattern   = regexp.MustCompile(`(?s)<action>(.*?)</action>`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// Action is one structured step requested by the model.
type Action struct {
	Tool      string         `json:"tool"`
	ToolInput map[string]any `json:"tool_input"`
	Reasoning string         `json:"reasoning"`
}

// IsAnswer reports whether the action terminates the loop.
func (a Action) IsAnswer() bool { return a.Tool == AnswerTool }

// AnswerText returns tool_input["text"] as a string, or "" when absent.
func (a Action) AnswerText() string {
	switch text := a.ToolInput["text"].(type) {
	case nil:
		return ""
	case string:
		return text
	default:
		return fmt.Sprint(text)
	}
}

// ActionExtractor turns raw model replies into Actions. Only the first
// <action> block of a reply is considered.
type ActionExtractor struct {
	// Lenient enables a final jsonrepair pass after the quote/comma and
	// whitespace repairs have failed.
	Lenient bool
	Logger  *log.Logger
}

// Extract parses text. A reply without an action block is treated as a plain
// answer. A block that cannot be repaired yields *framework.ParsingError with
// the complete reply attached.
func (e *ActionExtractor) Extract(text string) (Action, error) {
	logger := e.logger()
	match := actionBlockPattern.FindStringSubmatch(text)
	if match == nil {
		logger.Debug("no action block in reply")
		return Action{
			Tool:      AnswerTool,
			ToolInput: map[string]any{"text": strings.TrimSpace(text)},
			Reasoning: noActionReasoning,
		}, nil
	}
	block := strings.TrimSpace(match[1])
	parsed, err := e.decode(block)
	if err != nil {
		logger.Warn("action block unparseable", "err", err)
		return Action{}, framework.NewParsingError("failed to parse action JSON", text, err)
	}
	action := normalizeAction(parsed)
	logger.Debug("parsed action", "tool", action.Tool)
	return action, nil
}

func (e *ActionExtractor) decode(block string) (map[string]any, error) {
	obj, err := decodeObject(block)
	if err == nil {
		return obj, nil
	}
	firstErr := err

	quoted := strings.ReplaceAll(block, "'", `"`)
	quoted = trailingCommaPattern.ReplaceAllString(quoted, "$1")
	if obj, err = decodeObject(quoted); err == nil {
		return obj, nil
	}

	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, quoted)
	if obj, err = decodeObject(compact); err == nil {
		return obj, nil
	}

	if e.Lenient {
		repaired, repairErr := jsonrepair.JSONRepair(block)
		if repairErr == nil {
			if obj, err = decodeObject(repaired); err == nil {
				e.logger().Debug("action block recovered by jsonrepair")
				return obj, nil
			}
		}
	}
	return nil, firstErr
}

var errNotObject = errors.New("action block is not a JSON object")

func decodeObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after action object")
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

func normalizeAction(parsed map[string]any) Action {
	action := Action{Tool: AnswerTool, Reasoning: noReasoningDefault}
	if tool, ok := parsed["tool"].(string); ok && strings.TrimSpace(tool) != "" {
		action.Tool = tool
	}
	switch input := parsed["tool_input"].(type) {
	case nil:
		action.ToolInput = map[string]any{}
	case map[string]any:
		action.ToolInput = input
	case string:
		action.ToolInput = map[string]any{"text": input}
	default:
		action.ToolInput = map[string]any{"text": framework.NewValue(input).String()}
	}
	switch reasoning := parsed["reasoning"].(type) {
	case nil:
	case string:
		action.Reasoning = reasoning
	default:
		action.Reasoning = fmt.Sprint(reasoning)
	}
	return action
}

func (e *ActionExtractor) logger() *log.Logger {
	if e == nil || e.Logger == nil {
		return discardLogger
	}
	return e.Logger
}
