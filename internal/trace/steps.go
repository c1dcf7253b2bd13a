package trace

import "strings"

// toolCategories maps a tool name to the semantic category its calls are
// grouped under for step decomposition.
var toolCategories = map[string]string{
	"Read":  "Reading files",
	"Glob":  "Reading files",
	"Grep":  "Reading files",
	"Edit":  "Editing code",
	"Write": "Editing code",
}

// testCommandMarkers identify a Bash tool_use input as a test run, checked
// against the raw JSON input substring (permissive, not a shell parse).
var testCommandMarkers = []string{"go test", "npm test", "pytest", "cargo test", "jest"}

// Step is one contiguous run of tool calls sharing a semantic category.
type Step struct {
	Category  string
	FromIndex int // index into the tool-call sequence, not the raw event index
	ToIndex   int
	ToolCalls int
}

// toolCall is one tool_use occurrence, flattened out of the event stream in
// order, carrying enough of its input to classify Bash calls.
type toolCall struct {
	Name  string
	Input string
}

// DecomposeSteps groups the trace's tool calls into steps by semantic
// category; a category change starts a new step.
func DecomposeSteps(events []RawEvent) []Step {
	calls := flattenToolCalls(events)
	if len(calls) == 0 {
		return nil
	}

	var steps []Step
	current := Step{Category: categorize(calls[0]), FromIndex: 0, ToIndex: 0, ToolCalls: 1}
	for i := 1; i < len(calls); i++ {
		cat := categorize(calls[i])
		if cat == current.Category {
			current.ToIndex = i
			current.ToolCalls++
			continue
		}
		steps = append(steps, current)
		current = Step{Category: cat, FromIndex: i, ToIndex: i, ToolCalls: 1}
	}
	steps = append(steps, current)
	return steps
}

func flattenToolCalls(events []RawEvent) []toolCall {
	var calls []toolCall
	for _, ev := range events {
		if ev.Type != EventTypeAssistant || ev.Message == nil {
			continue
		}
		for _, item := range ev.Message.Content {
			if item.Type != ContentToolUse {
				continue
			}
			calls = append(calls, toolCall{Name: item.Name, Input: string(item.Input)})
		}
	}
	return calls
}

func categorize(c toolCall) string {
	if c.Name == "Bash" && isTestCommand(c.Input) {
		return "Running tests"
	}
	if cat, ok := toolCategories[c.Name]; ok {
		return cat
	}
	return "Other tool use"
}

func isTestCommand(input string) bool {
	for _, marker := range testCommandMarkers {
		if strings.Contains(input, marker) {
			return true
		}
	}
	return false
}
