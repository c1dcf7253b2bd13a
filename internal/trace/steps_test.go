package trace

import "testing"

func assistantToolCall(name, input string) RawEvent {
	return RawEvent{
		Type: EventTypeAssistant,
		Message: &Message{
			Content: []ContentItem{{Type: ContentToolUse, Name: name, Input: []byte(input)}},
		},
	}
}

func TestDecomposeSteps_GroupsByCategory(t *testing.T) {
	events := []RawEvent{
		assistantToolCall("Read", `{}`),
		assistantToolCall("Grep", `{}`),
		assistantToolCall("Edit", `{}`),
		assistantToolCall("Write", `{}`),
		assistantToolCall("Bash", `{"command":"go test ./..."}`),
	}
	steps := DecomposeSteps(events)
	if len(steps) != 3 {
		t.Fatalf("got %d steps, want 3: %+v", len(steps), steps)
	}
	if steps[0].Category != "Reading files" || steps[0].ToolCalls != 2 {
		t.Errorf("step0 = %+v", steps[0])
	}
	if steps[1].Category != "Editing code" || steps[1].ToolCalls != 2 {
		t.Errorf("step1 = %+v", steps[1])
	}
	if steps[2].Category != "Running tests" || steps[2].ToolCalls != 1 {
		t.Errorf("step2 = %+v", steps[2])
	}
}

func TestDecomposeSteps_PlainBashIsOther(t *testing.T) {
	events := []RawEvent{assistantToolCall("Bash", `{"command":"ls -la"}`)}
	steps := DecomposeSteps(events)
	if len(steps) != 1 || steps[0].Category != "Other tool use" {
		t.Errorf("got %+v", steps)
	}
}

func TestDecomposeSteps_Empty(t *testing.T) {
	if got := DecomposeSteps(nil); got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}
