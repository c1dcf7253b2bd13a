// Package trace parses a line-delimited JSON agent event stream and derives
// compaction counts, per-tool token profiles, liveness/idle-ratio, and
// semantic step decomposition.
package trace

import (
	"bufio"
	"encoding/json"
	"io"
	"time"
)

// Event types recognized in the agent trace stream.
const (
	EventTypeAssistant = "assistant"
	EventTypeSystem    = "system"
	EventTypeUser      = "user"
	EventTypeResult    = "result"
)

// Content item types within message.content.
const (
	ContentText       = "text"
	ContentToolUse    = "tool_use"
	ContentToolResult = "tool_result"
	ContentThinking   = "thinking"
)

// RawEvent is one line of the trace stream.
type RawEvent struct {
	Type    string   `json:"type"`
	Subtype string   `json:"subtype,omitempty"`
	Message *Message `json:"message,omitempty"`
	Result  string   `json:"result,omitempty"`
}

// Message carries the content items and token usage for an assistant or
// user turn.
type Message struct {
	Role    string        `json:"role,omitempty"`
	Content []ContentItem `json:"content,omitempty"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// Usage is the token accounting Claude reports per assistant turn.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// ContentItem is one element of message.content.
type ContentItem struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`       // tool name, tool_use only
	Input     json.RawMessage `json:"input,omitempty"`       // tool_use only
	ToolUseID string          `json:"tool_use_id,omitempty"` // links tool_result to tool_use
	IsError   bool            `json:"is_error,omitempty"`    // tool_result only
}

// ParseLine unmarshals a single JSON trace line. Unknown fields are
// silently ignored (permissive parsing, matching the stream's own
// forward-compatibility contract).
func ParseLine(data []byte) (RawEvent, error) {
	var ev RawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return RawEvent{}, err
	}
	return ev, nil
}

// IsStructured reports whether the first parseable line looks like a
// recognized trace event.
func IsStructured(firstLine []byte) bool {
	ev, err := ParseLine(firstLine)
	if err != nil {
		return false
	}
	switch ev.Type {
	case EventTypeAssistant, EventTypeSystem, EventTypeResult:
		return true
	default:
		return false
	}
}

// ParseStream reads every line from r as a RawEvent, skipping blank lines.
// A malformed line is returned as an error paired with its line number via
// ErrMalformedLine wrapping.
func ParseStream(r io.Reader) ([]RawEvent, error) {
	var events []RawEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := ParseLine(line)
		if err != nil {
			return nil, &MalformedLineError{Line: lineNo, Err: err}
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Compactions reports the count and step (0-based event index) of every
// system/compaction event.
func Compactions(events []RawEvent) (count int, steps []int) {
	for i, ev := range events {
		if ev.Type == EventTypeSystem && ev.Subtype == "compaction" {
			count++
			steps = append(steps, i)
		}
	}
	return count, steps
}

// ToolProfile is one tool's aggregated usage across the trace.
type ToolProfile struct {
	Name         string
	CallCount    int
	InputTokens  int
	OutputTokens int
	ErrorCount   int
}

// ToolProfiles aggregates per-tool-name call counts, token usage, and error
// counts, sorted by total tokens (input+output) descending. Token usage is
// attributed to every tool_use call within the assistant message that
// reported the usage, since the trace format reports usage per turn, not
// per tool call.
func ToolProfiles(events []RawEvent) []ToolProfile {
	byName := map[string]*ToolProfile{}
	errorByUseID := map[string]bool{}

	for _, ev := range events {
		if ev.Message == nil {
			continue
		}
		for _, item := range ev.Message.Content {
			if item.Type == ContentToolResult && item.IsError {
				errorByUseID[item.ToolUseID] = true
			}
		}
	}

	for _, ev := range events {
		if ev.Type != EventTypeAssistant || ev.Message == nil {
			continue
		}
		var toolUses []ContentItem
		for _, item := range ev.Message.Content {
			if item.Type == ContentToolUse {
				toolUses = append(toolUses, item)
			}
		}
		if len(toolUses) == 0 {
			continue
		}
		for _, item := range toolUses {
			p, ok := byName[item.Name]
			if !ok {
				p = &ToolProfile{Name: item.Name}
				byName[item.Name] = p
			}
			p.CallCount++
			if ev.Message.Usage != nil {
				p.InputTokens += ev.Message.Usage.InputTokens / len(toolUses)
				p.OutputTokens += ev.Message.Usage.OutputTokens / len(toolUses)
			}
			if errorByUseID[item.ToolUseID] {
				p.ErrorCount++
			}
		}
	}

	profiles := make([]ToolProfile, 0, len(byName))
	for _, p := range byName {
		profiles = append(profiles, *p)
	}
	sortProfilesByTokensDesc(profiles)
	return profiles
}

func sortProfilesByTokensDesc(profiles []ToolProfile) {
	total := func(p ToolProfile) int { return p.InputTokens + p.OutputTokens }
	for i := 1; i < len(profiles); i++ {
		for j := i; j > 0 && total(profiles[j]) > total(profiles[j-1]); j-- {
			profiles[j], profiles[j-1] = profiles[j-1], profiles[j]
		}
	}
}

// stallThreshold is the gap above which a pause is considered a stall.
const stallThreshold = 10 * time.Second

// StallPeriod is one gap between consecutive events that exceeded the
// stall threshold.
type StallPeriod struct {
	FromStep int
	ToStep   int
	Gap      time.Duration
}

// Liveness is the derived timing profile of a trace, given external
// wall-clock timestamps (the stream itself carries no timestamps).
type Liveness struct {
	MaxGap    time.Duration
	IdleRatio float64
	Stalls    []StallPeriod
	TotalSpan time.Duration
}

// AnalyzeLiveness computes the max gap, idle ratio, and stall periods from
// one timestamp per event. len(timestamps) must equal the event count the
// caller intends to analyze; timestamps must be non-decreasing.
func AnalyzeLiveness(timestamps []time.Time) Liveness {
	if len(timestamps) < 2 {
		return Liveness{}
	}
	var maxGap, idleSum time.Duration
	var stalls []StallPeriod
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap > maxGap {
			maxGap = gap
		}
		if gap > stallThreshold {
			idleSum += gap
			stalls = append(stalls, StallPeriod{FromStep: i - 1, ToStep: i, Gap: gap})
		}
	}
	total := timestamps[len(timestamps)-1].Sub(timestamps[0])
	var ratio float64
	if total > 0 {
		ratio = float64(idleSum) / float64(total)
	}
	return Liveness{MaxGap: maxGap, IdleRatio: ratio, Stalls: stalls, TotalSpan: total}
}
