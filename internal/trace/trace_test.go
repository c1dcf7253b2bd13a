package trace

import (
	"strings"
	"testing"
	"time"
)

func TestIsStructured(t *testing.T) {
	if !IsStructured([]byte(`{"type":"assistant"}`)) {
		t.Error("expected assistant to be structured")
	}
	if IsStructured([]byte(`{"type":"nonsense"}`)) {
		t.Error("expected unrecognized type to be unstructured")
	}
	if IsStructured([]byte(`not json`)) {
		t.Error("expected malformed line to be unstructured")
	}
}

func TestParseStream(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`,
		``,
		`{"type":"result","result":"done"}`,
	}, "\n")
	events, err := ParseStream(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
}

func TestParseStream_MalformedLine(t *testing.T) {
	_, err := ParseStream(strings.NewReader(`{"type":"system"}` + "\n" + `{not json`))
	if err == nil {
		t.Fatal("expected error on malformed line")
	}
	var malformed *MalformedLineError
	if !asMalformed(err, &malformed) {
		t.Fatalf("expected *MalformedLineError, got %T", err)
	}
	if malformed.Line != 2 {
		t.Errorf("Line = %d, want 2", malformed.Line)
	}
}

func asMalformed(err error, target **MalformedLineError) bool {
	if e, ok := err.(*MalformedLineError); ok {
		*target = e
		return true
	}
	return false
}

func TestCompactions(t *testing.T) {
	events := []RawEvent{
		{Type: EventTypeAssistant},
		{Type: EventTypeSystem, Subtype: "compaction"},
		{Type: EventTypeAssistant},
		{Type: EventTypeSystem, Subtype: "compaction"},
	}
	count, steps := Compactions(events)
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if len(steps) != 2 || steps[0] != 1 || steps[1] != 3 {
		t.Errorf("steps = %v, want [1 3]", steps)
	}
}

func TestToolProfiles_AggregatesAndAttributesErrors(t *testing.T) {
	events := []RawEvent{
		{
			Type: EventTypeAssistant,
			Message: &Message{
				Content: []ContentItem{
					{Type: ContentToolUse, Name: "Read", ToolUseID: "t1"},
				},
				Usage: &Usage{InputTokens: 100, OutputTokens: 50},
			},
		},
		{
			Type: EventTypeUser,
			Message: &Message{
				Content: []ContentItem{
					{Type: ContentToolResult, ToolUseID: "t1", IsError: true},
				},
			},
		},
		{
			Type: EventTypeAssistant,
			Message: &Message{
				Content: []ContentItem{
					{Type: ContentToolUse, Name: "Read", ToolUseID: "t2"},
				},
				Usage: &Usage{InputTokens: 10, OutputTokens: 5},
			},
		},
	}
	profiles := ToolProfiles(events)
	if len(profiles) != 1 {
		t.Fatalf("got %d profiles, want 1", len(profiles))
	}
	p := profiles[0]
	if p.Name != "Read" || p.CallCount != 2 || p.ErrorCount != 1 {
		t.Errorf("got %+v", p)
	}
	if p.InputTokens != 110 || p.OutputTokens != 55 {
		t.Errorf("got tokens %d/%d, want 110/55", p.InputTokens, p.OutputTokens)
	}
}

func TestToolProfiles_SortedByTotalTokensDescending(t *testing.T) {
	events := []RawEvent{
		{Type: EventTypeAssistant, Message: &Message{
			Content: []ContentItem{{Type: ContentToolUse, Name: "Grep"}},
			Usage:   &Usage{InputTokens: 5, OutputTokens: 5},
		}},
		{Type: EventTypeAssistant, Message: &Message{
			Content: []ContentItem{{Type: ContentToolUse, Name: "Edit"}},
			Usage:   &Usage{InputTokens: 500, OutputTokens: 500},
		}},
	}
	profiles := ToolProfiles(events)
	if len(profiles) != 2 || profiles[0].Name != "Edit" {
		t.Errorf("got %+v, want Edit first", profiles)
	}
}

func TestAnalyzeLiveness(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timestamps := []time.Time{
		base,
		base.Add(2 * time.Second),
		base.Add(20 * time.Second), // 18s gap, a stall
		base.Add(22 * time.Second),
	}
	liveness := AnalyzeLiveness(timestamps)
	if liveness.MaxGap != 18*time.Second {
		t.Errorf("MaxGap = %v, want 18s", liveness.MaxGap)
	}
	if len(liveness.Stalls) != 1 {
		t.Fatalf("got %d stalls, want 1", len(liveness.Stalls))
	}
	wantRatio := float64(18*time.Second) / float64(22*time.Second)
	if diff := liveness.IdleRatio - wantRatio; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("IdleRatio = %v, want %v", liveness.IdleRatio, wantRatio)
	}
}

func TestAnalyzeLiveness_TooFewTimestamps(t *testing.T) {
	got := AnalyzeLiveness([]time.Time{time.Now()})
	if got.MaxGap != 0 || got.IdleRatio != 0 || len(got.Stalls) != 0 {
		t.Errorf("got %+v, want zero value", got)
	}
}
