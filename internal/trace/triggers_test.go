package trace

import "testing"

func TestEvaluateTriggers_TokenThreshold(t *testing.T) {
	rules := []Rule{
		{ID: "budget", Condition: Condition{Type: ConditionTokenThreshold, Threshold: 1000}, Action: ActionWarn},
	}
	alerts := EvaluateTriggers(rules, Metrics{TotalTokens: 1500})
	if len(alerts) != 1 || alerts[0].RuleID != "budget" || alerts[0].Action != ActionWarn {
		t.Errorf("got %+v", alerts)
	}
}

func TestEvaluateTriggers_BelowThresholdDoesNotFire(t *testing.T) {
	rules := []Rule{
		{ID: "budget", Condition: Condition{Type: ConditionTokenThreshold, Threshold: 1000}, Action: ActionWarn},
	}
	alerts := EvaluateTriggers(rules, Metrics{TotalTokens: 999})
	if len(alerts) != 0 {
		t.Errorf("got %+v, want none", alerts)
	}
}

func TestEvaluateTriggers_MultipleConditions(t *testing.T) {
	rules := []Rule{
		{ID: "stall", Condition: Condition{Type: ConditionStallDurationMS, Threshold: 10000}, Action: ActionAbort},
		{ID: "compactions", Condition: Condition{Type: ConditionCompactionCount, Threshold: 3}, Action: ActionLog},
	}
	alerts := EvaluateTriggers(rules, Metrics{MaxStallMS: 12000, CompactionCount: 3})
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2", len(alerts))
	}
	if alerts[0].Action != ActionAbort || alerts[1].Action != ActionLog {
		t.Errorf("got %+v", alerts)
	}
}

func TestEvaluateTriggers_UnknownConditionNeverFires(t *testing.T) {
	rules := []Rule{{ID: "x", Condition: Condition{Type: "unknown", Threshold: 0}, Action: ActionWarn}}
	alerts := EvaluateTriggers(rules, Metrics{})
	if len(alerts) != 0 {
		t.Errorf("got %+v, want none", alerts)
	}
}
