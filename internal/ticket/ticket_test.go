package ticket

import "testing"

func TestNewWorker_PlanRequired(t *testing.T) {
	w := NewWorker("t-1", true)
	if w.Phase != PhasePlan {
		t.Errorf("Phase = %v, want PLAN", w.Phase)
	}
}

func TestNewWorker_NoPlanRequired(t *testing.T) {
	w := NewWorker("t-2", false)
	if w.Phase != PhaseExecute {
		t.Errorf("Phase = %v, want EXECUTE", w.Phase)
	}
}

func TestPlanSubmitted_ValidLowRisk(t *testing.T) {
	w := NewWorker("t", true)
	cfg := DefaultConfig()
	PlanSubmitted(w, cfg, true, RiskLow)
	if w.Phase != PhaseExecute || !w.PlanApproved {
		t.Errorf("got phase=%v approved=%v", w.Phase, w.PlanApproved)
	}
}

func TestPlanSubmitted_HighRiskAlwaysFails(t *testing.T) {
	w := NewWorker("t", true)
	cfg := DefaultConfig()
	PlanSubmitted(w, cfg, true, RiskHigh)
	if w.Phase != PhaseFailed || w.FailReason != FailReasonPlanRisk {
		t.Errorf("got phase=%v reason=%v", w.Phase, w.FailReason)
	}
}

func TestPlanSubmitted_RejectionsExhausted(t *testing.T) {
	w := NewWorker("t", true)
	cfg := DefaultConfig()
	for i := 0; i < 3; i++ {
		PlanSubmitted(w, cfg, false, RiskLow)
	}
	if w.Phase != PhaseFailed || w.FailReason != FailReasonBlocked {
		t.Errorf("got phase=%v reason=%v after 3 rejections", w.Phase, w.FailReason)
	}
	if w.PlanRejections != 3 {
		t.Errorf("PlanRejections = %d, want 3", w.PlanRejections)
	}
}

func TestPlanSubmitted_StaysInPlanBeforeLimit(t *testing.T) {
	w := NewWorker("t", true)
	cfg := DefaultConfig()
	PlanSubmitted(w, cfg, false, RiskLow)
	if w.Phase != PhasePlan {
		t.Errorf("Phase = %v, want PLAN after 1 rejection", w.Phase)
	}
}

func TestExecuteResult_SuccessNoPR(t *testing.T) {
	w := NewWorker("t", false)
	cfg := DefaultConfig()
	ExecuteResult(w, cfg, true, false, false)
	if w.Phase != PhaseQA {
		t.Errorf("Phase = %v, want QA", w.Phase)
	}
}

func TestExecuteResult_SuccessWithPRGoesDone(t *testing.T) {
	w := NewWorker("t", false)
	cfg := DefaultConfig()
	ExecuteResult(w, cfg, true, true, false)
	if w.Phase != PhaseDone {
		t.Errorf("Phase = %v, want DONE", w.Phase)
	}
}

func TestExecuteResult_CrossQAEnabled(t *testing.T) {
	w := NewWorker("t", false)
	cfg := DefaultConfig()
	cfg.CrossQAEnabled = true
	ExecuteResult(w, cfg, true, false, false)
	if w.Phase != PhaseCrossQA {
		t.Errorf("Phase = %v, want CROSS_QA", w.Phase)
	}
}

func TestExecuteResult_FailureOrScopeRefused(t *testing.T) {
	w := NewWorker("t", false)
	cfg := DefaultConfig()
	ExecuteResult(w, cfg, false, false, false)
	if w.Phase != PhaseFailed || w.FailReason != FailReasonExecuteErr {
		t.Errorf("got phase=%v reason=%v", w.Phase, w.FailReason)
	}
}

func TestQAResult_Passed(t *testing.T) {
	w := NewWorker("t", false)
	w.Phase = PhaseQA
	cfg := DefaultConfig()
	QAResult(w, cfg, true, "")
	if w.Phase != PhasePR {
		t.Errorf("Phase = %v, want PR", w.Phase)
	}
}

func TestQAResult_PassedPRsDisabled(t *testing.T) {
	w := NewWorker("t", false)
	w.Phase = PhaseQA
	cfg := DefaultConfig()
	cfg.PRsEnabled = false
	QAResult(w, cfg, true, "")
	if w.Phase != PhaseDone {
		t.Errorf("Phase = %v, want DONE", w.Phase)
	}
}

func TestQAResult_CrossQAFailureReturnsToExecuteNotCrossQA(t *testing.T) {
	w := NewWorker("t", false)
	w.Phase = PhaseCrossQA
	cfg := DefaultConfig()
	QAResult(w, cfg, false, "sig-1")
	if w.Phase != PhaseExecute {
		t.Errorf("Phase = %v, want EXECUTE (implementer retries)", w.Phase)
	}
	if w.LastQAFailure != "sig-1" {
		t.Errorf("LastQAFailure = %q, want sig-1", w.LastQAFailure)
	}
}

func TestQAResult_RetriesExhausted(t *testing.T) {
	w := NewWorker("t", false)
	w.Phase = PhaseQA
	cfg := DefaultConfig()
	for i := 0; i < 3; i++ {
		w.Phase = PhaseQA
		QAResult(w, cfg, false, "sig")
	}
	if w.Phase != PhaseFailed || w.FailReason != FailReasonBlocked {
		t.Errorf("got phase=%v reason=%v after 3 qa retries", w.Phase, w.FailReason)
	}
}

func TestPRCreated(t *testing.T) {
	w := NewWorker("t", false)
	w.Phase = PhasePR
	PRCreated(w)
	if w.Phase != PhaseDone {
		t.Errorf("Phase = %v, want DONE", w.Phase)
	}
}

func TestApplySpindleSignal_AbortFromAnyPhase(t *testing.T) {
	for _, phase := range []Phase{PhasePlan, PhaseExecute, PhaseQA, PhaseCrossQA, PhasePR} {
		w := NewWorker("t", false)
		w.Phase = phase
		if !ApplySpindleSignal(w, true, false) {
			t.Fatalf("expected abort to fire from phase %v", phase)
		}
		if w.Phase != PhaseFailed || w.FailReason != FailReasonSpindle {
			t.Errorf("phase %v: got phase=%v reason=%v", phase, w.Phase, w.FailReason)
		}
	}
}

func TestApplySpindleSignal_BlockIsBlockedReason(t *testing.T) {
	w := NewWorker("t", false)
	ApplySpindleSignal(w, false, true)
	if w.Phase != PhaseFailed || w.FailReason != FailReasonBlocked {
		t.Errorf("got phase=%v reason=%v", w.Phase, w.FailReason)
	}
}

func TestApplySpindleSignal_NeitherIsNoop(t *testing.T) {
	w := NewWorker("t", false)
	if ApplySpindleSignal(w, false, false) {
		t.Error("expected no-op when neither abort nor block fires")
	}
	if w.Phase != PhaseExecute {
		t.Errorf("Phase changed unexpectedly to %v", w.Phase)
	}
}

func TestCheckStepBudget(t *testing.T) {
	w := NewWorker("t", false)
	cfg := DefaultConfig()
	cfg.StepBudget = 10
	w.StepCount = 11
	if !CheckStepBudget(w, cfg) {
		t.Fatal("expected budget exceeded")
	}
	if w.Phase != PhaseFailed || w.FailReason != FailReasonBudget {
		t.Errorf("got phase=%v reason=%v", w.Phase, w.FailReason)
	}
}

func TestCheckStepBudget_ZeroIsUnbounded(t *testing.T) {
	w := NewWorker("t", false)
	cfg := DefaultConfig()
	w.StepCount = 1000000
	if CheckStepBudget(w, cfg) {
		t.Fatal("expected zero budget to be unbounded")
	}
}

func TestIsTerminal(t *testing.T) {
	w := NewWorker("t", false)
	if IsTerminal(w) {
		t.Error("fresh worker should not be terminal")
	}
	w.Phase = PhaseDone
	if !IsTerminal(w) {
		t.Error("DONE should be terminal")
	}
	w.Phase = PhaseFailed
	if !IsTerminal(w) {
		t.Error("FAILED should be terminal")
	}
}
