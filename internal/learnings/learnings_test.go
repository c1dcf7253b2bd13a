package learnings

import "testing"

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   FailureType
	}{
		{name: "type error", output: "TypeError: cannot use string as type int", want: FailureTypeTypeError},
		{name: "compile error", output: "syntax error: unexpected EOF", want: FailureTypeCompileError},
		{name: "test assertion", output: "--- FAIL: TestFoo\nassertion failed: expected 1 but got 2", want: FailureTypeTestAssertion},
		{name: "lint error", output: "golangci-lint: unused variable", want: FailureTypeLintError},
		{name: "timeout", output: "context deadline exceeded", want: FailureTypeTimeout},
		{name: "runtime error", output: "panic: runtime error: invalid memory address", want: FailureTypeRuntimeError},
		{name: "unknown", output: "everything is fine, nothing failed", want: FailureTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyFailure(tt.output); got != tt.want {
				t.Errorf("ClassifyFailure(%q) = %v, want %v", tt.output, got, tt.want)
			}
		})
	}
}

func TestClassifyFailure_TailWindow(t *testing.T) {
	padding := make([]byte, 6000)
	for i := range padding {
		padding[i] = 'x'
	}
	output := string(padding) + "\npanic: boom"
	if got := ClassifyFailure(output); got != FailureTypeRuntimeError {
		t.Errorf("ClassifyFailure with long preamble = %v, want %v", got, FailureTypeRuntimeError)
	}
}

func TestRetryRiskScore(t *testing.T) {
	tests := []struct {
		name      string
		in        RiskInputs
		wantScore int
		wantLevel RiskLevel
	}{
		{name: "first attempt no factors", in: RiskInputs{Attempt: 1}, wantScore: 20, wantLevel: RiskLow},
		{name: "second attempt all factors", in: RiskInputs{Attempt: 2, FragilePathOverlap: true, KnownErrorSignatureMatch: true, CochangeFileMissing: true}, wantScore: 85, wantLevel: RiskHigh},
		{name: "capped at 100", in: RiskInputs{Attempt: 5, FragilePathOverlap: true, KnownErrorSignatureMatch: true, CochangeFileMissing: true}, wantScore: 100, wantLevel: RiskHigh},
		{name: "medium band", in: RiskInputs{Attempt: 2, FragilePathOverlap: true}, wantScore: 55, wantLevel: RiskMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, level := RetryRiskScore(tt.in)
			if score != tt.wantScore {
				t.Errorf("score = %d, want %d", score, tt.wantScore)
			}
			if level != tt.wantLevel {
				t.Errorf("level = %v, want %v", level, tt.wantLevel)
			}
		})
	}
}

func TestBuildCriticBlock_SuppressedWhenLowRiskAndLowConfidence(t *testing.T) {
	block, include := BuildCriticBlock(RiskInputs{Attempt: 1}, nil, nil)
	if include {
		t.Error("expected critic block to be suppressed for low risk, no strategies")
	}
	if block.RiskLevel != RiskLow {
		t.Errorf("RiskLevel = %v, want %v", block.RiskLevel, RiskLow)
	}
}

func TestBuildCriticBlock_IncludesTop3ByConfidence(t *testing.T) {
	learnings := []Learning{
		{
			Category: CategoryGotcha,
			Weight:   90,
			Text:     "don't mutate shared slices",
			Structured: &Structured{
				FailureContext: &FailureContext{FixApplied: "copy before mutate"},
			},
		},
	}
	block, include := BuildCriticBlock(RiskInputs{Attempt: 2, KnownErrorSignatureMatch: true}, learnings, []string{"src/util.go"})
	if !include {
		t.Fatal("expected critic block to be included")
	}
	if len(block.Strategies) == 0 {
		t.Fatal("expected at least one strategy")
	}
	if len(block.Strategies) > 3 {
		t.Errorf("strategies = %d, want <= 3", len(block.Strategies))
	}
	for i := 1; i < len(block.Strategies); i++ {
		if block.Strategies[i].Confidence > block.Strategies[i-1].Confidence {
			t.Error("strategies should be sorted by descending confidence")
		}
	}
}

func TestCalibrateConfidence_WithinHysteresisBandNoChange(t *testing.T) {
	anchor := CalibrationAnchor{Command: "go test ./...", LastCalibratedRate: 0.8}
	got := CalibrateConfidence(anchor, 0.9, 0.15)
	if got.LastCalibratedRate != 0.8 {
		t.Errorf("rate changed within hysteresis band: got %v, want unchanged 0.8", got.LastCalibratedRate)
	}
}

func TestCalibrateConfidence_BeyondBandUpdates(t *testing.T) {
	anchor := CalibrationAnchor{Command: "go test ./...", LastCalibratedRate: 0.8}
	got := CalibrateConfidence(anchor, 0.5, 0.15)
	if got.LastCalibratedRate != 0.5 {
		t.Errorf("rate = %v, want updated to 0.5", got.LastCalibratedRate)
	}
}

func TestDecayAll(t *testing.T) {
	in := []Learning{{Weight: 100, Maturity: MaturityEstablished}}
	out := DecayAll(in, 0.02)
	if out[0].Weight != 98 {
		t.Errorf("Weight = %v, want 98", out[0].Weight)
	}
}

func TestDecayAll_NeverNegative(t *testing.T) {
	in := []Learning{{Weight: 1, Maturity: MaturityProvisional}}
	out := DecayAll(in, 2.0)
	if out[0].Weight < 0 {
		t.Errorf("Weight = %v, want >= 0", out[0].Weight)
	}
}
