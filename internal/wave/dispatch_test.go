package wave

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestDispatch_RunsAllProposals(t *testing.T) {
	proposals := []Proposal{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	var ran int32
	outcomes, err := Dispatch(context.Background(), proposals, 2, func(ctx context.Context, p Proposal) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ran != 3 {
		t.Errorf("ran = %d, want 3", ran)
	}
	if len(outcomes) != 3 {
		t.Errorf("outcomes = %d, want 3", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Err != nil {
			t.Errorf("unexpected outcome error for %s: %v", o.ProposalID, o.Err)
		}
	}
}

func TestDispatch_CapturesPerProposalError(t *testing.T) {
	proposals := []Proposal{{ID: "a"}, {ID: "b"}}
	wantErr := errors.New("boom")
	outcomes, err := Dispatch(context.Background(), proposals, 2, func(ctx context.Context, p Proposal) error {
		if p.ID == "b" {
			return wantErr
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Dispatch itself should not fail: %v", err)
	}
	var gotErr error
	for _, o := range outcomes {
		if o.ProposalID == "b" {
			gotErr = o.Err
		}
	}
	if gotErr != wantErr {
		t.Errorf("outcome for b: err = %v, want %v", gotErr, wantErr)
	}
}

func TestPermits(t *testing.T) {
	if got := Permits(5, 3); got != 3 {
		t.Errorf("Permits(5,3) = %d, want 3", got)
	}
	if got := Permits(2, 10); got != 2 {
		t.Errorf("Permits(2,10) = %d, want 2", got)
	}
	if got := Permits(2, -1); got != 0 {
		t.Errorf("Permits(2,-1) = %d, want 0", got)
	}
}
