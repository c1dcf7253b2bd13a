package wave

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Outcome is one proposal's dispatch result within a wave.
type Outcome struct {
	ProposalID string
	Err        error
	Conflicted bool
}

// Dispatch runs every proposal in a wave concurrently under a semaphore of
// the given permit count, calling run for each. Permits are acquired
// before run is entered and released in a guaranteed-release block.
// Dispatch returns once every proposal in the wave has terminated (the
// wave-boundary barrier: no caller may start wave k+1 before this returns).
func Dispatch(ctx context.Context, proposalsInWave []Proposal, permits int64, run func(context.Context, Proposal) error) ([]Outcome, error) {
	sem := semaphore.NewWeighted(permits)
	outcomes := make([]Outcome, len(proposalsInWave))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range proposalsInWave {
		i, p := i, p
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				outcomes[i] = Outcome{ProposalID: p.ID, Err: err}
				return nil
			}
			defer sem.Release(1)

			err := run(gctx, p)
			outcomes[i] = Outcome{ProposalID: p.ID, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Permits computes the wave's semaphore size: the lesser of the configured
// parallelism and the remaining PR budget.
func Permits(configuredParallel, prBudgetRemaining int) int64 {
	n := configuredParallel
	if prBudgetRemaining < n {
		n = prBudgetRemaining
	}
	if n < 0 {
		n = 0
	}
	return int64(n)
}
