package cycle

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/wheelhouse-dev/wheelhouse/internal/dedup"
)

// Proposal is one candidate ticket surfaced by the scout, before
// acceptance.
type Proposal struct {
	Title                string
	Category             string
	Confidence           float64
	ImpactScore          float64
	Files                []string
	AllowedPaths         []string
	VerificationCommands []string
}

// ScoutFunc invokes the external scout collaborator and returns its raw
// proposals for the cycle.
type ScoutFunc func(ctx context.Context) ([]Proposal, error)

// ReviewFunc is the optional adversarial second-pass reviewer: it may
// revise a proposal's Confidence/ImpactScore.
type ReviewFunc func(ctx context.Context, p Proposal) (Proposal, error)

// GatherOptions configures one gather-and-dedup pass.
type GatherOptions struct {
	RecentTitles       []string // recent ticket titles, for exact-match dedup
	ExistingTitles     []string // existing ticket titles, for fuzzy dedup
	OpenPRBranchSlugs  []string // slug portion of open PR branch names
	SimilarityThreshold float64 // default 0.6
	MinImpactScore     float64
	MaxScoutRetries    int
}

// Gather runs the scout, deduplicates its proposals against recent and
// existing titles, optionally runs the adversarial review pass, and drops
// any proposal whose adjusted impact score falls below the session
// minimum. If every proposal is dropped, the scout is retried (bounded).
func Gather(ctx context.Context, scout ScoutFunc, review ReviewFunc, opts GatherOptions) ([]Proposal, error) {
	maxRetries := opts.MaxScoutRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var accepted []Proposal
	for attempt := 0; attempt < maxRetries; attempt++ {
		raw, err := scout(ctx)
		if err != nil {
			return nil, err
		}

		deduped := dedupeProposals(raw, opts)
		if review != nil {
			deduped, err = reviewAll(ctx, review, deduped)
			if err != nil {
				return nil, err
			}
		}

		accepted = filterByImpact(deduped, opts.MinImpactScore)
		if len(accepted) > 0 {
			return accepted, nil
		}
	}
	return nil, ErrNoProposals
}

func dedupeProposals(proposals []Proposal, opts GatherOptions) []Proposal {
	threshold := opts.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.6
	}

	var compareAgainst []string
	compareAgainst = append(compareAgainst, opts.ExistingTitles...)
	for _, slug := range opts.OpenPRBranchSlugs {
		compareAgainst = append(compareAgainst, dedup.SlugFromBranch(slug))
	}

	var kept []Proposal
	for _, p := range proposals {
		if isRecentExactMatch(p.Title, opts.RecentTitles) {
			continue
		}
		if isFuzzyDuplicate(p.Title, compareAgainst, threshold) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func isRecentExactMatch(title string, recent []string) bool {
	for _, r := range recent {
		if dedup.IsExactDuplicate(title, r) {
			return true
		}
	}
	return false
}

func isFuzzyDuplicate(title string, others []string, threshold float64) bool {
	for _, o := range others {
		if dedup.IsDuplicate(title, o, threshold) {
			return true
		}
	}
	return false
}

// reviewAll runs review concurrently over every proposal (order is not
// significant at this stage; proposals are independent).
func reviewAll(ctx context.Context, review ReviewFunc, proposals []Proposal) ([]Proposal, error) {
	out := make([]Proposal, len(proposals))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range proposals {
		i, p := i, p
		g.Go(func() error {
			revised, err := review(gctx, p)
			if err != nil {
				return err
			}
			out[i] = revised
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func filterByImpact(proposals []Proposal, minImpact float64) []Proposal {
	var kept []Proposal
	for _, p := range proposals {
		if p.ImpactScore >= minImpact {
			kept = append(kept, p)
		}
	}
	return kept
}
