package crawler

import "sort"

// SweepMode selects the heavy-sweep candidate policy for a target.
type SweepMode string

// Sweep modes decided once per crawl and consumed as data by the sweep loop.
const (
	// SweepFull visits every known item, newest first. Chosen for targets
	// that have never completed a full heavy sweep.
	SweepFull SweepMode = "full"
	// SweepRefetch visits only items flagged needs_update.
	SweepRefetch SweepMode = "refetch"
)

// SweepPlan is the tagged HEAVY_DECISION outcome. It is produced exactly once
// per target crawl; the sweep loop never re-derives it.
type SweepPlan struct {
	Mode SweepMode
	// BatchSize bounds how many items are processed between ledger
	// recomputations of the remaining candidate set.
	BatchSize int
}

// DecideSweep branches on the target's is_new flag.
func DecideSweep(target Target, batchSize int) SweepPlan {
	mode := SweepRefetch
	if target.IsNew {
		mode = SweepFull
	}
	return SweepPlan{Mode: mode, BatchSize: batchSize}
}

// OrderCandidates arranges the candidate set for processing. Full sweeps run
// identity-descending (most-recent-first); refetch sweeps keep ledger order.
func (p SweepPlan) OrderCandidates(items []Item) []Item {
	if p.Mode != SweepFull {
		return items
	}
	sort.SliceStable(items, func(i, j int) bool {
		return CompareItemIDs(items[i].ID, items[j].ID) > 0
	})
	return items
}
