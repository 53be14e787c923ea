package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecideSweep(t *testing.T) {
	t.Parallel()

	plan := DecideSweep(Target{ID: "alice", IsNew: true}, 100)
	require.Equal(t, SweepFull, plan.Mode)
	require.Equal(t, 100, plan.BatchSize)

	plan = DecideSweep(Target{ID: "bob"}, 50)
	require.Equal(t, SweepRefetch, plan.Mode)
}

func TestOrderCandidates_FullSweepIsIdentityDescending(t *testing.T) {
	t.Parallel()

	items := []Item{
		{ID: "7301"},
		{ID: "999"}, // shorter numeric ID sorts as smaller
		{ID: "7305"},
		{ID: "7303"},
	}

	plan := SweepPlan{Mode: SweepFull, BatchSize: 100}
	got := plan.OrderCandidates(items)

	ids := make([]string, len(got))
	for i, it := range got {
		ids[i] = it.ID
	}
	require.Equal(t, []string{"7305", "7303", "7301", "999"}, ids)

	// Ordering is deterministic given the same set.
	again := plan.OrderCandidates([]Item{{ID: "999"}, {ID: "7303"}, {ID: "7305"}, {ID: "7301"}})
	for i, it := range again {
		require.Equal(t, ids[i], it.ID)
	}
}

func TestOrderCandidates_RefetchKeepsLedgerOrder(t *testing.T) {
	t.Parallel()

	items := []Item{{ID: "b"}, {ID: "a"}, {ID: "c"}}
	plan := SweepPlan{Mode: SweepRefetch, BatchSize: 100}
	got := plan.OrderCandidates(items)
	require.Equal(t, []Item{{ID: "b"}, {ID: "a"}, {ID: "c"}}, got)
}
