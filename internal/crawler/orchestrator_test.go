package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedger struct {
	mu sync.Mutex

	targets map[string]Target
	items   map[string]map[string]Item

	displayNames map[string]string
	snapshots    []FollowerSnapshot
	deadTargets  []string
	deadItems    []string

	sweptTargets []string
	touchCount   int
	listCalls    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		targets:      map[string]Target{},
		items:        map[string]map[string]Item{},
		displayNames: map[string]string{},
	}
}

func (l *fakeLedger) addTarget(t Target) {
	l.targets[t.ID] = t
}

func (l *fakeLedger) addItem(it Item) {
	if l.items[it.TargetID] == nil {
		l.items[it.TargetID] = map[string]Item{}
	}
	l.items[it.TargetID][it.ID] = it
}

func (l *fakeLedger) GetTarget(_ context.Context, id string) (Target, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.targets[id]
	if !ok {
		return Target{}, ErrNotFound
	}
	return t, nil
}

func (l *fakeLedger) DueTargets(_ context.Context, limit int) ([]Target, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Target, 0, limit)
	for _, t := range l.targets {
		if t.Alive && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (l *fakeLedger) UpsertItem(_ context.Context, item Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.items[item.TargetID] == nil {
		l.items[item.TargetID] = map[string]Item{}
	}
	existing, ok := l.items[item.TargetID][item.ID]
	if !ok {
		item.NeedsUpdate = true
		item.Alive = true
		l.items[item.TargetID][item.ID] = item
		return nil
	}
	existing.ThumbnailURL = item.ThumbnailURL
	existing.CountText = item.CountText
	existing.Count = item.Count
	l.items[item.TargetID][item.ID] = existing
	return nil
}

func (l *fakeLedger) RecordHeavy(_ context.Context, item Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, ok := l.items[item.TargetID][item.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Title = item.Title
	existing.CommentCount = item.CommentCount
	existing.NeedsUpdate = false
	l.items[item.TargetID][item.ID] = existing
	return nil
}

func (l *fakeLedger) ItemsNeedingUpdate(_ context.Context, targetID string) ([]Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listCalls++
	var out []Item
	for _, it := range l.items[targetID] {
		if it.Alive && it.NeedsUpdate {
			out = append(out, it)
		}
	}
	return out, nil
}

func (l *fakeLedger) MarkSwept(_ context.Context, targetID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.targets[targetID]
	t.IsNew = false
	l.targets[targetID] = t
	l.sweptTargets = append(l.sweptTargets, targetID)
	return nil
}

func (l *fakeLedger) TouchLastCrawled(_ context.Context, targetID string, when time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.targets[targetID]
	if t.LastCrawled == nil || when.After(*t.LastCrawled) {
		t.LastCrawled = &when
		l.targets[targetID] = t
	}
	l.touchCount++
	return nil
}

func (l *fakeLedger) MarkTargetDead(_ context.Context, targetID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.targets[targetID]
	t.Alive = false
	l.targets[targetID] = t
	l.deadTargets = append(l.deadTargets, targetID)
	return nil
}

func (l *fakeLedger) MarkItemDead(_ context.Context, targetID, itemID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	it := l.items[targetID][itemID]
	it.Alive = false
	l.items[targetID][itemID] = it
	l.deadItems = append(l.deadItems, itemID)
	return nil
}

func (l *fakeLedger) SaveDisplayName(_ context.Context, targetID, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.displayNames[targetID] = name
	return nil
}

func (l *fakeLedger) SaveFollowerSnapshot(_ context.Context, snap FollowerSnapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = append(l.snapshots, snap)
	return nil
}

// fakeCommitter persists into the fake ledger and records every commit, so
// the sweep loop sees needs_update flags drain the way the real sink makes
// them drain.
type fakeCommitter struct {
	ledger *fakeLedger

	mu     sync.Mutex
	light  []LightRecord
	heavy  []HeavyRecord
	failOn map[string]error
}

func (c *fakeCommitter) CommitLight(ctx context.Context, rec LightRecord, _ string) error {
	c.mu.Lock()
	err := c.failOn[rec.ItemID]
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if err := c.ledger.UpsertItem(ctx, Item{
		TargetID:     rec.TargetID,
		ID:           rec.ItemID,
		URL:          rec.URL,
		ThumbnailURL: rec.ThumbnailURL,
		CountText:    rec.CountText,
		Count:        rec.Count,
	}); err != nil {
		return err
	}
	c.mu.Lock()
	c.light = append(c.light, rec)
	c.mu.Unlock()
	return nil
}

func (c *fakeCommitter) CommitHeavy(ctx context.Context, rec HeavyRecord, _ string) error {
	c.mu.Lock()
	err := c.failOn[rec.ItemID]
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if err := c.ledger.RecordHeavy(ctx, Item{
		TargetID:     rec.TargetID,
		ID:           rec.ItemID,
		Title:        rec.Title,
		CommentCount: rec.CommentCount,
	}); err != nil {
		return err
	}
	c.mu.Lock()
	c.heavy = append(c.heavy, rec)
	c.mu.Unlock()
	return nil
}

type openedDetail struct {
	url    string
	direct bool
}

type fakeExtractor struct {
	mu sync.Mutex

	lightRecs      []LightRecord
	profile        Profile
	openListingErr error
	profileErr     error

	detailErrs     map[string]error
	missingInPage  map[string]bool
	closeFailAfter int // fail CloseDetail once this many closes happened; -1 never

	opened  []openedDetail
	closes  int
	current string
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		detailErrs:     map[string]error{},
		missingInPage:  map[string]bool{},
		closeFailAfter: -1,
	}
}

func (e *fakeExtractor) OpenListing(_ context.Context, _ string) error {
	return e.openListingErr
}

func (e *fakeExtractor) Profile(_ context.Context) (Profile, error) {
	if e.profileErr != nil {
		return Profile{}, e.profileErr
	}
	return e.profile, nil
}

func (e *fakeExtractor) CollectLight(_ context.Context, _ int) ([]LightRecord, error) {
	return e.lightRecs, nil
}

func (e *fakeExtractor) OpenDetail(_ context.Context, itemURL string) (bool, error) {
	if err := e.detailErrs[itemURL]; err != nil {
		return false, err
	}
	direct := e.missingInPage[itemURL]
	e.mu.Lock()
	e.opened = append(e.opened, openedDetail{url: itemURL, direct: direct})
	e.current = itemURL
	e.mu.Unlock()
	return direct, nil
}

func (e *fakeExtractor) OpenDetailDirect(_ context.Context, itemURL string) error {
	if err := e.detailErrs[itemURL]; err != nil {
		return err
	}
	e.mu.Lock()
	e.opened = append(e.opened, openedDetail{url: itemURL, direct: true})
	e.current = itemURL
	e.mu.Unlock()
	return nil
}

func (e *fakeExtractor) CollectHeavy(_ context.Context) (HeavyRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	itemID, targetID, err := ItemIDFromURL(e.current)
	if err != nil {
		return HeavyRecord{}, err
	}
	return HeavyRecord{TargetID: targetID, ItemID: itemID, URL: e.current, Title: "title " + itemID}, nil
}

func (e *fakeExtractor) CloseDetail(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	if e.closeFailAfter >= 0 && e.closes > e.closeFailAfter {
		return fmt.Errorf("%w: close affordance missing", ErrNavigation)
	}
	return nil
}

type fakeFactory struct {
	extractor  *fakeExtractor
	acquireErr error
	released   bool
}

func (f *fakeFactory) Acquire(_ context.Context) (Extractor, func(), error) {
	if f.acquireErr != nil {
		return nil, nil, f.acquireErr
	}
	return f.extractor, func() { f.released = true }, nil
}

type fakeProber struct {
	exists bool
	err    error
	calls  int
}

func (p *fakeProber) Exists(_ context.Context, _ string) (bool, error) {
	p.calls++
	return p.exists, p.err
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeIDs struct{ n int }

func (g *fakeIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("run-%d", g.n), nil
}

func itemURL(target, id string) string {
	return "https://example.com/@" + target + "/video/" + id
}

func newTestOrchestrator(ledger *fakeLedger, factory *fakeFactory, committer *fakeCommitter, prober *fakeProber, opts Options) *Orchestrator {
	// A nil *fakeProber must become a nil Prober interface, not a non-nil
	// interface wrapping a nil pointer, or the orchestrator's nil check
	// cannot see it.
	var p Prober
	if prober != nil {
		p = prober
	}
	return NewOrchestrator(ledger, factory, committer, p, &fakeClock{now: time.Unix(1000, 0)}, &fakeIDs{}, zap.NewNop(), opts)
}

func TestCrawlTarget_NewTargetFullFlow(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "alice", IsNew: true, Alive: true})

	ex := newFakeExtractor()
	followers := int64(1_200_000)
	ex.profile = Profile{DisplayName: "Alice", FollowerText: "1.2M", FollowerCount: &followers}
	ex.lightRecs = []LightRecord{
		{TargetID: "alice", ItemID: "7301", URL: itemURL("alice", "7301")},
		{TargetID: "alice", ItemID: "7305", URL: itemURL("alice", "7305")},
		{TargetID: "alice", ItemID: "7303", URL: itemURL("alice", "7303")},
	}

	committer := &fakeCommitter{ledger: ledger}
	factory := &fakeFactory{extractor: ex}
	o := newTestOrchestrator(ledger, factory, committer, &fakeProber{exists: true}, Options{BatchSize: 100})

	require.NoError(t, o.CrawlTarget(context.Background(), "alice"))

	require.Len(t, committer.light, 3)
	require.Len(t, committer.heavy, 3)

	// Full sweeps visit newest identities first.
	var visited []string
	for _, op := range ex.opened {
		id, _, err := ItemIDFromURL(op.url)
		require.NoError(t, err)
		visited = append(visited, id)
	}
	require.Equal(t, []string{"7305", "7303", "7301"}, visited)

	require.Equal(t, []string{"alice"}, ledger.sweptTargets)
	require.False(t, ledger.targets["alice"].IsNew)
	require.Equal(t, "Alice", ledger.displayNames["alice"])
	require.Len(t, ledger.snapshots, 1)
	require.Equal(t, followers, *ledger.snapshots[0].Count)
	require.Equal(t, 2, ledger.touchCount)
	require.True(t, factory.released)

	for _, it := range ledger.items["alice"] {
		require.False(t, it.NeedsUpdate)
	}
}

func TestCrawlTarget_ResumesInBatches(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "bob", IsNew: true, Alive: true})
	for i := 0; i < 150; i++ {
		id := fmt.Sprintf("%03d", i)
		ledger.addItem(Item{TargetID: "bob", ID: id, URL: itemURL("bob", id), NeedsUpdate: true, Alive: true})
	}

	ex := newFakeExtractor()
	committer := &fakeCommitter{ledger: ledger}
	o := newTestOrchestrator(ledger, &fakeFactory{extractor: ex}, committer, nil, Options{BatchSize: 100})

	require.NoError(t, o.CrawlTarget(context.Background(), "bob"))

	// 150 candidates drain as a batch of 100 and a batch of 50, each
	// recomputed from the ledger, plus the final empty recomputation.
	require.Equal(t, 3, ledger.listCalls)
	require.Len(t, committer.heavy, 150)
	for _, it := range ledger.items["bob"] {
		require.False(t, it.NeedsUpdate)
	}
}

func TestCrawlTarget_InterruptedSweepResumesOnNextRun(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "bob", IsNew: true, Alive: true})
	for i := 0; i < 150; i++ {
		id := fmt.Sprintf("%03d", i)
		ledger.addItem(Item{TargetID: "bob", ID: id, URL: itemURL("bob", id), NeedsUpdate: true, Alive: true})
	}

	ex := newFakeExtractor()
	// The session dies on the first item of the second batch.
	ex.detailErrs[itemURL("bob", "049")] = fmt.Errorf("tab gone: %w", ErrSessionLost)
	committer := &fakeCommitter{ledger: ledger}
	o := newTestOrchestrator(ledger, &fakeFactory{extractor: ex}, committer, nil, Options{BatchSize: 100})

	err := o.CrawlTarget(context.Background(), "bob")
	require.ErrorIs(t, err, ErrSessionLost)
	require.Len(t, committer.heavy, 100)
	require.Empty(t, ledger.sweptTargets)
	require.True(t, ledger.targets["bob"].IsNew)

	var pending int
	for _, it := range ledger.items["bob"] {
		if it.NeedsUpdate {
			pending++
		}
	}
	require.Equal(t, 50, pending)

	// The next invocation recomputes the candidate set from the ledger,
	// drains the remaining 50, and only then retires the is_new flag.
	delete(ex.detailErrs, itemURL("bob", "049"))
	require.NoError(t, o.CrawlTarget(context.Background(), "bob"))
	require.Len(t, committer.heavy, 150)
	require.Equal(t, []string{"bob"}, ledger.sweptTargets)
	require.False(t, ledger.targets["bob"].IsNew)
	for _, it := range ledger.items["bob"] {
		require.False(t, it.NeedsUpdate)
	}
}

func TestCrawlTarget_GoneAtListingRetiresTarget(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "gone", Alive: true})

	ex := newFakeExtractor()
	ex.openListingErr = fmt.Errorf("resolving profile: %w", ErrTargetNotFound)
	committer := &fakeCommitter{ledger: ledger}
	o := newTestOrchestrator(ledger, &fakeFactory{extractor: ex}, committer, &fakeProber{exists: true}, Options{})

	err := o.CrawlTarget(context.Background(), "gone")
	require.ErrorIs(t, err, ErrTargetNotFound)
	require.Equal(t, []string{"gone"}, ledger.deadTargets)
	require.Empty(t, committer.light)
	// A target that never resolved gets no attempt checkpoint.
	require.Equal(t, 0, ledger.touchCount)
}

func TestCrawlTarget_ProbeRetiresWithoutBrowser(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "gone", Alive: true})

	factory := &fakeFactory{acquireErr: errors.New("no extractor expected")}
	o := newTestOrchestrator(ledger, factory, &fakeCommitter{ledger: ledger}, &fakeProber{exists: false}, Options{})

	err := o.CrawlTarget(context.Background(), "gone")
	require.ErrorIs(t, err, ErrTargetNotFound)
	require.Equal(t, []string{"gone"}, ledger.deadTargets)
}

func TestCrawlTarget_ProbeErrorIsInconclusive(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "alice", Alive: true})

	ex := newFakeExtractor()
	committer := &fakeCommitter{ledger: ledger}
	prober := &fakeProber{err: errors.New("rate limited")}
	o := newTestOrchestrator(ledger, &fakeFactory{extractor: ex}, committer, prober, Options{})

	require.NoError(t, o.CrawlTarget(context.Background(), "alice"))
	require.Equal(t, 1, prober.calls)
	require.Empty(t, ledger.deadTargets)
}

func TestCrawlTarget_DeadItemRetiredAndSweepContinues(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "alice", IsNew: true, Alive: true})
	ledger.addItem(Item{TargetID: "alice", ID: "7305", URL: itemURL("alice", "7305"), NeedsUpdate: true, Alive: true})
	ledger.addItem(Item{TargetID: "alice", ID: "7301", URL: itemURL("alice", "7301"), NeedsUpdate: true, Alive: true})

	ex := newFakeExtractor()
	ex.detailErrs[itemURL("alice", "7305")] = fmt.Errorf("detail: %w", ErrItemNotFound)
	committer := &fakeCommitter{ledger: ledger}
	o := newTestOrchestrator(ledger, &fakeFactory{extractor: ex}, committer, nil, Options{})

	require.NoError(t, o.CrawlTarget(context.Background(), "alice"))
	require.Equal(t, []string{"7305"}, ledger.deadItems)
	require.Len(t, committer.heavy, 1)
	require.Equal(t, "7301", committer.heavy[0].ItemID)
	// Retiring the item counts as handling it, so the first sweep is
	// complete and the target is no longer new.
	require.Equal(t, []string{"alice"}, ledger.sweptTargets)
}

func TestCrawlTarget_CloseFailureSwitchesToDirect(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "alice", IsNew: true, Alive: true})
	for _, id := range []string{"7301", "7302", "7303"} {
		ledger.addItem(Item{TargetID: "alice", ID: id, URL: itemURL("alice", id), NeedsUpdate: true, Alive: true})
	}

	ex := newFakeExtractor()
	ex.closeFailAfter = 1 // first close succeeds, second fails
	committer := &fakeCommitter{ledger: ledger}
	o := newTestOrchestrator(ledger, &fakeFactory{extractor: ex}, committer, nil, Options{})

	require.NoError(t, o.CrawlTarget(context.Background(), "alice"))
	require.Len(t, committer.heavy, 3)

	// Items visited newest first; the third open happens after the failed
	// close and must be direct.
	require.Len(t, ex.opened, 3)
	require.False(t, ex.opened[0].direct)
	require.False(t, ex.opened[1].direct)
	require.True(t, ex.opened[2].direct)
	require.Equal(t, 2, ex.closes)
}

func TestCrawlTarget_ItemFailureSkippedFlagPreserved(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "alice", IsNew: true, Alive: true})
	ledger.addItem(Item{TargetID: "alice", ID: "7302", URL: itemURL("alice", "7302"), NeedsUpdate: true, Alive: true})
	ledger.addItem(Item{TargetID: "alice", ID: "7301", URL: itemURL("alice", "7301"), NeedsUpdate: true, Alive: true})

	ex := newFakeExtractor()
	committer := &fakeCommitter{ledger: ledger, failOn: map[string]error{"7302": errors.New("persist failed")}}
	o := newTestOrchestrator(ledger, &fakeFactory{extractor: ex}, committer, nil, Options{})

	require.NoError(t, o.CrawlTarget(context.Background(), "alice"))

	// The failed item keeps its flag for the next run and blocks the
	// first-sweep-complete reconciliation.
	require.True(t, ledger.items["alice"]["7302"].NeedsUpdate)
	require.False(t, ledger.items["alice"]["7301"].NeedsUpdate)
	require.Empty(t, ledger.sweptTargets)
	require.True(t, ledger.targets["alice"].IsNew)
}

func TestCrawlTarget_SessionLossAborts(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "alice", Alive: true})
	ledger.addItem(Item{TargetID: "alice", ID: "7301", URL: itemURL("alice", "7301"), NeedsUpdate: true, Alive: true})

	ex := newFakeExtractor()
	ex.detailErrs[itemURL("alice", "7301")] = fmt.Errorf("tab crashed: %w", ErrSessionLost)
	committer := &fakeCommitter{ledger: ledger}
	o := newTestOrchestrator(ledger, &fakeFactory{extractor: ex}, committer, nil, Options{})

	err := o.CrawlTarget(context.Background(), "alice")
	require.ErrorIs(t, err, ErrSessionLost)
	require.True(t, ledger.items["alice"]["7301"].NeedsUpdate)
}

func TestCrawlTarget_SkipsDeadTarget(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "dead", Alive: false})

	factory := &fakeFactory{acquireErr: errors.New("no extractor expected")}
	o := newTestOrchestrator(ledger, factory, &fakeCommitter{ledger: ledger}, nil, Options{})

	require.NoError(t, o.CrawlTarget(context.Background(), "dead"))
	require.Equal(t, 0, ledger.touchCount)
}

func TestCrawlTarget_UnknownTarget(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(newFakeLedger(), &fakeFactory{extractor: newFakeExtractor()}, &fakeCommitter{ledger: newFakeLedger()}, nil, Options{})
	err := o.CrawlTarget(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCrawlTarget_RefetchSweepDoesNotMarkSwept(t *testing.T) {
	t.Parallel()

	ledger := newFakeLedger()
	ledger.addTarget(Target{ID: "alice", IsNew: false, Alive: true})
	ledger.addItem(Item{TargetID: "alice", ID: "7301", URL: itemURL("alice", "7301"), NeedsUpdate: true, Alive: true})

	ex := newFakeExtractor()
	committer := &fakeCommitter{ledger: ledger}
	o := newTestOrchestrator(ledger, &fakeFactory{extractor: ex}, committer, nil, Options{})

	require.NoError(t, o.CrawlTarget(context.Background(), "alice"))
	require.Len(t, committer.heavy, 1)
	require.Empty(t, ledger.sweptTargets)
}
