package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamesim/lame/sim/trace"
)

// tmpl is the template type for test worlds. kind selects the entity built
// by buildTestEntity.
type tmpl struct {
	kind  string
	name  string
	layer uint8
	after int // tick on which a "killer" dies
	child *tmpl
}

type testHandle = Handle[string, tmpl]

// drawer draws its name on its layer every tick.
type drawer struct {
	name  string
	layer uint8
}

func (d *drawer) Update(_ testHandle, _ float64) Action[string] {
	return Draw(d.layer, d.name)
}

// killer draws until tick `after`, then dies. A killer that is updated
// again after dying draws "zombie:<name>".
type killer struct {
	name  string
	layer uint8
	after int
	ticks int
	dead  bool
}

func (k *killer) Update(_ testHandle, _ float64) Action[string] {
	if k.dead {
		return Draw(k.layer, "zombie:"+k.name)
	}
	k.ticks++
	if k.ticks >= k.after {
		k.dead = true
		return Kill[string]()
	}
	return Draw(k.layer, k.name)
}

// spawner adds its child template on the first tick, then waits.
type spawner struct {
	name    string
	child   tmpl
	spawned bool
}

func (s *spawner) Update(h testHandle, _ float64) Action[string] {
	if s.spawned {
		return Wait[string]()
	}
	s.spawned = true
	if err := h.AddEntity(s.child); err != nil {
		panic(err)
	}
	return Draw(0, s.name)
}

// sharedReader draws the shared resource it was constructed with and the
// one visible through the handle.
type sharedReader struct {
	atConstruct string
}

func (r *sharedReader) Update(h testHandle, _ float64) Action[string] {
	return Draw(0, r.atConstruct+"|"+h.Shared())
}

// deltaRecorder sleeps briefly and draws the delta it was given.
type deltaRecorder struct{}

func (deltaRecorder) Update(_ testHandle, delta float64) Action[string] {
	time.Sleep(time.Millisecond)
	return Draw(0, fmt.Sprintf("%.6f", delta))
}

type panicker struct{}

func (panicker) Update(_ testHandle, _ float64) Action[string] {
	panic("entity exploded")
}

func buildTestEntity(t tmpl, shared string) Entity[string, tmpl, string] {
	switch t.kind {
	case "drawer":
		return &drawer{name: t.name, layer: t.layer}
	case "killer":
		return &killer{name: t.name, layer: t.layer, after: t.after}
	case "spawner":
		return &spawner{name: t.name, child: *t.child}
	case "shared":
		return &sharedReader{atConstruct: shared}
	case "delta":
		return deltaRecorder{}
	case "panic":
		return panicker{}
	default:
		panic("unknown template kind " + t.kind)
	}
}

func drawerT(name string, layer uint8) tmpl {
	return tmpl{kind: "drawer", name: name, layer: layer}
}

func newTestWorld(t *testing.T, cfg Config, initial []tmpl) *World[string, tmpl, string] {
	t.Helper()
	w, err := New(cfg, "shared-resource", buildTestEntity, initial)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func testConfig(shards int) Config {
	return Config{Shards: shards, OutboundCapacity: 2, TraceLevel: "none"}
}

func nextFrame(t *testing.T, w *World[string, tmpl, string]) *Frame[string] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := w.NextFrame(ctx)
	require.NoError(t, err)
	return f
}

func draws(t *testing.T, w *World[string, tmpl, string]) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := w.Draws(ctx)
	require.NoError(t, err)
	return out
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{Shards: 0}, "", buildTestEntity, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New[string, tmpl, string](testConfig(1), "", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWorld_SealedFrames_EveryShardReportsOnce(t *testing.T) {
	// GIVEN a world with 4 shards
	w := newTestWorld(t, testConfig(4), []tmpl{drawerT("a", 1), drawerT("b", 1)})

	// WHEN several frames are pulled
	for want := uint64(1); want <= 5; want++ {
		f := nextFrame(t, w)

		// THEN each sealed frame has exactly one report per shard, in sequence
		assert.True(t, f.Sealed())
		assert.Equal(t, 4, f.Reporters())
		assert.Equal(t, want, f.Seq())
	}
}

func TestWorld_Draws_LowerLayerFirstAcrossShards(t *testing.T) {
	// GIVEN two entities on different shards drawing on layers 5 and 2
	w := newTestWorld(t, testConfig(2), []tmpl{drawerT("five", 5), drawerT("two", 2)})
	assert.Equal(t, []int{1, 1}, w.Counts(), "one entity per shard")

	// WHEN the first frame is collated
	out := draws(t, w)

	// THEN the layer-2 output comes first
	assert.Equal(t, []string{"two", "five"}, out)
}

func TestWorld_KilledOnFirstUpdate_NeverDrawn(t *testing.T) {
	// GIVEN entities that die on their first update alongside survivors
	initial := []tmpl{
		{kind: "killer", name: "k1", after: 1},
		drawerT("d1", 0),
		{kind: "killer", name: "k2", after: 1},
		drawerT("d2", 0),
		{kind: "killer", name: "k3", after: 1},
	}
	w := newTestWorld(t, testConfig(2), initial)

	// WHEN several frames are pulled
	for i := 0; i < 6; i++ {
		out := draws(t, w)

		// THEN killed entities never show up, survivors always do
		assert.ElementsMatch(t, []string{"d1", "d2"}, out, "frame %d", i+1)
	}

	// AND their shard counts were released
	total := 0
	for _, c := range w.Counts() {
		total += c
	}
	assert.Equal(t, 2, total)
}

func TestWorld_StableRemoval_PreservesOrder(t *testing.T) {
	// GIVEN one shard whose entities 1 and 3 die on their second tick
	initial := []tmpl{
		drawerT("e0", 0),
		{kind: "killer", name: "e1", after: 2},
		drawerT("e2", 0),
		{kind: "killer", name: "e3", after: 2},
		drawerT("e4", 0),
		drawerT("e5", 0),
	}
	w := newTestWorld(t, testConfig(1), initial)

	// WHEN three frames are pulled
	first := draws(t, w)
	second := draws(t, w)
	third := draws(t, w)

	// THEN survivors keep their relative order
	assert.Equal(t, []string{"e0", "e1", "e2", "e3", "e4", "e5"}, first)
	assert.Equal(t, []string{"e0", "e2", "e4", "e5"}, second)
	assert.Equal(t, []string{"e0", "e2", "e4", "e5"}, third)
	assert.Equal(t, []int{4}, w.Counts())
}

func TestWorld_AddEntities_BalancedWithinOne(t *testing.T) {
	// GIVEN a fresh world with 3 shards and no entities
	w := newTestWorld(t, testConfig(3), nil)

	// WHEN 10 templates are added as a batch
	batch := make([]tmpl, 10)
	for i := range batch {
		batch[i] = drawerT(fmt.Sprintf("d%d", i), 0)
	}
	n, err := w.AddEntities(batch)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// THEN assigned counts differ by at most one
	counts := w.Counts()
	assert.Equal(t, []int{4, 3, 3}, counts)

	// AND every entity draws once it is constructed
	drawn := 0
	for i := 0; i < 10 && drawn < 10; i++ {
		drawn = len(draws(t, w))
	}
	assert.Equal(t, 10, drawn)
}

func TestWorld_AddEntityFromUpdate_DrawnNextFrame(t *testing.T) {
	// GIVEN a single-shard spawner whose first update adds a child
	child := drawerT("child", 1)
	w := newTestWorld(t, testConfig(1), []tmpl{{kind: "spawner", name: "parent", child: &child}})

	// WHEN the first two frames are pulled
	first := draws(t, w)
	second := draws(t, w)

	// THEN the child is constructed on the following tick, not the same one
	assert.Equal(t, []string{"parent"}, first)
	assert.Equal(t, []string{"child"}, second)
	assert.Equal(t, []int{2}, w.Counts(), "a waiting parent stays alive")
}

func TestWorld_Shared_VisibleToConstructorsAndEntities(t *testing.T) {
	w := newTestWorld(t, testConfig(1), []tmpl{{kind: "shared"}})

	assert.Equal(t, "shared-resource", w.Shared())
	assert.Equal(t, []string{"shared-resource|shared-resource"}, draws(t, w))
}

func TestWorld_Delta_IsElapsedWallClock(t *testing.T) {
	w := newTestWorld(t, testConfig(1), []tmpl{{kind: "delta"}})

	_ = draws(t, w)
	out := draws(t, w)
	require.Len(t, out, 1)

	var delta float64
	_, err := fmt.Sscanf(out[0], "%f", &delta)
	require.NoError(t, err)
	// The previous tick slept 1ms inside the update, so at least that much elapsed.
	assert.GreaterOrEqual(t, delta, 0.001)
	assert.Less(t, delta, 5.0)
}

func TestWorld_Backpressure_BoundsSealedFrames(t *testing.T) {
	// GIVEN an outbound buffer of one frame and no consumer
	cfg := testConfig(3)
	cfg.OutboundCapacity = 1
	w := newTestWorld(t, cfg, []tmpl{drawerT("a", 0)})

	// THEN one frame fills the buffer and one more blocks its sealing shard
	require.Eventually(t, func() bool { return w.seq.Load() == 2 }, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(2), w.seq.Load(), "no frame may seal while a hand-off is blocked")

	// WHEN the consumer pulls a frame
	f := nextFrame(t, w)
	assert.Equal(t, uint64(1), f.Seq())

	// THEN ticking resumes
	require.Eventually(t, func() bool { return w.seq.Load() >= 3 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, uint64(2), nextFrame(t, w).Seq(), "frames are delivered in seal order")
}

func TestWorld_Close_StopsEveryShard(t *testing.T) {
	// GIVEN a running world whose consumer has stopped pulling
	w := newTestWorld(t, testConfig(4), []tmpl{drawerT("a", 0), drawerT("b", 1)})
	_ = draws(t, w)

	// WHEN the world is closed
	require.NoError(t, w.Close())

	// THEN every shard loop has stopped
	for i, st := range w.ShardStates() {
		assert.Equal(t, ShardStopped, st, "shard %d", i)
	}
	// AND nothing is pushed afterwards
	buffered := len(w.out)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, buffered, len(w.out))

	// AND the handle reports closed
	_, err := w.Draws(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, w.AddEntity(drawerT("late", 0)), ErrClosed)
	n, err := w.AddEntities([]tmpl{drawerT("late", 0)})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, n)
	assert.ErrorIs(t, w.AddEntityTo(0, drawerT("late", 0)), ErrClosed)

	// AND closing again is harmless
	assert.NoError(t, w.Close())
}

func TestWorld_Close_UnblocksBlockedHandOff(t *testing.T) {
	// GIVEN an unbuffered outbound channel nobody reads
	cfg := testConfig(2)
	cfg.OutboundCapacity = 0
	w := newTestWorld(t, cfg, []tmpl{drawerT("a", 0)})
	require.Eventually(t, func() bool { return w.seq.Load() == 1 }, 5*time.Second, time.Millisecond)

	// WHEN the world is closed while the sealing shard is blocked
	done := make(chan error, 1)
	go func() { done <- w.Close() }()

	// THEN Close returns without error
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestWorld_ShardPanic_StopsOnlyThatShard(t *testing.T) {
	// GIVEN a panicking entity on shard 0 and a drawer on shard 1
	w, err := New(testConfig(2), "shared-resource", buildTestEntity, []tmpl{{kind: "panic"}, drawerT("ok", 0)})
	require.NoError(t, err)

	// THEN shard 0 stops and refuses new templates
	require.Eventually(t, func() bool { return w.ShardStates()[0] == ShardStopped }, 5*time.Second, time.Millisecond)
	err = w.AddEntityTo(0, drawerT("retry", 0))
	assert.ErrorIs(t, err, ErrShardUnavailable)
	assert.NotEqual(t, ShardStopped, w.ShardStates()[1])

	// AND the frame it never reported to never seals
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = w.NextFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// AND Close surfaces the failure
	err = w.Close()
	require.Error(t, err)
	assert.True(t, IsShardFailure(err))
	var sf *ShardFailure
	require.True(t, errors.As(err, &sf))
	assert.Equal(t, 0, sf.Shard)
}

func TestWorld_AddEntities_SkipsDeadShardAndCountsAccepted(t *testing.T) {
	// GIVEN shard 0 killed by a panicking entity while shard 1 holds a drawer
	w := newTestWorld(t, testConfig(2), []tmpl{{kind: "panic"}, drawerT("ok", 0)})
	require.Eventually(t, func() bool { return w.ShardStates()[0] == ShardStopped }, 5*time.Second, time.Millisecond)
	assert.Equal(t, []int{0, 1}, w.Counts(), "a dead shard carries no load")

	// WHEN a batch is added although shard 0 has the lowest count
	n, err := w.AddEntities([]tmpl{drawerT("a", 0), drawerT("b", 0), drawerT("c", 0)})

	// THEN the whole batch is accepted by the live shard, each template once
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{0, 4}, w.Counts())
	require.NoError(t, w.AddEntity(drawerT("d", 0)))
	assert.Equal(t, []int{0, 5}, w.Counts())
}

func TestWorld_AddEntities_NoLiveShard_NothingAccepted(t *testing.T) {
	// GIVEN a world whose only shard died
	w := newTestWorld(t, testConfig(1), []tmpl{{kind: "panic"}})
	require.Eventually(t, func() bool { return w.ShardStates()[0] == ShardStopped }, 5*time.Second, time.Millisecond)

	// WHEN a batch is added
	batch := []tmpl{drawerT("a", 0), drawerT("b", 0)}
	n, err := w.AddEntities(batch)

	// THEN the error says how much of the batch is left to resubmit
	assert.ErrorIs(t, err, ErrShardUnavailable)
	assert.Equal(t, 0, n)
	assert.Len(t, batch[n:], 2)
	assert.Equal(t, []int{0}, w.Counts())
}

func TestWorld_AddEntityDuringClose_ClosedOrRecorded(t *testing.T) {
	// GIVEN a traced world with adders racing Close
	cfg := testConfig(2)
	cfg.TraceLevel = string(trace.TraceLevelDecisions)
	w, err := New(cfg, "shared-resource", buildTestEntity, nil)
	require.NoError(t, err)

	var accepted atomic.Int64
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				if err := w.AddEntity(drawerT("x", 0)); err != nil {
					errs <- err
					return
				}
				accepted.Add(1)
			}
		}()
	}

	// WHEN the world closes mid-stream
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, w.Close())
	wg.Wait()
	close(errs)

	// THEN every refusal is ErrClosed and every nil return was a real routing
	for err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.Len(t, w.Trace().Routings(), int(accepted.Load()))
	assert.ErrorIs(t, w.AddEntity(drawerT("late", 0)), ErrClosed)
}

func TestWorld_Trace_RecordsRoutingsAndFrames(t *testing.T) {
	// GIVEN a world tracing frames
	cfg := testConfig(2)
	cfg.TraceLevel = string(trace.TraceLevelFrames)
	w := newTestWorld(t, cfg, []tmpl{drawerT("a", 1), drawerT("b", 2), drawerT("c", 2)})

	// WHEN three frames are consumed
	for i := 0; i < 3; i++ {
		_ = draws(t, w)
	}

	// THEN routing and frame records are available
	st := w.Trace()
	require.NotNil(t, st)
	assert.Len(t, st.Routings(), 3)
	frames := st.Frames()
	require.GreaterOrEqual(t, len(frames), 3)
	assert.Equal(t, uint64(1), frames[0].Seq)
	assert.Equal(t, 3, frames[0].Capsules)
	assert.Equal(t, map[uint8]int{1: 1, 2: 2}, frames[0].Layers)

	summary := trace.Summarize(st)
	assert.Equal(t, 3, summary.TotalRoutings)
	assert.Equal(t, 2, summary.UniqueTargets)
}

func TestWorld_TraceOff_NilTrace(t *testing.T) {
	w := newTestWorld(t, testConfig(1), nil)
	assert.Nil(t, w.Trace())
}

func TestWorld_ManyShards_OutputComplete(t *testing.T) {
	// GIVEN many entities spread over many shards
	const n = 200
	initial := make([]tmpl, n)
	want := make([]string, n)
	for i := range initial {
		name := fmt.Sprintf("e%03d", i)
		initial[i] = drawerT(name, uint8(i%7))
		want[i] = name
	}
	w := newTestWorld(t, testConfig(8), initial)

	// WHEN frames are pulled
	for i := 0; i < 10; i++ {
		f := nextFrame(t, w)

		// THEN every entity appears exactly once and layers never decrease
		capsules := f.Capsules()
		got := f.Collapse()
		assert.ElementsMatch(t, want, got)
		assert.True(t, slices.IsSortedFunc(capsules, CompareCapsules[string]))
	}
}
