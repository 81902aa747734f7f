package sim

import (
	"fmt"
	"slices"
	"sync"

	"github.com/lamesim/lame/sim/trace"
)

// Balancer routes new templates to the shard with the fewest assigned
// entities. Counts cover assigned-but-not-yet-constructed plus live
// entities and are a greedy heuristic, not an exact live count.
//
// Thread-safety: all methods are safe for concurrent use. The count table
// and the inboxes are mutated under a single mutex.
type Balancer[T any] struct {
	mu      sync.Mutex
	counts  []int
	inboxes []*inbox[T]
	routed  uint64
	stopped bool
	trace   *trace.SimulationTrace // nil when routing decisions are not traced
}

// NewBalancer creates a balancer over shards empty inboxes.
// Panics if shards < 1.
func NewBalancer[T any](shards int, st *trace.SimulationTrace) *Balancer[T] {
	if shards < 1 {
		panic("NewBalancer: shards must be >= 1")
	}
	inboxes := make([]*inbox[T], shards)
	for i := range inboxes {
		inboxes[i] = &inbox[T]{}
	}
	return &Balancer[T]{
		counts:  make([]int, shards),
		inboxes: inboxes,
		trace:   st,
	}
}

// Route sends t to the least-loaded shard that still accepts templates and
// returns its index. Ties are broken by lowest index. Fails with
// ErrShardUnavailable when every shard is closed and ErrClosed once the
// balancer is stopped.
func (b *Balancer[T]) Route(t T) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return -1, ErrClosed
	}
	return b.routeLocked(t)
}

// RouteMany routes each template as Route would, holding the lock once for
// the whole batch. It stops at the first failure and returns how many
// templates were routed before it; those stay routed.
func (b *Balancer[T]) RouteMany(ts []T) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return 0, ErrClosed
	}
	for i, t := range ts {
		if _, err := b.routeLocked(t); err != nil {
			return i, err
		}
	}
	return len(ts), nil
}

// RouteTo sends t to a specific shard, bypassing the least-loaded choice.
func (b *Balancer[T]) RouteTo(shard int, t T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if shard < 0 || shard >= len(b.counts) {
		return fmt.Errorf("route to shard %d: out of range [0,%d)", shard, len(b.counts))
	}
	if b.stopped {
		return ErrClosed
	}
	return b.assignLocked(shard, t, "directed")
}

func (b *Balancer[T]) routeLocked(t T) (int, error) {
	target := leastLoaded(b.counts, b.available)
	if target < 0 {
		return -1, fmt.Errorf("%w: every shard is closed", ErrShardUnavailable)
	}
	reason := fmt.Sprintf("least-loaded (count=%d)", b.counts[target])
	if err := b.assignLocked(target, t, reason); err != nil {
		return target, err
	}
	return target, nil
}

func (b *Balancer[T]) assignLocked(shard int, t T, reason string) error {
	if !b.inboxes[shard].push(t) {
		return &ShardUnavailableError{Shard: shard}
	}
	b.counts[shard]++
	b.routed++
	if b.trace != nil && b.trace.Config.Level.TracesDecisions() {
		b.trace.RecordRouting(trace.RoutingRecord{
			Seq:         b.routed,
			ChosenShard: shard,
			Reason:      reason,
			Counts:      slices.Clone(b.counts),
		})
	}
	return nil
}

// Release decrements shard's count by n after killed entities have been
// removed. Counts never go below zero.
func (b *Balancer[T]) Release(shard, n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[shard] = max(b.counts[shard]-n, 0)
}

// Counts returns a copy of the per-shard count table.
func (b *Balancer[T]) Counts() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.counts)
}

// available returns true if shard still accepts templates.
func (b *Balancer[T]) available(shard int) bool {
	return !b.inboxes[shard].isClosed()
}

func (b *Balancer[T]) inboxFor(shard int) *inbox[T] {
	return b.inboxes[shard]
}

// stop makes every later routing call fail with ErrClosed. Templates routed
// before stop returns are accepted; whether they are constructed depends on
// their shard ticking once more, which shutdown does not wait for.
func (b *Balancer[T]) stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

// closeShard stops a shard from accepting templates. Its queued templates
// are discarded and its count drops to zero: nothing on it counts as load
// any more.
func (b *Balancer[T]) closeShard(shard int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboxes[shard].close()
	b.counts[shard] = 0
}

// leastLoaded returns the index of the minimum count among shards accepted
// by open, or -1 if open rejects them all.
// Ties: lowest index wins because the scan uses strict < from 0..N-1.
func leastLoaded(counts []int, open func(int) bool) int {
	target := -1
	for i := range counts {
		if !open(i) {
			continue
		}
		if target < 0 || counts[i] < counts[target] {
			target = i
		}
	}
	return target
}
