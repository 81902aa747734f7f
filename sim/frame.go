package sim

import (
	"fmt"
	"sync"
)

// Frame collects the output of one tick across all shards.
//
// A Frame is created collecting, accepts exactly one report per shard, and
// becomes sealed the instant the last shard reports. After sealing it is
// never written again and is handed off whole to the consumer.
//
// Thread-safety: Report may be called concurrently from every shard.
// Read accessors are meant for sealed frames.
type Frame[O any] struct {
	shards int

	mu        sync.Mutex
	reported  []bool         // identity set, indexed by shard
	reporters int            // number of true entries in reported
	drawings  [][]Capsule[O] // per-shard capsules, indexed by shard

	seq      uint64        // assigned at hand-off
	released chan struct{} // closed once the successor frame is installed
}

// NewFrame creates an empty frame expecting one report from each of shards.
func NewFrame[O any](shards int) *Frame[O] {
	return &Frame[O]{
		shards:   shards,
		reported: make([]bool, shards),
		drawings: make([][]Capsule[O], shards),
		released: make(chan struct{}),
	}
}

// Report records shard's capsules for this frame and returns true if this
// report sealed it. A second report from the same shard leaves the frame
// untouched and returns ErrDoubleReport.
func (f *Frame[O]) Report(shard int, capsules []Capsule[O]) (bool, error) {
	if shard < 0 || shard >= f.shards {
		return false, fmt.Errorf("report from shard %d: out of range [0,%d)", shard, f.shards)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.reported[shard] {
		return false, ErrDoubleReport
	}
	f.reported[shard] = true
	f.reporters++
	f.drawings[shard] = capsules
	return f.reporters == f.shards, nil
}

// Sealed returns true once every shard has reported.
func (f *Frame[O]) Sealed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reporters == f.shards
}

// Reporters returns the number of distinct shards that have reported.
func (f *Frame[O]) Reporters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reporters
}

// Seq returns the frame's position in the sealed sequence, starting at 1.
// Zero means the frame has not been handed off.
func (f *Frame[O]) Seq() uint64 {
	return f.seq
}

// Capsules returns all capsules sorted by layer. Capsules on the same layer
// keep shard order, then per-shard emission order.
func (f *Frame[O]) Capsules() []Capsule[O] {
	f.mu.Lock()
	n := 0
	for _, d := range f.drawings {
		n += len(d)
	}
	out := make([]Capsule[O], 0, n)
	for _, d := range f.drawings {
		out = append(out, d...)
	}
	f.mu.Unlock()

	SortCapsules(out)
	return out
}

// ShardCapsules returns how many capsules each shard contributed.
func (f *Frame[O]) ShardCapsules() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make([]int, f.shards)
	for i, d := range f.drawings {
		counts[i] = len(d)
	}
	return counts
}

// Collapse flattens the frame into outputs ordered by ascending layer.
func (f *Frame[O]) Collapse() []O {
	capsules := f.Capsules()
	out := make([]O, len(capsules))
	for i, c := range capsules {
		out[i] = c.Output
	}
	return out
}

// release wakes shards waiting for this frame to be replaced.
// Called exactly once, by the shard that sealed the frame.
func (f *Frame[O]) release() {
	close(f.released)
}
