// Package trace provides decision and frame recording for the shard scheduler.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// RoutingRecord captures a single template routing decision.
type RoutingRecord struct {
	Seq         uint64 // 1-based position among successfully routed templates
	ChosenShard int
	Reason      string
	Counts      []int // per-shard count table right after the decision
}

// FrameRecord captures one sealed frame.
type FrameRecord struct {
	Seq      uint64
	Capsules int   // total capsules across shards
	PerShard []int // capsules contributed by each shard
	Layers   map[uint8]int
}
