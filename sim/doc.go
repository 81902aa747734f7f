// Package sim provides the sharded frame scheduler for lame.
//
// # Reading Guide
//
// Start with these files to understand the scheduler:
//   - entity.go: the Entity capability, Action values and the Handle entities see
//   - world.go: World construction, entity routing, frame consumption and shutdown
//   - shard.go: the per-shard loop (drain → tick → report)
//   - frame.go: the frame barrier that seals once every shard has reported
//
// # Architecture
//
// A World owns a fixed pool of shards. New templates are routed by the
// Balancer (balancer.go) to the shard with the fewest assigned entities and
// queued in that shard's inbox (inbox.go). Each shard loop independently:
//  1. drains its inbox, constructing entities with the shared resource
//  2. updates every live entity once, collecting Capsules (capsule.go)
//  3. reports the capsules into the current Frame
//
// The shard whose report completes the frame installs a fresh frame and
// pushes the sealed one to the outbound channel read by World.Draws. Shards
// that reported earlier wait for that hand-off before ticking again.
//
// Decision and frame tracing lives in sim/trace and is enabled through
// Config.TraceLevel.
package sim
