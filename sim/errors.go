package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrShardUnavailable is returned when a template is routed to a shard
	// whose inbound queue has been closed. Callers may retry on another
	// shard with World.AddEntityTo or drop the template.
	ErrShardUnavailable = errors.New("shard unavailable")

	// ErrConsumerGone means a sealed frame could not be handed to a consumer
	// because the world was closed. It stops the whole scheduler.
	ErrConsumerGone = errors.New("frame consumer gone")

	// ErrDoubleReport is returned by Frame.Report when a shard reports twice
	// into the same frame. The duplicate is ignored.
	ErrDoubleReport = errors.New("shard already reported for this frame")

	// ErrClosed is returned by blocking calls on a closed world.
	ErrClosed = errors.New("world closed")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// ShardUnavailableError names the shard a routing attempt failed on.
type ShardUnavailableError struct {
	Shard int
}

func (e *ShardUnavailableError) Error() string {
	return fmt.Sprintf("shard %d: %v", e.Shard, ErrShardUnavailable)
}

// Is reports whether target is ErrShardUnavailable.
func (e *ShardUnavailableError) Is(target error) bool {
	return target == ErrShardUnavailable
}

// ShardFailure is reported by World.Close for a shard loop that was
// terminated by a panic in entity or constructor code.
type ShardFailure struct {
	Shard int
	Cause any
}

func (e *ShardFailure) Error() string {
	return fmt.Sprintf("shard %d failed: %v", e.Shard, e.Cause)
}
