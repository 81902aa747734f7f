package sim

import "fmt"

// ActionKind identifies what an entity decided to do with one tick.
type ActionKind int

const (
	// ActionWait keeps the entity alive without output this tick.
	ActionWait ActionKind = iota
	// ActionDraw keeps the entity alive and emits output on a layer.
	ActionDraw
	// ActionKill removes the entity from its shard after the tick.
	ActionKill
)

// String returns the lowercase action name used in logs.
func (k ActionKind) String() string {
	switch k {
	case ActionWait:
		return "wait"
	case ActionDraw:
		return "draw"
	case ActionKill:
		return "kill"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// Action is the result of one Entity.Update call.
// Layer and Output are only meaningful when Kind is ActionDraw.
type Action[O any] struct {
	Kind   ActionKind
	Layer  uint8
	Output O
}

// Draw returns an action emitting out on the given layer.
func Draw[O any](layer uint8, out O) Action[O] {
	return Action[O]{Kind: ActionDraw, Layer: layer, Output: out}
}

// Wait returns an action that keeps the entity alive with no output.
func Wait[O any]() Action[O] {
	return Action[O]{Kind: ActionWait}
}

// Kill returns an action that terminates the entity.
func Kill[O any]() Action[O] {
	return Action[O]{Kind: ActionKill}
}

// Handle is the view of the world available to entity code and embedders.
// Templates added through a Handle are constructed at the start of the
// owning shard's next tick, never during the current one.
//
// AddEntities returns how many leading templates were accepted; on error
// the rest were not.
type Handle[S, T any] interface {
	AddEntity(template T) error
	AddEntities(templates []T) (int, error)
	Shared() S
}

// Entity is a unit of simulated state owned by exactly one shard.
// Update is called once per tick on the owning shard's goroutine with the
// wall-clock seconds elapsed since that shard's previous tick.
type Entity[S, T, O any] interface {
	Update(h Handle[S, T], delta float64) Action[O]
}

// Constructor builds a live entity from a template and the shared resource.
// It runs on the goroutine of the shard that received the template.
type Constructor[S, T, O any] func(template T, shared S) Entity[S, T, O]
