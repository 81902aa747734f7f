package sim

import (
	"cmp"
	"slices"
)

// Capsule pairs an entity's per-tick output with the layer it is drawn on.
// Lower layers are drawn first. Capsules compare by layer only; two capsules
// on the same layer are unordered relative to each other.
type Capsule[O any] struct {
	Layer  uint8
	Output O
}

// CompareCapsules orders capsules by layer, ignoring output.
func CompareCapsules[O any](a, b Capsule[O]) int {
	return cmp.Compare(a.Layer, b.Layer)
}

// SortCapsules sorts capsules by ascending layer. The sort is stable, so
// capsules on the same layer keep their emission order.
func SortCapsules[O any](capsules []Capsule[O]) {
	slices.SortStableFunc(capsules, CompareCapsules[O])
}
