package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalRoutings      int
	UniqueTargets      int
	TargetDistribution map[int]int // shard → count of templates routed
	TotalFrames        int
	TotalCapsules      int
	MeanCapsules       float64 // per frame
	MaxCapsules        int
	LayerDistribution  map[uint8]int // layer → capsules across all frames
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		TargetDistribution: make(map[int]int),
		LayerDistribution:  make(map[uint8]int),
	}
	if st == nil {
		return summary
	}

	routings := st.Routings()
	summary.TotalRoutings = len(routings)
	for _, r := range routings {
		summary.TargetDistribution[r.ChosenShard]++
	}
	summary.UniqueTargets = len(summary.TargetDistribution)

	frames := st.Frames()
	summary.TotalFrames = len(frames)
	for _, f := range frames {
		summary.TotalCapsules += f.Capsules
		if f.Capsules > summary.MaxCapsules {
			summary.MaxCapsules = f.Capsules
		}
		for layer, n := range f.Layers {
			summary.LayerDistribution[layer] += n
		}
	}
	if len(frames) > 0 {
		summary.MeanCapsules = float64(summary.TotalCapsules) / float64(len(frames))
	}

	return summary
}
