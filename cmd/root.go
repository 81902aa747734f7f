package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lamesim/lame/sim"
	"github.com/lamesim/lame/sim/trace"
)

var (
	// CLI flags for the world
	configPath       string // YAML config file (optional)
	shards           int    // Worker shards
	outboundCapacity int    // Sealed frames buffered before shards block
	traceLevel       string // Trace verbosity
	logLevel         string // Log verbosity level

	// CLI flags for the demo workload
	numEntities   int     // Initial orbiters
	numFrames     int     // Frames to pull before shutting down
	lifetime      int     // Orbiter lifetime in ticks
	maxGeneration int     // Spawn depth
	arenaSize     float64 // Arena width and height
	seed          int64   // Seed for orbiter placement
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "lame",
	Short: "Sharded frame scheduler for independently ticking entities",
}

// runCmd runs the orbiter demo using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orbiter demo world",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		if numFrames < 1 {
			logrus.Fatalf("--frames must be >= 1, got %d", numFrames)
		}

		logrus.Infof("Starting world with %d shards, %d orbiters, outbound capacity %d",
			cfg.Shards, numEntities, cfg.OutboundCapacity)

		arena := Arena{Width: arenaSize, Height: arenaSize, MaxGeneration: maxGeneration}
		report, err := runDemo(context.Background(), cfg, arena, demoTemplates(numEntities, lifetime, arena, seed), numFrames)
		if err != nil {
			logrus.Fatalf("Demo failed: %v", err)
		}
		report.Print(cmd.OutOrStdout())

		logrus.Info("Demo complete.")
	},
}

// DemoReport summarizes a demo run.
type DemoReport struct {
	Frames   int
	Sprites  int
	PerLayer map[uint8]int
	Elapsed  time.Duration
	Trace    *trace.TraceSummary // nil when tracing is off
}

// runDemo builds a world from specs, pulls the requested number of collated
// frames and closes it.
func runDemo(ctx context.Context, cfg sim.Config, arena Arena, specs []OrbiterSpec, frames int) (*DemoReport, error) {
	start := time.Now()
	w, err := sim.New[Arena, OrbiterSpec, Sprite](cfg, arena, NewOrbiter, specs)
	if err != nil {
		return nil, err
	}

	report := &DemoReport{PerLayer: make(map[uint8]int)}
	for i := 0; i < frames; i++ {
		sprites, err := w.Draws(ctx)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("frame %d: %w", i+1, err)
		}
		for _, s := range sprites {
			report.PerLayer[s.Layer]++
		}
		report.Frames++
		report.Sprites += len(sprites)
		logrus.Debugf("frame %d: %d sprites, counts=%v", i+1, len(sprites), w.Counts())
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(start)
	if st := w.Trace(); st != nil {
		report.Trace = trace.Summarize(st)
	}
	return report, nil
}

// Print writes the report in a stable, human-readable layout.
func (r *DemoReport) Print(out io.Writer) {
	fmt.Fprintf(out, "=== Demo Report ===\n")
	fmt.Fprintf(out, "frames:  %d\n", r.Frames)
	fmt.Fprintf(out, "sprites: %d\n", r.Sprites)
	fmt.Fprintf(out, "elapsed: %v\n", r.Elapsed.Round(time.Millisecond))

	layers := make([]int, 0, len(r.PerLayer))
	for l := range r.PerLayer {
		layers = append(layers, int(l))
	}
	sort.Ints(layers)
	for _, l := range layers {
		fmt.Fprintf(out, "  layer %d: %d\n", l, r.PerLayer[uint8(l)])
	}

	if r.Trace != nil {
		fmt.Fprintf(out, "routed templates: %d across %d shards\n", r.Trace.TotalRoutings, r.Trace.UniqueTargets)
		if r.Trace.TotalFrames > 0 {
			fmt.Fprintf(out, "traced frames: %d (mean %.1f capsules, max %d)\n",
				r.Trace.TotalFrames, r.Trace.MeanCapsules, r.Trace.MaxCapsules)
		}
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	defaults := sim.DefaultConfig()

	runCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML world config")
	runCmd.Flags().IntVar(&shards, "shards", defaults.Shards, "Number of worker shards")
	runCmd.Flags().IntVar(&outboundCapacity, "outbound-capacity", defaults.OutboundCapacity, "Sealed frames buffered before shards block")
	runCmd.Flags().StringVar(&traceLevel, "trace", defaults.TraceLevel, "Trace level (none, decisions, frames)")
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	// Demo workload
	runCmd.Flags().IntVar(&numEntities, "entities", 64, "Initial orbiters")
	runCmd.Flags().IntVar(&numFrames, "frames", 100, "Frames to pull before shutting down")
	runCmd.Flags().IntVar(&lifetime, "lifetime", 50, "Orbiter lifetime in ticks")
	runCmd.Flags().IntVar(&maxGeneration, "max-generation", 2, "Generations of children an orbiter line may spawn")
	runCmd.Flags().Float64Var(&arenaSize, "arena", 100, "Arena width and height")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for orbiter placement")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
