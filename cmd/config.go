package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lamesim/lame/sim"
)

// resolveConfig layers world configuration in increasing precedence:
// defaults, --config file, LAME_* environment, then explicitly set flags.
func resolveConfig(cmd *cobra.Command) (sim.Config, error) {
	cfg := sim.DefaultConfig()
	if configPath != "" {
		loaded, err := sim.LoadConfig(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := sim.ApplyEnv(&cfg); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("shards") {
		cfg.Shards = shards
	}
	if flags.Changed("outbound-capacity") {
		cfg.OutboundCapacity = outboundCapacity
	}
	if flags.Changed("trace") {
		cfg.TraceLevel = traceLevel
	}
	return cfg, cfg.Validate()
}
