package main

import (
	"github.com/spf13/cobra"

	"github.com/oceanbase/localmem-go/pkg/core"
)

func init() {
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Decay stale memories",
		Long:  "Lower the confidence of memories not accessed recently and delete those below the threshold. Pinned memories are never changed.",
		Args:  cobra.NoArgs,
		RunE:  runDecay,
	}

	policy := core.DefaultPolicy()
	cmd.Flags().Bool("dry-run", false, "Report without changing anything")
	cmd.Flags().Float64("threshold", policy.DecayThreshold, "Delete memories whose confidence falls below this")
	cmd.Flags().Int("age-days", policy.DecayAgeDays, "Days without access before a memory decays")

	rootCmd.AddCommand(cmd)
}

func runDecay(cmd *cobra.Command, _ []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	ageDays, _ := cmd.Flags().GetInt("age-days")

	opts := []core.DecayOption{core.WithDryRun(dryRun)}
	if cmd.Flags().Changed("threshold") {
		opts = append(opts, core.WithThreshold(threshold))
	}
	if cmd.Flags().Changed("age-days") {
		opts = append(opts, core.WithAgeDays(ageDays))
	}

	return withEngine(cmd.Context(), func(engine *core.Engine) error {
		report, err := engine.Decay(cmd.Context(), opts...)
		if err != nil {
			return err
		}
		return printJSON(report)
	})
}
