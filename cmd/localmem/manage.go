package main

import (
	"github.com/spf13/cobra"

	"github.com/oceanbase/localmem-go/pkg/core"
)

func init() {
	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(engine *core.Engine) error {
				record, err := engine.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(record)
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(engine *core.Engine) error {
				if err := engine.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				return printJSON(map[string]string{"deleted": args[0]})
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <category>",
		Short: "Delete every memory in a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(engine *core.Engine) error {
				n, err := engine.ClearCategory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]interface{}{"category": args[0], "deleted": n})
			})
		},
	}

	pinCmd := &cobra.Command{
		Use:   "pin <id>",
		Short: "Protect a memory from decay",
		Args:  cobra.ExactArgs(1),
		RunE:  runPin,
	}
	pinCmd.Flags().Bool("unpin", false, "Clear the pin instead")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), func(engine *core.Engine) error {
				stats, err := engine.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(stats)
			})
		},
	}

	rootCmd.AddCommand(getCmd, deleteCmd, clearCmd, pinCmd, statsCmd)
}

func runPin(cmd *cobra.Command, args []string) error {
	unpin, _ := cmd.Flags().GetBool("unpin")

	return withEngine(cmd.Context(), func(engine *core.Engine) error {
		if err := engine.Pin(cmd.Context(), args[0], !unpin); err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"id": args[0], "pinned": !unpin})
	})
}
