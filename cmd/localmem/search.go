package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/oceanbase/localmem-go/pkg/core"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories",
		Long:  "Search memories by meaning and keywords. Retracted memories are hidden unless --include-retracted is set.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().IntP("limit", "l", 5, "Max results")
	cmd.Flags().StringP("category", "C", "", "Filter by category")
	cmd.Flags().Bool("include-retracted", false, "Include retracted memories, flagged")
	cmd.Flags().Bool("rerank", false, "Refine the top results with the configured LLM")
	cmd.Flags().Int("rerank-top", 0, "How many results to rerank (default: policy)")

	rootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	category, _ := cmd.Flags().GetString("category")
	includeRetracted, _ := cmd.Flags().GetBool("include-retracted")
	rerank, _ := cmd.Flags().GetBool("rerank")
	rerankTop, _ := cmd.Flags().GetInt("rerank-top")

	return withEngine(cmd.Context(), func(engine *core.Engine) error {
		resp, err := engine.Search(cmd.Context(), strings.Join(args, " "),
			core.WithLimit(limit),
			core.WithSearchCategory(category),
			core.WithIncludeRetracted(includeRetracted),
			core.WithRerank(rerank),
			core.WithRerankTopN(rerankTop),
		)
		if err != nil {
			return err
		}
		return printJSON(resp)
	})
}
