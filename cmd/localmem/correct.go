package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/oceanbase/localmem-go/pkg/core"
)

func init() {
	correctCmd := &cobra.Command{
		Use:   "correct <id> <corrected text>",
		Short: "Retract a memory and store its correction",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runCorrect,
	}
	correctCmd.Flags().StringP("reason", "r", "", "Why the memory was wrong")

	lessonCmd := &cobra.Command{
		Use:   "lesson [text]",
		Short: "Record a lesson learned",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLesson,
	}
	lessonCmd.Flags().StringP("mistake", "m", "", "The mistake that taught the lesson")
	lessonCmd.Flags().StringP("category", "C", core.LessonCategory, "Category")

	rootCmd.AddCommand(correctCmd, lessonCmd)
}

func runCorrect(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")

	return withEngine(cmd.Context(), func(engine *core.Engine) error {
		id, err := engine.Correct(cmd.Context(), args[0], strings.Join(args[1:], " "), reason)
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"id": id, "corrects_id": args[0]})
	})
}

func runLesson(cmd *cobra.Command, args []string) error {
	mistake, _ := cmd.Flags().GetString("mistake")
	category, _ := cmd.Flags().GetString("category")

	return withEngine(cmd.Context(), func(engine *core.Engine) error {
		id, err := engine.Lesson(cmd.Context(), strings.Join(args, " "), mistake, category)
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"id": id})
	})
}
