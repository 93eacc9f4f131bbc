package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oceanbase/localmem-go/pkg/core"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Store a memory",
		Long:  "Store a memory. Text can be positional arguments or piped via stdin.",
		RunE:  runAdd,
	}

	cmd.Flags().StringP("category", "C", core.DefaultCategory, "Category")
	cmd.Flags().Bool("force", false, "Skip the duplicate checks")
	cmd.Flags().StringToString("meta", nil, "Extra metadata as key=value pairs")

	rootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	category, _ := cmd.Flags().GetString("category")
	force, _ := cmd.Flags().GetBool("force")
	meta, _ := cmd.Flags().GetStringToString("meta")

	text, err := textArg(args)
	if err != nil {
		return err
	}

	opts := []core.AddOption{core.WithCategory(category), core.WithExtra(meta)}
	if force {
		opts = append(opts, core.WithPolicy(core.Forced))
	}

	return withEngine(cmd.Context(), func(engine *core.Engine) error {
		result, err := engine.Add(cmd.Context(), text, opts...)
		if err != nil {
			return err
		}
		return printJSON(result)
	})
}

// textArg joins args, or reads stdin when no args are given and stdin is not a terminal.
func textArg(args []string) (string, error) {
	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		text = string(b)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text is required (positional arg or stdin)")
	}
	return text, nil
}
