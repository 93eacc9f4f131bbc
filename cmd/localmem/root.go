package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oceanbase/localmem-go/pkg/core"
	"github.com/oceanbase/localmem-go/pkg/logger"
)

var (
	workspaceFlag string
	sharedFlag    bool
	agentFlag     string
	configFlag    string
	envFileFlag   string
	logLevelFlag  string
)

var rootCmd = &cobra.Command{
	Use:           "localmem",
	Short:         "Workspace-scoped semantic memory",
	Long:          "Store short facts and retrieve them with hybrid vector and keyword search. Output is JSON.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&workspaceFlag, "workspace", "w", "", "Workspace directory (default: auto-detect)")
	flags.BoolVar(&sharedFlag, "shared", false, "Use the shared workspace")
	flags.StringVar(&agentFlag, "agent", "", "Agent ID (default: auto-detect)")
	flags.StringVarP(&configFlag, "config", "c", "", "JSON configuration file")
	flags.StringVar(&envFileFlag, "env-file", "", "Load configuration from this .env file")
	flags.StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig builds the configuration from the --config or --env-file flags, falling
// back to the environment, then applies the workspace flags.
func loadConfig() (*core.Config, error) {
	var (
		config *core.Config
		err    error
	)
	switch {
	case configFlag != "":
		config, err = core.LoadConfigFromJSON(configFlag)
	case envFileFlag != "":
		config, err = core.LoadConfigFromEnvFile(envFileFlag)
	default:
		config, err = core.LoadConfigFromEnv()
	}
	if err != nil {
		return nil, err
	}

	if workspaceFlag != "" {
		config.Workspace = workspaceFlag
	}
	if sharedFlag {
		config.Shared = true
	}
	if agentFlag != "" {
		config.AgentID = agentFlag
	}
	if logLevelFlag != "" {
		config.Log.Level = logger.Level(logLevelFlag)
	}
	return config, nil
}

// withEngine opens the engine, runs fn and closes the engine.
func withEngine(ctx context.Context, fn func(*core.Engine) error) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(&config.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	engine, err := core.Open(ctx, config, core.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()

	return fn(engine)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(b))
	return err
}
