package logger

import (
	"io"

	"go.uber.org/zap"
)

// BuildWithConsole exposes build with a custom console writer to tests.
func BuildWithConsole(cfg *Config, console io.Writer) (*zap.Logger, error) {
	return build(cfg, console)
}
