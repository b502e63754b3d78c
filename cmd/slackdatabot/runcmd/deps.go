package runcmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/slackdatabot/config"
)

type Dependencies struct {
	LoggerFromViper func() (*slog.Logger, error)
	ConfigFromViper func() (config.Config, error)
}

var deps Dependencies

func NewCommand(d Dependencies) *cobra.Command {
	deps = d
	return newRunCmd()
}

func loggerFromViper() (*slog.Logger, error) {
	if deps.LoggerFromViper == nil {
		return nil, fmt.Errorf("LoggerFromViper dependency missing")
	}
	return deps.LoggerFromViper()
}

func configFromViper() (config.Config, error) {
	if deps.ConfigFromViper == nil {
		return config.Config{}, fmt.Errorf("ConfigFromViper dependency missing")
	}
	return deps.ConfigFromViper()
}
