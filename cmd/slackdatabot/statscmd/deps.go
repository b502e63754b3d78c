package statscmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/slackdatabot/config"
)

type Dependencies struct {
	ConfigFromViper func() (config.Config, error)
}

var deps Dependencies

func NewCommand(d Dependencies) *cobra.Command {
	deps = d
	return newStatsCmd()
}

func configFromViper() (config.Config, error) {
	if deps.ConfigFromViper == nil {
		return config.Config{}, fmt.Errorf("ConfigFromViper dependency missing")
	}
	return deps.ConfigFromViper()
}
