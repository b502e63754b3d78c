// Package configutil resolves settings that can come from a cobra flag or a
// viper key. An explicitly set flag wins; otherwise the viper value is used.
package configutil

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

func FlagOrViperString(cmd *cobra.Command, flagName, key string) string {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetString(flagName)
		return v
	}
	if key == "" {
		if cmd != nil {
			v, _ := cmd.Flags().GetString(flagName)
			return v
		}
		return ""
	}
	return viper.GetString(key)
}

func FlagOrViperBool(cmd *cobra.Command, flagName, key string) bool {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetBool(flagName)
		return v
	}
	if key == "" {
		if cmd != nil {
			v, _ := cmd.Flags().GetBool(flagName)
			return v
		}
		return false
	}
	return viper.GetBool(key)
}

func FlagOrViperInt(cmd *cobra.Command, flagName, key string) int {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetInt(flagName)
		return v
	}
	if key == "" {
		if cmd != nil {
			v, _ := cmd.Flags().GetInt(flagName)
			return v
		}
		return 0
	}
	return viper.GetInt(key)
}

func FlagOrViperDuration(cmd *cobra.Command, flagName, key string) time.Duration {
	if flagChanged(cmd, flagName) {
		v, _ := cmd.Flags().GetDuration(flagName)
		return v
	}
	if key == "" {
		if cmd != nil {
			v, _ := cmd.Flags().GetDuration(flagName)
			return v
		}
		return 0
	}
	return viper.GetDuration(key)
}
