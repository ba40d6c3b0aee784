// Package cli holds the antidrift commands.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// newRootCmd builds the command tree around one config store so tests can run commands in isolation.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "antidrift",
		Short: "Anti-drift OSC relay for full-body tracking",
		Long: `antidrift sits between a pose or tracker source and a full-body tracking host. It listens for
/tracker/<id> OSC messages, suppresses sudden position jumps once calibrated, and forwards the result.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfigFile(v, configPath); err != nil {
				return err
			}
			return configureLogging(v)
		},
	}

	pFlags := rootCmd.PersistentFlags()
	pFlags.StringVar(&configPath, "config", "", "YAML config file")
	pFlags.String("log-format", "text", "log format: text or json")
	pFlags.String("log-level", "", "log level for every category (debug, info, warn, error)")
	bindFlags(v, pFlags, map[string]string{
		"log.format": "log-format",
		"log.level":  "log-level",
	})

	rootCmd.AddCommand(newRelayCmd(v), newReplayCmd(v), newListenCmd(v))
	return rootCmd
}

// bindFlags binds config keys to flags so that a flag, when set, wins over file and environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// Execute runs the command named on the command line. Cobra has already printed any error it returns.
func Execute() error {
	return newRootCmd(newViper()).Execute()
}
