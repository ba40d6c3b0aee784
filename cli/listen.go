package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdginn/antidrift/devices"
)

func newListenCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print incoming OSC messages and how the relay would route them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			l := devices.NewOscListener(v.GetString("listen"), devices.NewDumpDispatcher(cmd.OutOrStdout()))
			return l.Run(ctx)
		},
	}

	cmd.Flags().String("listen", DefaultListenAddr, "UDP address to listen on")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		bindFlags(v, cmd.Flags(), map[string]string{
			"listen": "listen",
		})
	}
	return cmd
}
