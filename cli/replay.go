package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdginn/antidrift/devices"
	"github.com/jdginn/antidrift/logging"
	"github.com/jdginn/antidrift/pose"
)

func newReplayCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <script.yaml>",
		Short: "Publish a recorded pose script as tracker OSC",
		Long: `Reads a YAML script of pose landmark frames and publishes the derived hip, chest and foot trackers
to the target address, one frame per delay. Point it at the relay's listen address to exercise the relay
without a camera.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := v.GetString("replay.target")
			if target == "" {
				target = v.GetString("listen")
			}
			client, err := devices.NewOscClient(target)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := pose.NewRunner(pose.ReplayOpener(args[0]), pose.NewPublisher(client))
			if err := runner.Start(ctx); err != nil {
				return err
			}
			logging.Get(logging.APP).Info("Replaying pose script", "script", args[0], "target", target)
			return runner.Wait()
		},
	}

	cmd.Flags().String("target", "", "UDP address to publish to (defaults to the relay listen address)")
	bindFlags(v, cmd.Flags(), map[string]string{
		"replay.target": "target",
	})
	return cmd
}
