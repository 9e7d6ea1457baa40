package cli

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/twitter/mpilaunch/monitor"
)

type tailCmd struct {
	fs       string
	follow   bool
	interval time.Duration
}

func (c *tailCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "tail <path>",
		Short: "print a job's output file from the durable filesystem",
		Args:  cobra.ExactArgs(1),
	}
	r.Flags().StringVar(&c.fs, "fs", "", "durable filesystem, a serve_dfs URL or a local directory")
	r.Flags().BoolVarP(&c.follow, "follow", "f", false, "keep printing appended output until interrupted")
	r.Flags().DurationVar(&c.interval, "interval", monitor.DefaultInterval, "poll interval with --follow")
	return r
}

func (c *tailCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	fs, err := OpenFileSystem(c.fs)
	if err != nil {
		return err
	}
	tailer := monitor.NewTailer(fs, args[0], os.Stdout, c.interval)
	if !c.follow {
		return tailer.Drain()
	}
	ctx, stop := signalContext()
	defer stop()
	return tailer.Follow(ctx)
}
