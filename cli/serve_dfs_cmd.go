package cli

import (
	"github.com/spf13/cobra"

	"github.com/twitter/mpilaunch/common/endpoints"
	"github.com/twitter/mpilaunch/dfs/httpfs"
	dfslocal "github.com/twitter/mpilaunch/dfs/local"
)

type serveDFSCmd struct {
	addr string
	root string
}

func (c *serveDFSCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "serve_dfs",
		Short: "serve a local directory as a durable filesystem over HTTP",
		Args:  cobra.NoArgs,
	}
	r.Flags().StringVar(&c.addr, "addr", "localhost:9094", "address to listen on")
	r.Flags().StringVar(&c.root, "root", DefaultFileSystemRoot(), "directory to serve")
	return r
}

func (c *serveDFSCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	fs, err := dfslocal.New(c.root)
	if err != nil {
		return err
	}
	stat := endpoints.MakeStatsReceiver("dfs")
	server := endpoints.NewTwitterServer(c.addr, stat)
	server.Handle(httpfs.Prefix, httpfs.MakeServer(fs, stat))
	return server.Serve()
}
