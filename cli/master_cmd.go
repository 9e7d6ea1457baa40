package cli

import (
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/mpilaunch/allocator/local"
	"github.com/twitter/mpilaunch/common/endpoints"
	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/orchestrator"
	"github.com/twitter/mpilaunch/os/temp"
	osexec "github.com/twitter/mpilaunch/runner/execer/os"
	"github.com/twitter/mpilaunch/topology"
)

type masterCmd struct {
	httpAddr string
}

func (c *masterCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "master",
		Short: "run a job's master, reading its config from " + topology.ConfEnvVar,
		Args:  cobra.NoArgs,
	}
	r.Flags().StringVar(&c.httpAddr, "http_addr", "", "serve /health and /admin/metrics.json on this address")
	return r
}

// Roster is the configured roster file, or one host per daemon with --ppn slots each.
func Roster(cfg *topology.Config) (*local.Roster, error) {
	if cfg.Cluster != "" {
		return local.LoadRoster(cfg.Cluster)
	}
	return local.DefaultRoster(cfg.NumDaemons(), cfg.ProcessesPerNode), nil
}

func (c *masterCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	cfg, err := topology.Decode(os.Getenv(topology.ConfEnvVar))
	if err != nil {
		return errs.NewConfigError("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Debugf("Master config %s", spew.Sdump(cfg))

	stat := endpoints.MakeStatsReceiver("mpilaunch")
	if c.httpAddr != "" {
		server := endpoints.NewTwitterServer(c.httpAddr, stat)
		go func() {
			if err := server.Serve(); err != nil {
				log.WithError(err).Error("Admin server stopped")
			}
		}()
	}

	fs, err := OpenFileSystem(cfg.FileSystem)
	if err != nil {
		return errs.NewError(err, errs.IOExitCode)
	}
	roster, err := Roster(cfg)
	if err != nil {
		return err
	}
	tmp, err := temp.TempDirDefault()
	if err != nil {
		return errs.NewError(errors.Wrap(err, "creating work dir"), errs.IOExitCode)
	}
	defer tmp.Cleanup()
	slots, err := tmp.FixedDir("slots")
	if err != nil {
		return errs.NewError(err, errs.IOExitCode)
	}

	ex := osexec.NewExecer()
	cluster, err := local.NewCluster(local.Config{Roster: roster, FS: fs, Execer: ex, WorkDir: slots})
	if err != nil {
		return err
	}
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Warn("Unknown hostname, not excluding it from placement")
	}

	ctx, stop := signalContext()
	defer stop()
	m := orchestrator.NewMaster(cfg, orchestrator.Deps{
		Allocator: cluster,
		Agent:     cluster,
		FS:        fs,
		Execer:    ex,
		WorkDir:   tmp,
		Stat:      stat,
		Hostname:  hostname,
	})
	res, err := m.Run(ctx)
	log.WithFields(log.Fields{"success": res.Success, "completed": res.Completed, "failed": res.Failed}).Info("Master done")
	return err
}
