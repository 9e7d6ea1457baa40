package cli

import (
	"os"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twitter/mpilaunch/client"
	osexec "github.com/twitter/mpilaunch/runner/execer/os"
	"github.com/twitter/mpilaunch/topology"
)

type submitCmd struct {
	cfg *topology.Config

	launcher   string
	args       string
	envList    string
	sharedList string
	sf         string
}

func newSubmitCmd() *submitCmd {
	return &submitCmd{cfg: topology.DefaultConfig()}
}

func (c *submitCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "submit",
		Short: "stage and run an MPI job, streaming its output",
		Args:  cobra.NoArgs,
	}
	cfg := c.cfg
	f := r.Flags()
	f.StringVarP(&cfg.Executable, "executable", "a", "", "MPI application to run")
	f.StringVar(&c.args, "args", "", "arguments to the application, whitespace separated")
	f.StringVarP(&cfg.Prefix, "prefix", "p", "", "durable filesystem directory to stage files and write output under")
	f.StringVar(&cfg.LauncherPrefix, "launcher_prefix", "", "directory holding the MPI launcher binaries")
	f.StringVar(&c.launcher, "launcher", string(topology.Hydra), "launcher protocol (hydra|orte)")
	f.IntVarP(&cfg.NumProcesses, "num_processes", "n", 0, "number of processes, any number per host")
	f.IntVarP(&cfg.NumNodes, "num_nodes", "N", 0, "number of hosts, --ppn processes on each")
	f.IntVar(&cfg.ProcessesPerNode, "ppn", cfg.ProcessesPerNode, "processes per node")
	f.StringVarP(&cfg.Output, "output", "o", "", "output path in the durable filesystem, synthesized under --prefix if empty")
	f.StringVar(&c.envList, "envlist", "", "comma separated NAME or NAME=VALUE entries passed to every process")
	f.StringVar(&c.sharedList, "sharedlist", "", "comma separated shared objects localized next to the application")
	f.StringVar(&c.sf, "sf", "", "comma separated local:remote supplementary files")
	f.IntVarP(&cfg.Resource.MemoryMB, "memory", "m", cfg.Resource.MemoryMB, "memory per slot in MB")
	f.IntVar(&cfg.Resource.VCores, "vcores", cfg.Resource.VCores, "virtual cores per slot")
	f.IntVar(&cfg.Resource.Aux, "aux", 0, "auxiliary resource units per slot")
	f.StringVarP(&cfg.Queue, "queue", "q", cfg.Queue, "allocator queue")
	f.IntVar(&cfg.Priority, "priority", 0, "allocation priority")
	f.BoolVar(&cfg.SkipDrainOnFailure, "skip_drain_on_failure", false, "don't wait for launcher output once a process failed")
	f.DurationVar(&cfg.PollInterval, "poll_interval", cfg.PollInterval, "allocator poll interval")
	f.StringVar(&cfg.Cluster, "cluster", "", "YAML roster for the local cluster, synthesized from the topology if empty")
	f.StringVar(&cfg.FileSystem, "fs", "", "durable filesystem, a serve_dfs URL or a local directory")
	return r
}

// resolve turns the string flags into config fields.
func (c *submitCmd) resolve(now time.Time) error {
	cfg := c.cfg
	cfg.LauncherType = topology.LauncherType(c.launcher)
	cfg.Args = strings.Fields(c.args)
	cfg.EnvList = topology.SplitList(c.envList)
	cfg.SharedObjects = topology.SplitList(c.sharedList)
	sf, err := topology.ParseSupplementaryFiles(c.sf)
	if err != nil {
		return err
	}
	cfg.SupplementaryFiles = sf
	cfg.Resolve(now)
	return cfg.Validate()
}

func (c *submitCmd) run(cl *simpleCLIClient, cmd *cobra.Command, args []string) error {
	if err := c.resolve(time.Now()); err != nil {
		return err
	}
	log.Debugf("Submitting %s", spew.Sdump(c.cfg))

	fs, err := OpenFileSystem(c.cfg.FileSystem)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	sub := &client.Client{FS: fs, Execer: osexec.NewExecer(), Out: os.Stdout}
	return sub.Submit(ctx, c.cfg)
}
