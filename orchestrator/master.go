// Package orchestrator runs one job from the master's side: register with the
// allocator, acquire slots, start the launcher, dispatch its daemons, relay
// output and completions, and unregister with the final status.
package orchestrator

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/twitter/mpilaunch/allocator"
	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/common/stats"
	"github.com/twitter/mpilaunch/dfs"
	"github.com/twitter/mpilaunch/dispatch"
	"github.com/twitter/mpilaunch/launcher"
	"github.com/twitter/mpilaunch/os/temp"
	"github.com/twitter/mpilaunch/placement"
	"github.com/twitter/mpilaunch/relay"
	"github.com/twitter/mpilaunch/runner/execer"
	"github.com/twitter/mpilaunch/topology"
)

// Deps are the collaborators a Master drives.
type Deps struct {
	Allocator allocator.Allocator
	Agent     allocator.NodeAgent
	FS        dfs.FileSystem
	Execer    execer.Execer
	// Holds the ORTE hostfile.
	WorkDir *temp.TempDir
	Stat    stats.StatsReceiver
	// Excluded from placement under ORTE, where orterun runs a daemon locally.
	Hostname string
	// Resolves forwarded --envlist names, os.LookupEnv if nil.
	LookupEnv func(string) (string, bool)
}

type Master struct {
	cfg  *topology.Config
	deps Deps
}

func NewMaster(cfg *topology.Config, deps Deps) *Master {
	if deps.Stat == nil {
		deps.Stat = stats.NilStatsReceiver()
	}
	if deps.LookupEnv == nil {
		deps.LookupEnv = os.LookupEnv
	}
	return &Master{cfg: cfg, deps: deps}
}

// PlacementRequest is what the master asks placement for.
func PlacementRequest(cfg *topology.Config, hostname string) placement.Request {
	req := placement.Request{
		Policy:   cfg.Policy(),
		PerNode:  cfg.ProcessesPerNode,
		Shape:    cfg.Resource,
		Priority: cfg.Priority,
	}
	switch {
	case cfg.LauncherType == topology.Orte:
		req.DistinctHost = true
		req.Count = cfg.NumDaemons()
		if hostname != "" {
			req.Exclude = []string{hostname}
		}
	case req.Policy == topology.GROUP:
		req.Count = cfg.NumNodes
	default:
		req.Count = cfg.NumProcesses
	}
	return req
}

// Resources lists the staged files every slot localizes.
func Resources(cfg *topology.Config) []allocator.LocalResource {
	var out []allocator.LocalResource
	for _, f := range cfg.Staged {
		if f.MasterOnly {
			continue
		}
		out = append(out, allocator.LocalResource{Name: f.Name, Path: f.Path, Size: f.Size})
	}
	return out
}

// Run returns the relay result when the job ran to completion. A failed slot
// yields a JobFailedExitCode error alongside the result.
func (m *Master) Run(ctx context.Context) (relay.Result, error) {
	sink, err := m.deps.FS.Append(m.cfg.Output)
	if err != nil {
		return relay.Result{}, errs.NewError(errors.Wrapf(err, "opening output %s", m.cfg.Output), errs.IOExitCode)
	}
	session := allocator.NewSession(m.deps.Allocator)
	if err := session.Register(ctx); err != nil {
		sink.Close()
		return relay.Result{}, err
	}

	res, launch, runErr := m.run(ctx, session, sink)
	if launch != nil && runErr != nil {
		launch.Abort()
	}

	status, msg := allocator.SUCCEEDED, "job succeeded"
	if runErr == nil && !res.Success {
		f := res.FirstFailure
		runErr = errs.NewError(fmt.Errorf("%d of %d slots failed, first %s with exit code %d",
			res.Failed, res.Completed, f.SlotID, f.ExitCode), errs.JobFailedExitCode)
	}
	if runErr != nil {
		status, msg = allocator.FAILED, runErr.Error()
	}

	// Unregister even if ctx is done so the allocator frees our slots.
	cleanup := multierr.Combine(
		session.Unregister(context.Background(), status, msg),
		sink.Close(),
	)
	log.WithFields(log.Fields{"status": status, "message": msg}).Info("Job finished")
	if cleanup != nil {
		log.WithError(cleanup).Error("Cleanup failed")
		if runErr == nil {
			runErr = errs.NewError(cleanup, errs.AllocatorExitCode)
		}
	}
	return res, runErr
}

func (m *Master) run(ctx context.Context, session *allocator.Session, sink dfs.Sink) (relay.Result, *launcher.Launch, error) {
	cfg := m.cfg
	engine := placement.NewEngine(session, placement.Config{PollInterval: cfg.PollInterval}, m.deps.Stat)
	group, err := engine.Acquire(ctx, PlacementRequest(cfg, m.deps.Hostname))
	if err != nil {
		return relay.Result{}, nil, err
	}
	if _, err := fmt.Fprintf(sink, "acquired container list: %s\n", group); err != nil {
		return relay.Result{}, nil, errs.NewError(errors.Wrap(err, "writing output"), errs.IOExitCode)
	}

	binary, err := m.launcherBinary()
	if err != nil {
		return relay.Result{}, nil, err
	}
	l, err := launcher.New(launcher.Config{
		Type:       cfg.LauncherType,
		Binary:     binary,
		Executable: "./" + cfg.ExecutableName(),
		Args:       cfg.Args,
		WorkDir:    m.deps.WorkDir,
	}, m.deps.Execer, m.deps.Stat)
	if err != nil {
		return relay.Result{}, nil, err
	}
	launch, err := l.Start(ctx, group, cfg.ProcessesPerNode)
	if err != nil {
		return relay.Result{}, nil, err
	}

	env := dispatch.BuildEnv(topology.ResolveEnv(cfg.EnvList, m.deps.LookupEnv))
	if _, err := dispatch.NewDispatcher(m.deps.Agent, m.deps.Stat).Dispatch(ctx, group, launch.Commands, Resources(cfg), env); err != nil {
		return relay.Result{}, launch, err
	}

	var ids []allocator.SlotID
	for _, s := range group.Slots() {
		ids = append(ids, s.ID)
	}
	loop := relay.NewLoop(session, ids, launch.Stdout, launch.Stderr, sink, relay.Config{
		Interval:           cfg.PollInterval,
		SkipDrainOnFailure: cfg.SkipDrainOnFailure,
	}, m.deps.Stat)
	res, err := loop.Run(ctx)
	if err != nil {
		return res, launch, err
	}

	if cfg.SkipDrainOnFailure && !res.Success {
		launch.Abort()
	} else {
		st := launch.Wait()
		log.WithFields(log.Fields{"state": st.State, "exitCode": st.ExitCode}).Info("Launcher finished")
	}
	return res, nil, nil
}

// launcherBinary copies the staged launcher into the work dir and returns its
// path. Without a staged copy the master runs the one under --launcher_prefix.
func (m *Master) launcherBinary() (string, error) {
	f, ok := m.cfg.StagedLauncher()
	if !ok {
		return m.cfg.LauncherBinary(), nil
	}
	src, err := m.deps.FS.Open(f.Path)
	if err != nil {
		return "", errs.NewError(errors.Wrapf(err, "opening staged launcher %s", f.Path), errs.IOExitCode)
	}
	defer src.Close()
	data, err := dfs.ReadAll(src)
	if err != nil {
		return "", errs.NewError(errors.Wrapf(err, "reading staged launcher %s", f.Path), errs.IOExitCode)
	}
	dir, err := m.deps.WorkDir.TempDir("launcher-")
	if err != nil {
		return "", errs.NewError(err, errs.IOExitCode)
	}
	p := filepath.Join(dir.Dir, f.Name)
	if err := ioutil.WriteFile(p, data, 0755); err != nil {
		return "", errs.NewError(errors.Wrapf(err, "localizing launcher"), errs.IOExitCode)
	}
	log.WithFields(log.Fields{"staged": f.Path, "path": p}).Info("Localized launcher")
	return p, nil
}
