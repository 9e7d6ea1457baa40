// Package client implements submit: stage a job's files, start its master,
// and stream the job's output back until the master exits.
package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/common/stats"
	"github.com/twitter/mpilaunch/dfs"
	"github.com/twitter/mpilaunch/monitor"
	"github.com/twitter/mpilaunch/runner/execer"
	"github.com/twitter/mpilaunch/stage"
	"github.com/twitter/mpilaunch/topology"
)

type Client struct {
	FS     dfs.FileSystem
	Execer execer.Execer
	Stat   stats.StatsReceiver
	// Job output is copied here.
	Out io.Writer
	// Master process argv, "<this binary> master" if empty.
	MasterArgv   []string
	TailInterval time.Duration
}

// NewAppID is unique per submission and sorts by submission time.
func NewAppID(now time.Time) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("mpilaunch_%d_%s", now.Unix(), strings.Split(id.String(), "-")[0]), nil
}

// Submit runs the job described by cfg and returns once its master exits.
// The error carries the master's exit code when it is non-zero.
func (c *Client) Submit(ctx context.Context, cfg *topology.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateLocalFiles(); err != nil {
		return err
	}
	if cfg.AppID == "" {
		id, err := NewAppID(time.Now())
		if err != nil {
			return errs.NewError(err, errs.SoftwareExitCode)
		}
		cfg.AppID = id
	}
	stat := c.Stat
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	if err := stage.NewStager(c.FS, stat).Stage(cfg); err != nil {
		return err
	}
	log.WithFields(log.Fields{"app": cfg.AppID, "output": cfg.Output, "files": len(cfg.Staged)}).Info("Staged job")

	conf, err := topology.Encode(cfg)
	if err != nil {
		return errs.NewError(err, errs.SoftwareExitCode)
	}
	argv, err := c.masterArgv()
	if err != nil {
		return errs.NewError(err, errs.SoftwareExitCode)
	}
	proc, err := c.Execer.Exec(execer.Command{
		Argv:    argv,
		EnvVars: map[string]string{topology.ConfEnvVar: conf},
		Stdout:  os.Stderr,
		Stderr:  os.Stderr,
		LogTags: map[string]interface{}{"app": cfg.AppID},
	})
	if err != nil {
		return errs.NewError(errors.Wrap(err, "starting master"), errs.SoftwareExitCode)
	}

	return c.follow(ctx, cfg.Output, proc)
}

// follow tails output while waiting on the master, then drains the tail.
func (c *Client) follow(ctx context.Context, output string, proc execer.Process) error {
	tailCtx, stopTail := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	var status execer.ProcessStatus
	exited := make(chan struct{})

	g.Go(func() error {
		defer stopTail()
		defer close(exited)
		status = proc.Wait()
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			log.Info("Submission cancelled, aborting master")
			proc.Abort()
		case <-exited:
		}
		return nil
	})
	g.Go(func() error {
		tailer := monitor.NewTailer(c.FS, output, c.Out, c.TailInterval)
		if err := tailer.Follow(tailCtx); err != nil {
			return errs.NewError(errors.Wrapf(err, "tailing %s", output), errs.IOExitCode)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.WithFields(log.Fields{"state": status.State, "exitCode": status.ExitCode}).Info("Master exited")
	switch {
	case status.State != execer.COMPLETE:
		return errs.NewError(fmt.Errorf("master ended without an exit code: %s", status.Error), errs.SoftwareExitCode)
	case status.ExitCode != 0:
		return errs.NewError(fmt.Errorf("master exited with code %d", status.ExitCode), errs.ExitCode(status.ExitCode))
	}
	return nil
}

func (c *Client) masterArgv() ([]string, error) {
	if len(c.MasterArgv) > 0 {
		return c.MasterArgv, nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return []string{self, "master"}, nil
}
