// Package launcher bridges a local process manager (Hydra's mpiexec or ORTE's
// orterun) to the cluster. It starts the process manager against the acquired
// hosts, parses the per-node daemon commands it prints, and hands back the
// process manager's output streams for the relay loop to drain.
package launcher

import (
	"context"
	"io"
	"io/ioutil"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/common/stats"
	"github.com/twitter/mpilaunch/os/temp"
	"github.com/twitter/mpilaunch/placement"
	"github.com/twitter/mpilaunch/runner/execer"
	"github.com/twitter/mpilaunch/stream"
	"github.com/twitter/mpilaunch/topology"
)

// DaemonCommand is the daemon argv to run in the slot on Host.
type DaemonCommand struct {
	Host string
	Argv []string
}

// Line renders the command for a shell.
func (c DaemonCommand) Line() string {
	return strings.Join(c.Argv, " ")
}

// Launch is a running process manager. Commands line up one to one with the
// HostGroup's Slots(). Stdout and Stderr stay open until the process exits.
type Launch struct {
	Commands []DaemonCommand
	Stdout   *stream.Reader
	Stderr   *stream.Reader

	proc   execer.Process
	exitCh chan execer.ProcessStatus
	once   sync.Once
	status execer.ProcessStatus
}

// Wait blocks until the process manager exits.
func (l *Launch) Wait() execer.ProcessStatus {
	l.once.Do(func() {
		l.status = <-l.exitCh
	})
	return l.status
}

// Abort kills the process manager. Its remaining output is discarded so the
// pipes never block the kill, callers must not read the streams afterwards.
func (l *Launch) Abort() execer.ProcessStatus {
	go io.Copy(ioutil.Discard, l.Stdout)
	go io.Copy(ioutil.Discard, l.Stderr)
	l.proc.Abort()
	return l.Wait()
}

type Launcher interface {
	Start(ctx context.Context, group *placement.HostGroup, perNode int) (*Launch, error)
}

type Config struct {
	Type topology.LauncherType
	// Path to mpiexec.hydra or orterun.
	Binary string
	// Application and its arguments as the daemons will see them.
	Executable string
	Args       []string
	// Directory for hostfiles.
	WorkDir *temp.TempDir
	Env     map[string]string
}

// New picks the protocol implementation for cfg.Type.
func New(cfg Config, ex execer.Execer, stat stats.StatsReceiver) (Launcher, error) {
	b := &bridge{cfg: cfg, execer: ex, stat: stat.Scope("launcher")}
	switch cfg.Type {
	case topology.Hydra:
		return &hydraLauncher{b}, nil
	case topology.Orte:
		if cfg.WorkDir == nil {
			return nil, errors.New("launcher: orte needs a work dir for its hostfile")
		}
		return &orteLauncher{b}, nil
	default:
		return nil, errs.NewConfigError("unknown launcher type %q", cfg.Type)
	}
}

// bridge holds what both protocols share: spawning and stream plumbing.
type bridge struct {
	cfg    Config
	execer execer.Execer
	stat   stats.StatsReceiver
}

type lineReader interface {
	ReadLine() (string, error)
}

func (b *bridge) spawn(argv []string) (*Launch, error) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	log.WithFields(log.Fields{"argv": argv}).Info("Starting launcher")
	proc, err := b.execer.Exec(execer.Command{
		Argv:    argv,
		EnvVars: b.cfg.Env,
		Stdout:  outW,
		Stderr:  errW,
		LogTags: map[string]interface{}{"launcher": string(b.cfg.Type)},
	})
	if err != nil {
		outW.Close()
		errW.Close()
		return nil, errs.NewError(errors.Wrapf(err, "starting %s", argv[0]), errs.SoftwareExitCode)
	}
	log.WithFields(log.Fields{"launcher": b.cfg.Type, "pid": proc.Pid()}).Info("Launcher started")
	l := &Launch{
		Stdout: stream.NewReader(outR),
		Stderr: stream.NewReader(errR),
		proc:   proc,
		exitCh: make(chan execer.ProcessStatus, 1),
	}
	go func() {
		st := proc.Wait()
		outW.Close()
		errW.Close()
		log.WithFields(log.Fields{
			"state":    st.State,
			"exitCode": st.ExitCode,
			"error":    st.Error,
		}).Info("Launcher exited")
		l.exitCh <- st
	}()
	return l, nil
}

type parsed struct {
	cmds []DaemonCommand
	err  error
}

// parse runs fn against the launcher's stdout, aborting the launcher on failure
// or when ctx is done before every command was printed.
func (b *bridge) parse(ctx context.Context, l *Launch, fn func(lineReader) ([]DaemonCommand, error)) (*Launch, error) {
	defer b.stat.Precision(time.Millisecond).Latency(stats.LauncherStartLatency_ms).Time().Stop()
	done := make(chan parsed, 1)
	go func() {
		cmds, err := fn(l.Stdout)
		done <- parsed{cmds, err}
	}()

	var res parsed
	select {
	case res = <-done:
	case <-ctx.Done():
		log.WithFields(log.Fields{"launcher": b.cfg.Type}).Info("Cancelled while reading launcher output, aborting")
		// Killing the launcher closes stdout, which ends fn.
		go io.Copy(ioutil.Discard, l.Stderr)
		l.proc.Abort()
		<-done
		go io.Copy(ioutil.Discard, l.Stdout)
		l.Wait()
		return nil, errors.Wrap(ctx.Err(), "waiting for launcher commands")
	}
	if res.err != nil {
		l.Abort()
		return nil, res.err
	}
	b.stat.Counter(stats.LauncherCommandsParsedCounter).Inc(int64(len(res.cmds)))
	l.Commands = res.cmds
	return l, nil
}

// anchor rewrites a daemon path so it resolves inside the slot's working directory.
func anchor(argv []string) []string {
	argv[0] = "./" + path.Base(argv[0])
	return argv
}

// readLine wraps EOF as a protocol error, the launcher died before printing everything.
func readLine(r lineReader, got, want int) (string, error) {
	line, err := r.ReadLine()
	if err == io.EOF {
		return "", errs.NewProtocolError("", "launcher output ended after %d of %d expected lines", got, want)
	}
	if err != nil {
		return "", errs.NewError(errors.Wrap(err, "reading launcher output"), errs.IOExitCode)
	}
	return line, nil
}
