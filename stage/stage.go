// Package stage uploads everything a job's slots need into the durable
// filesystem before the master starts.
//
// Layout under <prefix>/<app id>/:
//
//	<exe>              the application
//	<daemon>           hydra_pmi_proxy or orted
//	sofiles/<name>     shared objects, localized as <name>
//	sf/<remote>        supplementary files, localized as <remote>
package stage

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/common/stats"
	"github.com/twitter/mpilaunch/dfs"
	"github.com/twitter/mpilaunch/topology"
)

const DefaultUploadTries = 5

type Stager struct {
	fs          dfs.FileSystem
	stat        stats.StatsReceiver
	makeBackoff func() backoff.BackOff
}

func NewStager(fs dfs.FileSystem, stat stats.StatsReceiver) *Stager {
	return NewCustomStager(fs, stat, func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), DefaultUploadTries)
	})
}

func NewCustomStager(fs dfs.FileSystem, stat stats.StatsReceiver, makeBackoff func() backoff.BackOff) *Stager {
	return &Stager{fs: fs, stat: stat.Scope("stage"), makeBackoff: makeBackoff}
}

// AppDir is where a job's files are staged.
func AppDir(cfg *topology.Config) string {
	return dfs.Join(cfg.Prefix, cfg.AppID)
}

type upload struct {
	local      string
	name       string
	path       string
	masterOnly bool
}

// plan lists the uploads for cfg without touching any filesystem.
func plan(cfg *topology.Config) []upload {
	dir := AppDir(cfg)
	exe := cfg.ExecutableName()
	daemon := filepath.Base(cfg.DaemonBinary())
	launcher := filepath.Base(cfg.LauncherBinary())
	ups := []upload{
		{cfg.Executable, exe, dfs.Join(dir, exe), false},
		{cfg.DaemonBinary(), daemon, dfs.Join(dir, daemon), false},
		{cfg.LauncherBinary(), launcher, dfs.Join(dir, "launcher", launcher), true},
	}
	for _, so := range cfg.SharedObjects {
		name := filepath.Base(so)
		ups = append(ups, upload{so, name, dfs.Join(dir, "sofiles", name), false})
	}
	for _, sf := range cfg.SupplementaryFiles {
		ups = append(ups, upload{sf.Local, sf.Remote, dfs.Join(dir, "sf", sf.Remote), false})
	}
	return ups
}

// Stage uploads every file in plan(cfg), retrying each with backoff, and
// records the results in cfg.Staged.
func (s *Stager) Stage(cfg *topology.Config) error {
	defer s.stat.Precision(time.Millisecond).Latency(stats.StageLatency_ms).Time().Stop()
	var staged []topology.StagedFile
	for _, up := range plan(cfg) {
		size, err := s.put(up)
		if err != nil {
			return errs.NewError(errors.Wrapf(err, "staging %s", up.local), errs.IOExitCode)
		}
		staged = append(staged, topology.StagedFile{Name: up.name, Path: up.path, Size: size, MasterOnly: up.masterOnly})
		s.stat.Counter(stats.StageFilesCounter).Inc(1)
	}
	cfg.Staged = staged
	return nil
}

func (s *Stager) put(up upload) (size int64, err error) {
	try := 1
	backoff.Retry(func() error {
		log.WithFields(log.Fields{"local": up.local, "path": up.path, "try": try}).Info("Staging file")
		try++
		size, err = s.putOnce(up)
		return err
	}, s.makeBackoff())
	return size, err
}

func (s *Stager) putOnce(up upload) (int64, error) {
	f, err := os.Open(up.local)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := s.fs.Put(up.path, f); err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
