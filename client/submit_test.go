package client

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/twitter/mpilaunch/common/errors"
	dfslocal "github.com/twitter/mpilaunch/dfs/local"
	"github.com/twitter/mpilaunch/os/temp"
	osexec "github.com/twitter/mpilaunch/runner/execer/os"
	"github.com/twitter/mpilaunch/topology"
)

func setup(t *testing.T) (*temp.TempDir, *dfslocal.FileSystem, *topology.Config) {
	tmp, err := temp.TempDirDefault()
	require.NoError(t, err)
	fs, err := dfslocal.New(filepath.Join(tmp.Dir, "dfs"))
	require.NoError(t, err)

	for _, name := range []string{"ring", "mpi/" + topology.HydraMpiexec, "mpi/" + topology.HydraProxy} {
		p := filepath.Join(tmp.Dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, ioutil.WriteFile(p, []byte("#!/bin/sh\n"), 0755))
	}
	cfg := topology.DefaultConfig()
	cfg.Executable = filepath.Join(tmp.Dir, "ring")
	cfg.LauncherPrefix = filepath.Join(tmp.Dir, "mpi")
	cfg.NumProcesses = 2
	cfg.Prefix = "jobs"
	cfg.Output = "jobs/out.txt"
	return tmp, fs, cfg
}

// fakeMaster appends to the output file and exits with code.
func fakeMaster(fs *dfslocal.FileSystem, code string) []string {
	out := filepath.Join(fs.Root(), "jobs", "out.txt")
	return []string{"sh", "-c", `[ -n "$MPI_LAUNCH_CONF" ] || exit 9
echo first >> ` + out + `
sleep 0.05
echo second >> ` + out + `
exit ` + code}
}

func TestSubmitStreamsOutput(t *testing.T) {
	tmp, fs, cfg := setup(t)
	defer tmp.Cleanup()

	var out bytes.Buffer
	c := &Client{FS: fs, Execer: osexec.NewExecer(), Out: &out, MasterArgv: fakeMaster(fs, "0"), TailInterval: time.Millisecond}
	require.NoError(t, c.Submit(context.Background(), cfg))
	assert.Equal(t, "first\nsecond\n", out.String())
	assert.NotEmpty(t, cfg.AppID)
	assert.Len(t, cfg.Staged, 3)
	launcher, ok := cfg.StagedLauncher()
	require.True(t, ok)
	assert.Equal(t, "jobs/"+cfg.AppID+"/launcher/"+topology.HydraMpiexec, launcher.Path)

	ok, err := fs.Exists("jobs/" + cfg.AppID + "/" + topology.HydraProxy)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSubmitReturnsMasterExitCode(t *testing.T) {
	tmp, fs, cfg := setup(t)
	defer tmp.Cleanup()

	var out bytes.Buffer
	c := &Client{FS: fs, Execer: osexec.NewExecer(), Out: &out, MasterArgv: fakeMaster(fs, "65"), TailInterval: time.Millisecond}
	err := c.Submit(context.Background(), cfg)
	assert.Equal(t, errs.ProtocolExitCode, errs.ExitCodeOf(err))
	assert.Equal(t, "first\nsecond\n", out.String())
}

func TestSubmitRejectsBadConfig(t *testing.T) {
	tmp, fs, cfg := setup(t)
	defer tmp.Cleanup()

	cfg.NumNodes = 2
	c := &Client{FS: fs, Execer: osexec.NewExecer(), Out: ioutil.Discard}
	assert.Equal(t, errs.UsageExitCode, errs.ExitCodeOf(c.Submit(context.Background(), cfg)))

	cfg.NumNodes = 0
	cfg.LauncherPrefix = filepath.Join(tmp.Dir, "missing")
	assert.Equal(t, errs.UsageExitCode, errs.ExitCodeOf(c.Submit(context.Background(), cfg)))
}

func TestNewAppID(t *testing.T) {
	a, err := NewAppID(time.Unix(1500000000, 0))
	require.NoError(t, err)
	b, err := NewAppID(time.Unix(1500000000, 0))
	require.NoError(t, err)
	assert.Regexp(t, `^mpilaunch_1500000000_[0-9a-f]{8}$`, a)
	assert.NotEqual(t, a, b)
}
