package topology

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/twitter/mpilaunch/common/errors"
)

func validConfig() *Config {
	c := DefaultConfig()
	c.Executable = "/bin/true"
	c.Prefix = "/tmp/staging"
	c.NumProcesses = 4
	return c
}

func TestValidateTopologyModes(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, NONE, c.Policy())

	c.NumNodes = 2
	assert.True(t, errs.IsConfigError(c.Validate()), "both -n and -N")

	c.NumProcesses = 0
	require.NoError(t, c.Validate())
	assert.Equal(t, GROUP, c.Policy())

	c.NumNodes = 0
	assert.True(t, errs.IsConfigError(c.Validate()), "neither -n nor -N")
}

func TestValidateRejects(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"no executable": func(c *Config) { c.Executable = "" },
		"no prefix":     func(c *Config) { c.Prefix = "" },
		"zero ppn":      func(c *Config) { c.ProcessesPerNode = 0 },
		"no memory":     func(c *Config) { c.Resource.MemoryMB = 0 },
		"bad launcher":  func(c *Config) { c.LauncherType = "slurm" },
		"bad env":       func(c *Config) { c.EnvList = []string{"=x"} },
		"escaping sf":   func(c *Config) { c.SupplementaryFiles = []SupplementaryFile{{"a", "../b"}} },
	} {
		c := validConfig()
		mutate(c)
		assert.Error(t, c.Validate(), name)
	}
}

func TestNumDaemons(t *testing.T) {
	c := validConfig()
	c.NumProcesses = 5
	c.ProcessesPerNode = 2
	assert.Equal(t, 3, c.NumDaemons())
	c.NumProcesses, c.NumNodes = 0, 4
	assert.Equal(t, 4, c.NumDaemons())
}

func TestDefaultOutputPath(t *testing.T) {
	now := time.Date(2019, time.March, 7, 8, 9, 10, 0, time.UTC)
	assert.Equal(t, "/data/jobs/output.ring.2019_3_7_8_9_10.txt", DefaultOutputPath("/data/jobs/", "/home/u/ring", now))

	c := validConfig()
	c.Resolve(now)
	assert.Equal(t, "/tmp/staging/output.true.2019_3_7_8_9_10.txt", c.Output)
}

func TestLauncherBinaries(t *testing.T) {
	c := validConfig()
	c.LauncherPrefix = "/opt/mpi/bin"
	assert.Equal(t, "/opt/mpi/bin/mpiexec.hydra", c.LauncherBinary())
	assert.Equal(t, "/opt/mpi/bin/hydra_pmi_proxy", c.DaemonBinary())
	c.LauncherType = Orte
	assert.Equal(t, "/opt/mpi/bin/orterun", c.LauncherBinary())
	assert.Equal(t, "/opt/mpi/bin/orted", c.DaemonBinary())
}

func TestValidateLocalFiles(t *testing.T) {
	dir, err := ioutil.TempDir("", "topology-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	c := validConfig()
	c.LauncherPrefix = dir
	assert.True(t, errs.IsConfigError(c.ValidateLocalFiles()))

	for _, name := range []string{HydraMpiexec, HydraProxy} {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0755))
	}
	assert.NoError(t, c.ValidateLocalFiles())

	c.SharedObjects = []string{filepath.Join(dir, "libmissing.so")}
	assert.Error(t, c.ValidateLocalFiles())
}

func TestHandoffRoundTrip(t *testing.T) {
	c := validConfig()
	c.Args = []string{"-iterations", "10"}
	c.Staged = []StagedFile{{Name: "true", Path: "/tmp/staging/app/true", Size: 10}}
	s, err := Encode(c)
	require.NoError(t, err)
	got, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = Decode("")
	assert.Error(t, err)
	_, err = Decode("not base64!")
	assert.Error(t, err)
}

func TestParseHelpers(t *testing.T) {
	sf, err := ParseSupplementaryFiles("a.txt:data/a.txt, b.bin:b.bin")
	require.NoError(t, err)
	assert.Equal(t, []SupplementaryFile{{"a.txt", "data/a.txt"}, {"b.bin", "b.bin"}}, sf)

	_, err = ParseSupplementaryFiles("nocolon")
	assert.Error(t, err)

	env := ResolveEnv([]string{"HOME", "MISSING", "OMP_NUM_THREADS=4"}, func(k string) (string, bool) {
		if k == "HOME" {
			return "/home/u", true
		}
		return "", false
	})
	assert.Equal(t, map[string]string{"HOME": "/home/u", "OMP_NUM_THREADS": "4"}, env)
	assert.Equal(t, []string{"a", "b"}, SplitList(" a,,b "))
}
