// Package topology holds the resolved launch parameters for one job: how many
// processes or nodes, the per-slot resource shape, which launcher protocol to
// drive, and where staged files and output live.
package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	errs "github.com/twitter/mpilaunch/common/errors"
)

// Policy governs how slots are accepted into a HostGroup.
type Policy int

const (
	// Flat process count, any number of slots per host.
	NONE Policy = iota
	// Exactly ProcessesPerNode slots on each of NumNodes hosts.
	GROUP
)

func (p Policy) String() string {
	switch p {
	case NONE:
		return "NONE"
	case GROUP:
		return "GROUP"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

type LauncherType string

const (
	Hydra LauncherType = "hydra"
	Orte  LauncherType = "orte"
)

// Binary names expected under the launcher prefix.
const (
	HydraMpiexec = "mpiexec.hydra"
	HydraProxy   = "hydra_pmi_proxy"
	OrteRun      = "orterun"
	OrteDaemon   = "orted"
)

const (
	DefaultProcessesPerNode = 1
	DefaultMemoryMB         = 256
	DefaultVCores           = 1
	DefaultQueue            = "default"
	DefaultPollInterval     = 100 * time.Millisecond
)

// Resource is the shape requested for every slot.
type Resource struct {
	VCores   int `json:"vcores"`
	MemoryMB int `json:"memoryMb"`
	// Auxiliary units, ex: NVDIMM megabytes.
	Aux int `json:"aux,omitempty"`
}

// SupplementaryFile is copied from Local on the submitting host to Remote,
// relative to the staging prefix, and localized under that name on every node.
type SupplementaryFile struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// StagedFile is a file already uploaded to the durable filesystem.
type StagedFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	// Localized by the master only, never into slots.
	MasterOnly bool `json:"master_only,omitempty"`
}

type Config struct {
	Executable     string       `json:"executable"`
	Args           []string     `json:"args,omitempty"`
	LauncherType   LauncherType `json:"launcherType"`
	LauncherPrefix string       `json:"launcherPrefix"`

	// Exactly one of NumProcesses and NumNodes is non-zero.
	NumProcesses     int      `json:"numProcesses,omitempty"`
	NumNodes         int      `json:"numNodes,omitempty"`
	ProcessesPerNode int      `json:"processesPerNode"`
	Resource         Resource `json:"resource"`
	Priority         int      `json:"priority"`
	Queue            string   `json:"queue"`

	// Entries are NAME, forwarded from the master's environment, or NAME=VALUE.
	EnvList            []string            `json:"envList,omitempty"`
	SharedObjects      []string            `json:"sharedObjects,omitempty"`
	SupplementaryFiles []SupplementaryFile `json:"supplementaryFiles,omitempty"`

	// Durable filesystem address, empty for the local filesystem.
	FileSystem string `json:"fileSystem,omitempty"`
	Prefix     string `json:"prefix"`
	Output     string `json:"output"`

	SkipDrainOnFailure bool          `json:"skipDrainOnFailure,omitempty"`
	PollInterval       time.Duration `json:"pollInterval"`

	// YAML roster for the local cluster, empty to synthesize one.
	Cluster string `json:"cluster,omitempty"`

	// Filled in by submit once files are uploaded.
	AppID  string       `json:"appId,omitempty"`
	Staged []StagedFile `json:"staged,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		LauncherType:     Hydra,
		ProcessesPerNode: DefaultProcessesPerNode,
		Resource:         Resource{VCores: DefaultVCores, MemoryMB: DefaultMemoryMB},
		Queue:            DefaultQueue,
		PollInterval:     DefaultPollInterval,
	}
}

func (c *Config) Policy() Policy {
	if c.NumNodes > 0 {
		return GROUP
	}
	return NONE
}

// NumDaemons is the number of slots to acquire under the distinct-host
// placement used for ORTE, one daemon per node.
func (c *Config) NumDaemons() int {
	if c.NumNodes > 0 {
		return c.NumNodes
	}
	return (c.NumProcesses + c.ProcessesPerNode - 1) / c.ProcessesPerNode
}

func (c *Config) ExecutableName() string {
	return filepath.Base(c.Executable)
}

// LauncherBinary is the process manager run by the master.
func (c *Config) LauncherBinary() string {
	if c.LauncherType == Orte {
		return filepath.Join(c.LauncherPrefix, OrteRun)
	}
	return filepath.Join(c.LauncherPrefix, HydraMpiexec)
}

// StagedLauncher is the staged copy of LauncherBinary, if submit staged one.
func (c *Config) StagedLauncher() (StagedFile, bool) {
	for _, f := range c.Staged {
		if f.MasterOnly {
			return f, true
		}
	}
	return StagedFile{}, false
}

// DaemonBinary is the per-node proxy staged to every slot.
func (c *Config) DaemonBinary() string {
	if c.LauncherType == Orte {
		return filepath.Join(c.LauncherPrefix, OrteDaemon)
	}
	return filepath.Join(c.LauncherPrefix, HydraProxy)
}

// Validate checks everything that can be checked without touching local files.
func (c *Config) Validate() error {
	if c.Executable == "" {
		return errs.NewConfigError("an executable (-a) is required")
	}
	if c.Prefix == "" {
		return errs.NewConfigError("a staging prefix (-p) is required")
	}
	if (c.NumProcesses > 0) == (c.NumNodes > 0) {
		return errs.NewConfigError("exactly one of -n, -N must be set")
	}
	if c.NumProcesses < 0 || c.NumNodes < 0 {
		return errs.NewConfigError("-n and -N must be positive")
	}
	if c.ProcessesPerNode < 1 {
		return errs.NewConfigError("--ppn must be at least 1, got %d", c.ProcessesPerNode)
	}
	if c.Resource.VCores < 1 || c.Resource.MemoryMB < 1 || c.Resource.Aux < 0 {
		return errs.NewConfigError("invalid resource shape %+v", c.Resource)
	}
	switch c.LauncherType {
	case Hydra, Orte:
	default:
		return errs.NewConfigError("unknown launcher %q, expected %q or %q", c.LauncherType, Hydra, Orte)
	}
	if c.PollInterval <= 0 {
		return errs.NewConfigError("poll interval must be positive")
	}
	for _, e := range c.EnvList {
		if name := strings.SplitN(e, "=", 2)[0]; name == "" {
			return errs.NewConfigError("bad --envlist entry %q", e)
		}
	}
	for _, sf := range c.SupplementaryFiles {
		if sf.Local == "" || sf.Remote == "" || filepath.IsAbs(sf.Remote) || strings.HasPrefix(filepath.Clean(sf.Remote), "..") {
			return errs.NewConfigError("bad supplementary file %s:%s", sf.Local, sf.Remote)
		}
	}
	return nil
}

// ValidateLocalFiles checks that every file submit will stage exists.
func (c *Config) ValidateLocalFiles() error {
	paths := []struct{ what, path string }{
		{"Executable", c.Executable},
		{"Launcher", c.LauncherBinary()},
		{"Daemon", c.DaemonBinary()},
	}
	for _, so := range c.SharedObjects {
		paths = append(paths, struct{ what, path string }{"Shared object", so})
	}
	for _, sf := range c.SupplementaryFiles {
		paths = append(paths, struct{ what, path string }{"Supplementary file", sf.Local})
	}
	for _, p := range paths {
		if _, err := os.Stat(p.path); err != nil {
			return errs.NewConfigError("%s %s does not exist", p.what, p.path)
		}
	}
	return nil
}

// DefaultOutputPath synthesizes <prefix>/output.<exe>.<Y>_<M>_<D>_<h>_<m>_<s>.txt.
func DefaultOutputPath(prefix, executable string, now time.Time) string {
	return fmt.Sprintf("%s/output.%s.%d_%d_%d_%d_%d_%d.txt",
		strings.TrimSuffix(prefix, "/"), filepath.Base(executable),
		now.Year(), int(now.Month()), now.Day(), now.Hour(), now.Minute(), now.Second())
}

// Resolve fills in derived defaults. It must run before Validate.
func (c *Config) Resolve(now time.Time) {
	if c.Output == "" && c.Prefix != "" && c.Executable != "" {
		c.Output = DefaultOutputPath(c.Prefix, c.Executable, now)
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
}
