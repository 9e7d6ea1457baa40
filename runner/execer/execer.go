package execer

import (
	"io"
)

// Execer lets you run one Unix command. It's at the level of os/exec, with process
// group handling and exit status extraction done once for the launcher subprocess
// and the local node agent.

type Command struct {
	Argv    []string
	Dir     string
	EnvVars map[string]string
	// Replace the parent environment instead of extending it.
	CleanEnv bool
	Stdout   io.Writer
	Stderr   io.Writer
	// Fields added to every log line about this command.
	LogTags map[string]interface{}
}

type ProcessState int

const (
	UNKNOWN ProcessState = iota
	RUNNING
	COMPLETE
	FAILED
)

func (s ProcessState) String() string {
	switch s {
	case RUNNING:
		return "RUNNING"
	case COMPLETE:
		return "COMPLETE"
	case FAILED:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type Execer interface {
	Exec(command Command) (Process, error)
}

type Process interface {
	// Pid of the started process, also its process group id.
	Pid() int
	Wait() ProcessStatus
	Abort() ProcessStatus
}

// ProcessStatus is COMPLETE with an ExitCode when the process exited on its own,
// or FAILED with an Error when we couldn't determine how it ended.
type ProcessStatus struct {
	State    ProcessState
	ExitCode int
	Error    string
}
