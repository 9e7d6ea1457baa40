package os

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/twitter/mpilaunch/runner/execer"
)

// Seconds between SIGTERM and SIGKILL when aborting.
const AbortTimeoutSec = 10

func NewExecer() execer.Execer {
	return &osExecer{ats: AbortTimeoutSec}
}

type osExecer struct {
	ats int
}

func (e *osExecer) Exec(command execer.Command) (execer.Process, error) {
	if len(command.Argv) == 0 {
		return nil, fmt.Errorf("No command specified.")
	}

	cmd := exec.Command(command.Argv[0], command.Argv[1:]...)
	cmd.Dir = command.Dir

	// Use the parent environment plus whatever additional env vars are provided.
	if !command.CleanEnv {
		cmd.Env = os.Environ()
	}
	keys := make([]string, 0, len(command.EnvVars))
	for k := range command.EnvVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+command.EnvVars[k])
	}
	if cmd.Env == nil {
		cmd.Env = []string{}
	}

	// Sets pgid of all child processes to cmd's pid
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, stderr := command.Stdout, command.Stderr
	if stdout == nil {
		stdout = ioutil.Discard
	}
	if stderr == nil {
		stderr = ioutil.Discard
	}

	// Use pipes due to possible hang in process.Wait().
	// See: https://github.com/noxiouz/stout/commit/42cc533a0bece540f2424faff2a960876b21ffd2
	stdErrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdOutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(stderr, stdErrPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(stdout, stdOutPipe)
	}()

	fields := log.Fields{"pid": cmd.Process.Pid, "argv": command.Argv}
	for k, v := range command.LogTags {
		fields[k] = v
	}
	log.WithFields(fields).Debug("Started process")

	return &process{cmd: cmd, wg: &wg, ats: e.ats, fields: fields}, nil
}

// Kill process along with all child processes, assuming no child processes called setpgid
func cleanupProcs(pgid int) (err error) {
	log.WithFields(
		log.Fields{
			"pgid": pgid,
		}).Debug("Cleaning up pgid")
	if err = unix.Kill(-pgid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		log.WithFields(
			log.Fields{
				"pgid":  pgid,
				"error": err,
			}).Error("Error cleaning up pgid")
		return err
	}
	return nil
}
