package os

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/twitter/mpilaunch/runner/execer"
)

// Implements runner/execer.Process
type process struct {
	cmd    *exec.Cmd
	wg     *sync.WaitGroup
	ats    int // Abort Timeout before sigkill, in Seconds
	fields log.Fields

	waitOnce sync.Once
	done     chan struct{}
	mutex    sync.Mutex
	result   *execer.ProcessStatus
	aborted  bool
}

func (p *process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait for the process to finish.
// If the command finishes without error return the status COMPLETE and exit Code 0.
// If the command fails, and we can get the exit code from the command, return COMPLETE with the failing exit code.
// If the command fails and we cannot get the exit code from the command, return FAILED and the error
// that prevented getting the exit code.
func (p *process) Wait() execer.ProcessStatus {
	p.startWaiting()
	<-p.done
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return *p.result
}

func (p *process) startWaiting() {
	p.waitOnce.Do(func() {
		p.done = make(chan struct{})
		go func() {
			// Wait for the output goroutines to finish then wait on the process itself to release resources.
			p.wg.Wait()
			result := statusFromErr(p.cmd.Wait())

			p.mutex.Lock()
			if p.aborted {
				result.Error = fmt.Sprintf("aborted %s", result.Error)
			}
			p.result = &result
			p.mutex.Unlock()

			// Reap anything left behind in the group.
			cleanupProcs(p.cmd.Process.Pid)
			log.WithFields(p.fields).WithField("exitCode", result.ExitCode).Debug("Finished waiting for process")
			close(p.done)
		}()
	})
}

func statusFromErr(err error) (result execer.ProcessStatus) {
	if err == nil {
		result.State = execer.COMPLETE
		return result
	}
	if err, ok := err.(*exec.ExitError); ok {
		// If we can get a WaitStatus from the error we can get the exit code.
		if status, ok := err.Sys().(syscall.WaitStatus); ok {
			result.State = execer.COMPLETE
			result.ExitCode = status.ExitStatus()
			if status.Signaled() {
				// Shell convention for signaled children.
				result.ExitCode = 128 + int(status.Signal())
			}
			return result
		}
		result.State = execer.FAILED
		result.Error = "Could not find WaitStatus from exiterr.Sys()"
		return result
	}
	result.State = execer.FAILED
	result.Error = err.Error()
	return result
}

// Abort SIGTERMs the process group, allowing for graceful exit,
// and SIGKILLs it if it hasn't exited within the abort timeout.
func (p *process) Abort() execer.ProcessStatus {
	p.mutex.Lock()
	p.aborted = true
	p.mutex.Unlock()
	p.startWaiting()

	pgid := p.cmd.Process.Pid
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		log.WithFields(p.fields).WithField("error", err).Error("Error aborting command via SIGTERM")
		cleanupProcs(pgid)
	} else {
		log.WithFields(p.fields).Info("Aborting process via SIGTERM")
	}

	select {
	case <-p.done:
	case <-time.After(time.Duration(p.ats) * time.Second):
		log.WithFields(p.fields).Errorf("%d second timeout exceeded, killing command", p.ats)
		cleanupProcs(pgid)
		<-p.done
	}
	return p.Wait()
}
