// Package dispatch starts one daemon command in every slot of a finalized HostGroup.
package dispatch

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/mpilaunch/allocator"
	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/common/stats"
	"github.com/twitter/mpilaunch/launcher"
	"github.com/twitter/mpilaunch/placement"
)

const (
	LibraryPathVar = "LD_LIBRARY_PATH"

	outputRedirect = " 1>" + allocator.LogDirVar + "/stdout 2>" + allocator.LogDirVar + "/stderr"
)

type Dispatcher struct {
	agent allocator.NodeAgent
	stat  stats.StatsReceiver
}

func NewDispatcher(agent allocator.NodeAgent, stat stats.StatsReceiver) *Dispatcher {
	return &Dispatcher{agent: agent, stat: stat.Scope("dispatch")}
}

// Dispatch starts cmds[i] in group.Slots()[i]. It doesn't wait for completion.
// Every slot gets the same resources and env.
func (d *Dispatcher) Dispatch(ctx context.Context, group *placement.HostGroup, cmds []launcher.DaemonCommand,
	resources []allocator.LocalResource, env map[string]string) (int, error) {
	slots := group.Slots()
	if len(slots) != len(cmds) {
		return 0, errs.NewProtocolError("", "%d daemon commands for %d slots", len(cmds), len(slots))
	}

	for i, slot := range slots {
		if cmds[i].Host != slot.Host {
			return i, errs.NewProtocolError(cmds[i].Line(), "command for host %s lined up with slot %s on %s",
				cmds[i].Host, slot.ID, slot.Host)
		}
		lc := allocator.LaunchContext{
			Command:   Command(cmds[i]),
			Resources: resources,
			Env:       env,
		}
		log.WithFields(log.Fields{
			"slot":    slot.ID,
			"host":    slot.Host,
			"command": lc.Command,
		}).Info("Dispatching daemon")
		if err := d.agent.Start(ctx, slot, lc); err != nil {
			d.stat.Counter(stats.DispatchErrCounter).Inc(1)
			return i, errs.NewError(errors.Wrapf(err, "starting daemon in slot %s on %s", slot.ID, slot.Host),
				errs.AllocatorExitCode)
		}
		d.stat.Counter(stats.DispatchStartedCounter).Inc(1)
	}
	return len(slots), nil
}

// Command appends the log redirections the node agent expands per slot.
func Command(cmd launcher.DaemonCommand) string {
	return cmd.Line() + outputRedirect
}

// BuildEnv returns the forwarded env with the slot's working directory
// prepended to the forwarded library path, so staged shared objects resolve.
// Only an allow-listed LD_LIBRARY_PATH is kept.
func BuildEnv(forwarded map[string]string) map[string]string {
	env := make(map[string]string, len(forwarded)+1)
	for k, v := range forwarded {
		env[k] = v
	}
	if oldLibraryPath := forwarded[LibraryPathVar]; oldLibraryPath == "" {
		env[LibraryPathVar] = "."
	} else {
		env[LibraryPathVar] = ".:" + oldLibraryPath
	}
	return env
}
