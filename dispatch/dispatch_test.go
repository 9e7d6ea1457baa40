package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/mpilaunch/allocator"
	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/common/stats"
	"github.com/twitter/mpilaunch/launcher"
	"github.com/twitter/mpilaunch/placement"
	"github.com/twitter/mpilaunch/topology"
)

func testGroup() *placement.HostGroup {
	return placement.GroupOf(
		allocator.Slot{ID: "s0", Host: "A"},
		allocator.Slot{ID: "s1", Host: "A"},
		allocator.Slot{ID: "s2", Host: "B"},
	)
}

func testCmds() []launcher.DaemonCommand {
	return []launcher.DaemonCommand{
		{Host: "A", Argv: []string{"./proxy", "0"}},
		{Host: "A", Argv: []string{"./proxy", "1"}},
		{Host: "B", Argv: []string{"./proxy", "2"}},
	}
}

func TestDispatchStartsEverySlot(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	agent := allocator.NewMockNodeAgent(ctrl)

	res := []allocator.LocalResource{{Name: "app", Path: "/dfs/app", Size: 10}}
	env := map[string]string{"LD_LIBRARY_PATH": "."}
	gomock.InOrder(
		agent.EXPECT().Start(gomock.Any(), allocator.Slot{ID: "s0", Host: "A"}, allocator.LaunchContext{
			Command: "./proxy 0 1><LOG_DIR>/stdout 2><LOG_DIR>/stderr", Resources: res, Env: env}),
		agent.EXPECT().Start(gomock.Any(), allocator.Slot{ID: "s1", Host: "A"}, gomock.Any()),
		agent.EXPECT().Start(gomock.Any(), allocator.Slot{ID: "s2", Host: "B"}, allocator.LaunchContext{
			Command: "./proxy 2 1><LOG_DIR>/stdout 2><LOG_DIR>/stderr", Resources: res, Env: env}),
	)

	stat := stats.NewCustomStatsReceiver(nil)
	n, err := NewDispatcher(agent, stat).Dispatch(context.Background(), testGroup(), testCmds(), res, env)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 3, stat.Scope("dispatch").Counter(stats.DispatchStartedCounter).Count())
}

func TestDispatchStopsOnStartFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	agent := allocator.NewMockNodeAgent(ctrl)
	agent.EXPECT().Start(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	agent.EXPECT().Start(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("node lost"))

	n, err := NewDispatcher(agent, stats.NilStatsReceiver()).Dispatch(context.Background(), testGroup(), testCmds(), nil, nil)
	assert.Equal(t, 1, n)
	assert.Equal(t, errs.AllocatorExitCode, errs.ExitCodeOf(err))
}

func TestDispatchRejectsMisalignedCommands(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	agent := allocator.NewMockNodeAgent(ctrl)
	d := NewDispatcher(agent, stats.NilStatsReceiver())

	_, err := d.Dispatch(context.Background(), testGroup(), testCmds()[:2], nil, nil)
	assert.True(t, errs.IsProtocolError(err))

	cmds := testCmds()
	cmds[0], cmds[2] = cmds[2], cmds[0]
	_, err = d.Dispatch(context.Background(), testGroup(), cmds, nil, nil)
	assert.True(t, errs.IsProtocolError(err))
}

func TestBuildEnv(t *testing.T) {
	fwd := map[string]string{"FOO": "bar"}
	assert.Equal(t, map[string]string{"FOO": "bar", "LD_LIBRARY_PATH": "."}, BuildEnv(fwd))
	assert.Len(t, fwd, 1)

	fwd[LibraryPathVar] = "/usr/lib"
	assert.Equal(t, map[string]string{"FOO": "bar", "LD_LIBRARY_PATH": ".:/usr/lib"}, BuildEnv(fwd))
	assert.Equal(t, "/usr/lib", fwd[LibraryPathVar])
}

func TestBuildEnvUsesOnlyAllowListedLibraryPath(t *testing.T) {
	master := map[string]string{"LD_LIBRARY_PATH": "/master/only", "FOO": "bar"}
	lookup := func(k string) (string, bool) {
		v, ok := master[k]
		return v, ok
	}

	env := BuildEnv(topology.ResolveEnv([]string{"LD_LIBRARY_PATH=/opt/mpi/lib"}, lookup))
	assert.Equal(t, ".:/opt/mpi/lib", env[LibraryPathVar])

	env = BuildEnv(topology.ResolveEnv([]string{"FOO"}, lookup))
	assert.Equal(t, map[string]string{"FOO": "bar", "LD_LIBRARY_PATH": "."}, env)

	env = BuildEnv(topology.ResolveEnv([]string{"LD_LIBRARY_PATH"}, lookup))
	assert.Equal(t, ".:/master/only", env[LibraryPathVar])
}
