package launcher

import (
	"context"
	"io/ioutil"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/mpilaunch/allocator"
	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/common/stats"
	"github.com/twitter/mpilaunch/os/temp"
	"github.com/twitter/mpilaunch/placement"
	"github.com/twitter/mpilaunch/runner/execer"
	"github.com/twitter/mpilaunch/stream"
	"github.com/twitter/mpilaunch/topology"
)

func lines(s ...string) *stream.Reader {
	return stream.NewReader(strings.NewReader(strings.Join(s, "\n") + "\n"))
}

func group(hosts ...string) *placement.HostGroup {
	var slots []allocator.Slot
	for i, h := range hosts {
		slots = append(slots, allocator.Slot{ID: allocator.SlotID("s" + string(rune('0'+i))), Host: h})
	}
	return placement.GroupOf(slots...)
}

func TestHostfile(t *testing.T) {
	assert.Equal(t, "h1 max_slots=2\nh2 max_slots=2\n", string(Hostfile([]string{"h1", "h2"}, 2)))
}

func TestParseOrte(t *testing.T) {
	g := group("h1", "h1", "h2", "h2")
	cmds, err := ParseOrte(lines(
		"h2 /opt/ompi/bin/cmdB --daemonize arg2",
		"h1 /opt/ompi/bin/cmdA arg1",
	), g)
	require.NoError(t, err)
	require.Len(t, cmds, 4)

	byHost := map[string][]string{}
	for i, c := range cmds {
		assert.Equal(t, g.Slots()[i].Host, c.Host)
		byHost[c.Host] = c.Argv
	}
	assert.Equal(t, map[string][]string{
		"h1": {"./cmdA", "arg1"},
		"h2": {"./cmdB", "arg2"},
	}, byHost)
}

func TestParseOrteEscapesQuotes(t *testing.T) {
	cmds, err := ParseOrte(lines(`h1 orted -mca ess_base_jobid "1234"`), group("h1"))
	require.NoError(t, err)
	assert.Equal(t, `./orted -mca ess_base_jobid \"1234\"`, cmds[0].Line())
}

func TestParseOrteRejects(t *testing.T) {
	for name, input := range map[string][]string{
		"unknown host":   {"h3 orted"},
		"duplicate host": {"h1 orted", "h1 orted"},
		"host only":      {"h1 --daemonize"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOrte(lines(input...), group("h1", "h2"))
			require.Error(t, err)
			assert.True(t, errs.IsProtocolError(err), err.Error())
		})
	}

	_, err := ParseOrte(lines("h1 orted"), group("h1", "h2"))
	assert.True(t, errs.IsProtocolError(err), "short output")
}

func TestParseHydra(t *testing.T) {
	g := group("a", "a", "b")
	cmds, err := ParseHydra(lines(
		"HYDRA_LAUNCH: 0 /usr/bin/hydra_pmi_proxy --control-port m:1 --proxy-id 0",
		"HYDRA_LAUNCH: 1 /usr/bin/hydra_pmi_proxy --control-port m:1 --proxy-id 1",
		"HYDRA_LAUNCH: 2 /usr/bin/hydra_pmi_proxy --control-port m:1 --proxy-id 2",
		"HYDRA_LAUNCH_END",
	), g)
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	for i, c := range cmds {
		assert.Equal(t, g.Slots()[i].Host, c.Host)
		assert.Equal(t, "./hydra_pmi_proxy", c.Argv[0])
	}
	assert.Equal(t, "./hydra_pmi_proxy --control-port m:1 --proxy-id 2", cmds[2].Line())
}

func TestParseHydraRejects(t *testing.T) {
	for name, input := range map[string][]string{
		"missing sentinel": {"HYDRA_LAUNCH: 0 proxy", "HYDRA_LAUNCH: 1 proxy"},
		"wrong sentinel":   {"HYDRA_LAUNCH: 0 proxy", "HYDRA_LAUNCH: 1 proxy", "DONE"},
		"bad marker":       {"LAUNCH: 0 proxy", "HYDRA_LAUNCH: 1 proxy", "HYDRA_LAUNCH_END"},
		"no command":       {"HYDRA_LAUNCH: 0", "HYDRA_LAUNCH: 1 proxy", "HYDRA_LAUNCH_END"},
		"early sentinel":   {"HYDRA_LAUNCH: 0 proxy", "HYDRA_LAUNCH_END"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseHydra(lines(input...), group("a", "b"))
			require.Error(t, err)
			assert.True(t, errs.IsProtocolError(err), err.Error())
		})
	}
}

func TestHostList(t *testing.T) {
	assert.Equal(t, "a:2,b:1", HostList(group("a", "a", "b")))
}

// fakeExecer records the argv and plays canned output on stdout. With hang set
// the process then stays up until aborted.
type fakeExecer struct {
	output string
	hang   bool
	argv   []string
}

func (f *fakeExecer) Exec(cmd execer.Command) (execer.Process, error) {
	f.argv = cmd.Argv
	p := &fakeProcess{done: make(chan struct{}), abort: make(chan struct{})}
	go func() {
		cmd.Stdout.Write([]byte(f.output))
		if f.hang {
			<-p.abort
		}
		select {
		case <-p.abort:
			p.status = execer.ProcessStatus{State: execer.COMPLETE, ExitCode: 143}
		default:
			p.status = execer.ProcessStatus{State: execer.COMPLETE}
		}
		close(p.done)
	}()
	return p, nil
}

type fakeProcess struct {
	done   chan struct{}
	abort  chan struct{}
	once   sync.Once
	status execer.ProcessStatus
}

func (p *fakeProcess) Pid() int { return 1 }

func (p *fakeProcess) Wait() execer.ProcessStatus {
	<-p.done
	return p.status
}

func (p *fakeProcess) Abort() execer.ProcessStatus {
	p.once.Do(func() { close(p.abort) })
	return p.Wait()
}

func TestHydraStart(t *testing.T) {
	ex := &fakeExecer{output: "HYDRA_LAUNCH: 0 proxy -p 0\nHYDRA_LAUNCH: 1 proxy -p 1\nHYDRA_LAUNCH_END\napp output\n"}
	l, err := New(Config{Type: topology.Hydra, Binary: "mpiexec.hydra", Executable: "./app", Args: []string{"x"}},
		ex, stats.NilStatsReceiver())
	require.NoError(t, err)

	launch, err := l.Start(context.Background(), group("a", "b"), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"mpiexec.hydra", "-launcher", "manual", "-hosts", "a:1,b:1", "-n", "2", "./app", "x"}, ex.argv)
	require.Len(t, launch.Commands, 2)
	assert.Equal(t, "b", launch.Commands[1].Host)

	rest, err := ioutil.ReadAll(launch.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "app output\n", string(rest))
	assert.Equal(t, execer.COMPLETE, launch.Wait().State)
}

func TestOrteStart(t *testing.T) {
	tmp, err := temp.TempDirDefault()
	require.NoError(t, err)
	defer tmp.Cleanup()

	ex := &fakeExecer{output: "a orted --daemonize -mca x 1\nb orted -mca x 2\n"}
	l, err := New(Config{Type: topology.Orte, Binary: "orterun", Executable: "./app", WorkDir: tmp},
		ex, stats.NilStatsReceiver())
	require.NoError(t, err)

	launch, err := l.Start(context.Background(), group("a", "a", "b", "b"), 2)
	require.NoError(t, err)
	require.Len(t, launch.Commands, 4)
	assert.Equal(t, "./orted -mca x 2", launch.Commands[3].Line())

	require.True(t, len(ex.argv) > 10)
	hostfile, err := ioutil.ReadFile(ex.argv[10])
	require.NoError(t, err)
	assert.Equal(t, "a max_slots=2\nb max_slots=2\n", string(hostfile))
	assert.Equal(t, []string{"--", "./app"}, ex.argv[11:])
	launch.Wait()
}

func TestStartAbortsOnProtocolError(t *testing.T) {
	ex := &fakeExecer{output: "garbage\n"}
	l, err := New(Config{Type: topology.Hydra, Binary: "mpiexec.hydra", Executable: "./app"}, ex, stats.NilStatsReceiver())
	require.NoError(t, err)
	_, err = l.Start(context.Background(), group("a"), 1)
	assert.Equal(t, errs.ProtocolExitCode, errs.ExitCodeOf(err))
}

func TestStartAbortsWhenCancelled(t *testing.T) {
	ex := &fakeExecer{output: "HYDRA_LAUNCH: 0 proxy -p 0\n", hang: true}
	l, err := New(Config{Type: topology.Hydra, Binary: "mpiexec.hydra", Executable: "./app"}, ex, stats.NilStatsReceiver())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	type started struct {
		launch *Launch
		err    error
	}
	ch := make(chan started, 1)
	go func() {
		launch, err := l.Start(ctx, group("a", "b"), 1)
		ch <- started{launch, err}
	}()
	select {
	case res := <-ch:
		assert.Nil(t, res.launch)
		assert.Equal(t, context.DeadlineExceeded, errors.Cause(res.err))
	case <-time.After(5 * time.Second):
		t.Fatal("Start still blocked after its context was done")
	}
}

func TestNewRejectsUnknownLauncher(t *testing.T) {
	_, err := New(Config{Type: "slurm"}, &fakeExecer{}, stats.NilStatsReceiver())
	assert.True(t, errs.IsConfigError(err))
}
