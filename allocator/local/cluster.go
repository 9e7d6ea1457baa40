// Package local simulates a cluster on this machine. Cluster is both the
// allocator, leasing slots on the hosts of a Roster, and the node agent,
// running each slot's command in its own sandbox directory.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/mpilaunch/allocator"
	"github.com/twitter/mpilaunch/dfs"
	"github.com/twitter/mpilaunch/os/temp"
	"github.com/twitter/mpilaunch/runner/execer"
)

// Exit code reported when a process's exit status couldn't be determined.
const UnknownExitCode = -1

type Config struct {
	Roster *Roster
	// Source of LaunchContext resources.
	FS     dfs.FileSystem
	Execer execer.Execer
	// Parent of the per-slot sandboxes.
	WorkDir *temp.TempDir
	// Most slots granted by one Poll, 0 for no limit.
	MaxPerPoll int
}

type lease struct {
	slot    allocator.Slot
	proc    execer.Process
	sandbox string
	// Start is preparing the sandbox or exec'ing, proc is not set yet.
	starting bool
	// Released while starting, Start aborts the process once it has one.
	released bool
}

type Cluster struct {
	cfg Config

	mu         sync.Mutex
	registered bool
	nextSeq    int
	free       map[string]int
	order      []string
	rr         int
	pending    []allocator.Resource
	leases     map[allocator.SlotID]*lease
	completed  []allocator.CompletionStatus
	running    sync.WaitGroup
}

func NewCluster(cfg Config) (*Cluster, error) {
	if err := cfg.Roster.Validate(); err != nil {
		return nil, err
	}
	free := make(map[string]int)
	for _, h := range cfg.Roster.Hosts {
		free[h.Name] = h.Slots
	}
	return &Cluster{
		cfg:    cfg,
		free:   free,
		order:  append([]string(nil), cfg.Roster.Order...),
		leases: make(map[allocator.SlotID]*lease),
	}, nil
}

func (c *Cluster) Register(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registered {
		return errors.New("already registered")
	}
	c.registered = true
	log.WithFields(log.Fields{"hosts": len(c.free), "capacity": c.cfg.Roster.Capacity()}).Info("Registered with local cluster")
	return nil
}

func (c *Cluster) AddRequest(ctx context.Context, shape allocator.Resource, priority int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.registered {
		return errors.New("not registered")
	}
	c.pending = append(c.pending, shape)
	return nil
}

func (c *Cluster) Poll(ctx context.Context, seq int) (allocator.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.registered {
		return allocator.Response{}, errors.New("not registered")
	}
	if seq != c.nextSeq {
		return allocator.Response{}, fmt.Errorf("poll sequence %d, expected %d", seq, c.nextSeq)
	}
	c.nextSeq++

	var resp allocator.Response
	for len(c.pending) > 0 && (c.cfg.MaxPerPoll == 0 || len(resp.Allocated) < c.cfg.MaxPerPoll) {
		host := c.pickHost()
		if host == "" {
			break
		}
		id, err := uuid.NewV4()
		if err != nil {
			return allocator.Response{}, err
		}
		slot := allocator.Slot{ID: allocator.SlotID(id.String()), Host: host, Resource: c.pending[0]}
		c.pending = c.pending[1:]
		c.free[host]--
		c.leases[slot.ID] = &lease{slot: slot}
		resp.Allocated = append(resp.Allocated, slot)
	}
	resp.Completed, c.completed = c.completed, nil
	return resp, nil
}

// pickHost takes the next scripted host if it has room, else the next host
// with room in roster order, round robin. Returns "" when the cluster is full.
func (c *Cluster) pickHost() string {
	if len(c.order) > 0 {
		host := c.order[0]
		if c.free[host] > 0 {
			c.order = c.order[1:]
			return host
		}
	}
	hosts := c.cfg.Roster.Hosts
	for i := 0; i < len(hosts); i++ {
		h := hosts[(c.rr+i)%len(hosts)].Name
		if c.free[h] > 0 {
			c.rr = (c.rr + i + 1) % len(hosts)
			return h
		}
	}
	return ""
}

// Release frees an idle slot, or kills the command running in it. A killed
// command still reports its completion.
func (c *Cluster) Release(ctx context.Context, id allocator.SlotID) error {
	c.mu.Lock()
	l, ok := c.leases[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown slot %s", id)
	}
	if l.starting {
		l.released = true
		c.mu.Unlock()
		return nil
	}
	if l.proc == nil {
		delete(c.leases, id)
		c.free[l.slot.Host]++
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	l.proc.Abort()
	return nil
}

// Unregister kills whatever is still running and waits for it.
func (c *Cluster) Unregister(ctx context.Context, status allocator.FinalStatus, message string) error {
	c.mu.Lock()
	if !c.registered {
		c.mu.Unlock()
		return errors.New("not registered")
	}
	c.registered = false
	var procs []execer.Process
	for _, l := range c.leases {
		if l.starting {
			l.released = true
		} else if l.proc != nil {
			procs = append(procs, l.proc)
		}
	}
	c.mu.Unlock()

	for _, p := range procs {
		p.Abort()
	}
	c.running.Wait()
	log.WithFields(log.Fields{"status": status, "message": message}).Info("Unregistered from local cluster")
	return nil
}

// Start localizes resources into a fresh sandbox and runs the command with sh.
// A Release or Unregister arriving before the process exists kills it as soon
// as it does.
func (c *Cluster) Start(ctx context.Context, slot allocator.Slot, lc allocator.LaunchContext) error {
	c.mu.Lock()
	l, ok := c.leases[slot.ID]
	switch {
	case !c.registered:
		c.mu.Unlock()
		return errors.New("not registered")
	case !ok:
		c.mu.Unlock()
		return fmt.Errorf("unknown slot %s", slot.ID)
	case l.starting || l.proc != nil:
		c.mu.Unlock()
		return fmt.Errorf("slot %s already started", slot.ID)
	}
	l.starting = true
	c.running.Add(1)
	c.mu.Unlock()

	proc, sandbox, err := c.exec(slot, lc)
	if err != nil {
		c.abandon(l)
		return err
	}
	log.WithFields(log.Fields{"slot": slot.ID, "host": slot.Host, "pid": proc.Pid()}).Info("Started slot command")

	c.mu.Lock()
	l.proc = proc
	l.sandbox = sandbox
	l.starting = false
	released := l.released
	c.mu.Unlock()
	go c.wait(l)
	if released {
		log.WithFields(log.Fields{"slot": slot.ID, "host": slot.Host}).Info("Slot released while starting, killing its command")
		proc.Abort()
	}
	return nil
}

func (c *Cluster) exec(slot allocator.Slot, lc allocator.LaunchContext) (execer.Process, string, error) {
	sandbox, err := c.cfg.WorkDir.TempDir("slot-" + slot.Host + "-")
	if err != nil {
		return nil, "", err
	}
	logDir := filepath.Join(sandbox.Dir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, "", err
	}
	for _, r := range lc.Resources {
		if err := c.localize(sandbox.Dir, r); err != nil {
			return nil, "", errors.Wrapf(err, "localizing %s", r.Name)
		}
	}

	cmd := strings.Replace(lc.Command, allocator.LogDirVar, logDir, -1)
	tags := map[string]interface{}{"slot": slot.ID, "host": slot.Host}
	log.WithFields(tags).WithField("command", cmd).Info("Starting slot command")
	proc, err := c.cfg.Execer.Exec(execer.Command{
		Argv:    []string{"sh", "-c", cmd},
		Dir:     sandbox.Dir,
		EnvVars: lc.Env,
		LogTags: tags,
	})
	if err != nil {
		return nil, "", err
	}
	return proc, sandbox.Dir, nil
}

// abandon undoes a Start that never got a process. A slot released meanwhile
// goes back to its host.
func (c *Cluster) abandon(l *lease) {
	c.mu.Lock()
	l.starting = false
	if l.released {
		delete(c.leases, l.slot.ID)
		c.free[l.slot.Host]++
	}
	c.mu.Unlock()
	c.running.Done()
}

func (c *Cluster) wait(l *lease) {
	defer c.running.Done()
	st := l.proc.Wait()
	status := allocator.CompletionStatus{SlotID: l.slot.ID, ExitCode: st.ExitCode}
	if st.State != execer.COMPLETE {
		status.ExitCode = UnknownExitCode
		status.Diagnostics = st.Error
	}
	log.WithFields(log.Fields{
		"slot":     l.slot.ID,
		"host":     l.slot.Host,
		"exitCode": status.ExitCode,
		"sandbox":  l.sandbox,
	}).Info("Slot command exited")

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.leases, l.slot.ID)
	c.free[l.slot.Host]++
	c.completed = append(c.completed, status)
}

func (c *Cluster) localize(dir string, r allocator.LocalResource) error {
	src, err := c.cfg.FS.Open(r.Path)
	if err != nil {
		return err
	}
	defer src.Close()
	size, err := src.Size()
	if err != nil {
		return err
	}
	if r.Size > 0 && size != r.Size {
		return fmt.Errorf("%s is %d bytes, expected %d", r.Path, size, r.Size)
	}

	dst := filepath.Join(dir, filepath.FromSlash(dfs.Join(r.Name)))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, io.NewSectionReader(src, 0, size)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
