// Package placement acquires slots from the allocator until a target topology
// is satisfied, releasing any slot the placement policy has no use for.
package placement

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/twitter/mpilaunch/allocator"
	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/common/stats"
	"github.com/twitter/mpilaunch/topology"
)

// Session is the slice of allocator.Session placement needs.
type Session interface {
	AddRequest(ctx context.Context, shape allocator.Resource, priority int) error
	PollAllocated(ctx context.Context) ([]allocator.Slot, error)
	Release(ctx context.Context, id allocator.SlotID) error
}

// Request describes the topology to acquire.
type Request struct {
	Policy topology.Policy
	// Processes under NONE, nodes under GROUP, daemons under DistinctHost.
	Count int
	// Slots per host under GROUP.
	PerNode  int
	Shape    allocator.Resource
	Priority int

	// Accept at most one slot per host, never on an Exclude host. Overrides Policy.
	DistinctHost bool
	Exclude      []string
}

type Config struct {
	// Sleep between polls that returned no slots.
	PollInterval time.Duration
	// Bound on the rate of AddRequest calls, rate.Inf for none.
	RequestRate  rate.Limit
	RequestBurst int
}

type Engine struct {
	session  Session
	interval time.Duration
	limiter  *rate.Limiter
	stat     stats.StatsReceiver
}

func NewEngine(session Session, cfg Config, stat stats.StatsReceiver) *Engine {
	if cfg.RequestRate == 0 {
		cfg.RequestRate = rate.Inf
	}
	if cfg.RequestBurst < 1 {
		cfg.RequestBurst = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = topology.DefaultPollInterval
	}
	return &Engine{
		session:  session,
		interval: cfg.PollInterval,
		limiter:  rate.NewLimiter(cfg.RequestRate, cfg.RequestBurst),
		stat:     stat.Scope("placement"),
	}
}

// Acquire blocks until req is satisfied, returning a finalized HostGroup.
// There is no timeout beyond ctx.
func (e *Engine) Acquire(ctx context.Context, req Request) (*HostGroup, error) {
	if req.Count < 1 {
		return nil, errors.Errorf("placement: invalid count %d", req.Count)
	}
	defer e.stat.Precision(time.Millisecond).Latency(stats.PlacementAcquireLatency_ms).Time().Stop()

	var g *HostGroup
	var err error
	switch {
	case req.DistinctHost:
		g, err = e.acquireDistinct(ctx, req)
	case req.Policy == topology.GROUP:
		if req.PerNode < 1 {
			return nil, errors.Errorf("placement: invalid per node count %d", req.PerNode)
		}
		g, err = e.acquireGroup(ctx, req)
	default:
		g, err = e.acquireNone(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	g.Finalize()
	e.stat.Gauge(stats.PlacementHostsGauge).Update(int64(g.NumHosts()))
	log.WithFields(log.Fields{
		"policy":   req.Policy,
		"distinct": req.DistinctHost,
		"hosts":    g.NumHosts(),
		"slots":    g.NumSlots(),
	}).Infof("Acquired slots %s", g)
	return g, nil
}

// acquireNone accepts every slot in delivery order until Count are held.
func (e *Engine) acquireNone(ctx context.Context, req Request) (*HostGroup, error) {
	g := NewHostGroup()
	accepted, outstanding := 0, 0
	for accepted < req.Count {
		for accepted+outstanding < req.Count {
			if err := e.request(ctx, req); err != nil {
				return nil, err
			}
			outstanding++
		}
		slots, err := e.poll(ctx)
		if err != nil {
			return nil, err
		}
		var redundant []allocator.Slot
		for _, s := range slots {
			outstanding = decr(outstanding)
			if accepted < req.Count {
				g.add(s)
				accepted++
				log.WithFields(log.Fields{"slot": s.ID, "host": s.Host}).Debug("Accepted slot")
			} else {
				redundant = append(redundant, s)
			}
		}
		if err := e.release(ctx, redundant, "surplus"); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// acquireGroup requests one slot at a time, bucketing by host, until Count
// hosts each hold PerNode slots, then reconciles the buckets.
func (e *Engine) acquireGroup(ctx context.Context, req Request) (*HostGroup, error) {
	g := NewHostGroup()
	satisfied, outstanding := 0, 0
	for satisfied < req.Count {
		if outstanding == 0 {
			if err := e.request(ctx, req); err != nil {
				return nil, err
			}
			outstanding++
		}
		slots, err := e.poll(ctx)
		if err != nil {
			return nil, err
		}
		var redundant []allocator.Slot
		for _, s := range slots {
			outstanding = decr(outstanding)
			if satisfied == req.Count {
				redundant = append(redundant, s)
				continue
			}
			// A full bucket still takes the slot, reconciliation trims it.
			if n := g.add(s); n == req.PerNode {
				satisfied++
				log.WithFields(log.Fields{"host": s.Host, "satisfied": satisfied}).Debug("Host group satisfied")
			}
		}
		if err := e.release(ctx, redundant, "surplus"); err != nil {
			return nil, err
		}
	}
	return g, e.reconcile(ctx, g, req.PerNode)
}

// reconcile releases every slot on hosts short of perNode, and the earliest
// acquired excess on hosts above it.
func (e *Engine) reconcile(ctx context.Context, g *HostGroup, perNode int) error {
	var redundant []allocator.Slot
	for _, h := range g.Hosts() {
		switch n := len(g.SlotsOn(h)); {
		case n < perNode:
			redundant = append(redundant, g.removeHost(h)...)
		case n > perNode:
			redundant = append(redundant, g.trim(h, perNode)...)
		}
	}
	return e.release(ctx, redundant, "redundant")
}

// acquireDistinct keeps at most one slot per host and none on excluded hosts.
func (e *Engine) acquireDistinct(ctx context.Context, req Request) (*HostGroup, error) {
	exclude := make(map[string]bool, len(req.Exclude))
	for _, h := range req.Exclude {
		exclude[h] = true
	}
	g := NewHostGroup()
	outstanding := 0
	for g.NumHosts() < req.Count {
		if outstanding == 0 {
			if err := e.request(ctx, req); err != nil {
				return nil, err
			}
			outstanding++
		}
		slots, err := e.poll(ctx)
		if err != nil {
			return nil, err
		}
		var rejected []allocator.Slot
		for _, s := range slots {
			outstanding = decr(outstanding)
			if g.NumHosts() < req.Count && !g.Has(s.Host) && !exclude[s.Host] {
				g.add(s)
				log.WithFields(log.Fields{"slot": s.ID, "host": s.Host}).Debug("Acquired slot on distinct host")
			} else {
				rejected = append(rejected, s)
			}
		}
		if err := e.release(ctx, rejected, "duplicate or excluded host"); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (e *Engine) request(ctx context.Context, req Request) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	e.stat.Counter(stats.PlacementSlotsRequestedCounter).Inc(1)
	return e.session.AddRequest(ctx, req.Shape, req.Priority)
}

// poll returns the next batch of slots, sleeping first if the previous poll
// came back empty. Zero slots is normal backpressure, not an error.
func (e *Engine) poll(ctx context.Context) ([]allocator.Slot, error) {
	slots, err := e.session.PollAllocated(ctx)
	if err != nil {
		return nil, err
	}
	e.stat.Counter(stats.PlacementSlotsAllocatedCounter).Inc(int64(len(slots)))
	if len(slots) == 0 {
		e.stat.Counter(stats.PlacementEmptyPollCounter).Inc(1)
		if err := sleep(ctx, e.interval); err != nil {
			return nil, err
		}
	}
	return slots, nil
}

func (e *Engine) release(ctx context.Context, slots []allocator.Slot, why string) error {
	var err error
	for _, s := range slots {
		log.WithFields(log.Fields{"slot": s.ID, "host": s.Host, "reason": why}).Debug("Releasing slot")
		err = multierr.Append(err, e.session.Release(ctx, s.ID))
	}
	e.stat.Counter(stats.PlacementSlotsReleasedCounter).Inc(int64(len(slots)))
	if err != nil {
		return errs.NewError(errors.Wrapf(err, "releasing %d of %d %s slots", len(multierr.Errors(err)), len(slots), why),
			errs.AllocatorExitCode)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func decr(n int) int {
	if n > 0 {
		return n - 1
	}
	return 0
}
