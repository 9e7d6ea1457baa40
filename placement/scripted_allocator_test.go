package placement

import (
	"context"
	"fmt"

	"github.com/twitter/mpilaunch/allocator"
)

// scriptedAllocator hands out the hosts in script, one batch per poll. Once
// the script runs out it fills pending requests round robin over fallback.
type scriptedAllocator struct {
	script   [][]string
	fallback []string

	next     int
	requests int
	polls    int
	handed   []allocator.Slot
	released []allocator.SlotID
	// Release fails for these ids.
	failRelease map[allocator.SlotID]bool
}

func (a *scriptedAllocator) Register(ctx context.Context) error { return nil }

func (a *scriptedAllocator) AddRequest(ctx context.Context, shape allocator.Resource, priority int) error {
	a.requests++
	return nil
}

func (a *scriptedAllocator) Poll(ctx context.Context, seq int) (allocator.Response, error) {
	if seq != a.polls {
		return allocator.Response{}, fmt.Errorf("poll seq %d, expected %d", seq, a.polls)
	}
	a.polls++
	var hosts []string
	if len(a.script) > 0 {
		hosts, a.script = a.script[0], a.script[1:]
	} else if len(a.fallback) > 0 && a.requests > 0 {
		hosts = []string{a.fallback[a.next%len(a.fallback)]}
		a.next++
	}
	var resp allocator.Response
	for _, h := range hosts {
		s := allocator.Slot{ID: allocator.SlotID(fmt.Sprintf("slot-%d", len(a.handed))), Host: h}
		a.handed = append(a.handed, s)
		resp.Allocated = append(resp.Allocated, s)
	}
	if a.requests > 0 {
		a.requests--
	}
	return resp, nil
}

func (a *scriptedAllocator) Release(ctx context.Context, id allocator.SlotID) error {
	a.released = append(a.released, id)
	if a.failRelease[id] {
		return fmt.Errorf("release %s refused", id)
	}
	return nil
}

func (a *scriptedAllocator) Unregister(ctx context.Context, status allocator.FinalStatus, msg string) error {
	return nil
}

func batches(hosts ...string) [][]string {
	out := make([][]string, len(hosts))
	for i, h := range hosts {
		if h != "" {
			out[i] = []string{h}
		}
	}
	return out
}
