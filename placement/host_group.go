package placement

import (
	"fmt"
	"strings"

	"github.com/twitter/mpilaunch/allocator"
)

// HostGroup maps each host to the ordered slots accepted on it. Only the
// placement engine mutates it. Once finalized it is read only.
type HostGroup struct {
	hosts     []string
	byHost    map[string][]allocator.Slot
	finalized bool
}

func NewHostGroup() *HostGroup {
	return &HostGroup{byHost: make(map[string][]allocator.Slot)}
}

// GroupOf builds a finalized group from slots already placed elsewhere,
// e.g. recovered from a previous attempt.
func GroupOf(slots ...allocator.Slot) *HostGroup {
	g := NewHostGroup()
	for _, s := range slots {
		g.add(s)
	}
	g.Finalize()
	return g
}

func (g *HostGroup) add(slot allocator.Slot) int {
	g.mustBeOpen()
	if _, ok := g.byHost[slot.Host]; !ok {
		g.hosts = append(g.hosts, slot.Host)
	}
	g.byHost[slot.Host] = append(g.byHost[slot.Host], slot)
	return len(g.byHost[slot.Host])
}

func (g *HostGroup) removeHost(host string) []allocator.Slot {
	g.mustBeOpen()
	slots := g.byHost[host]
	delete(g.byHost, host)
	for i, h := range g.hosts {
		if h == host {
			g.hosts = append(g.hosts[:i], g.hosts[i+1:]...)
			break
		}
	}
	return slots
}

// trim drops the earliest acquired slots on host so that keep remain.
func (g *HostGroup) trim(host string, keep int) []allocator.Slot {
	g.mustBeOpen()
	slots := g.byHost[host]
	if len(slots) <= keep {
		return nil
	}
	excess := len(slots) - keep
	dropped := append([]allocator.Slot(nil), slots[:excess]...)
	g.byHost[host] = append([]allocator.Slot(nil), slots[excess:]...)
	return dropped
}

func (g *HostGroup) mustBeOpen() {
	if g.finalized {
		panic("placement: HostGroup modified after Finalize")
	}
}

func (g *HostGroup) Finalize() {
	g.finalized = true
}

func (g *HostGroup) Finalized() bool {
	return g.finalized
}

func (g *HostGroup) Has(host string) bool {
	_, ok := g.byHost[host]
	return ok
}

// Hosts in the order they first received a slot.
func (g *HostGroup) Hosts() []string {
	return append([]string(nil), g.hosts...)
}

func (g *HostGroup) SlotsOn(host string) []allocator.Slot {
	return append([]allocator.Slot(nil), g.byHost[host]...)
}

// Slots in finalization order: hosts in Hosts() order, and within a host
// in acquisition order. Launch protocols that address slots positionally
// rely on this order.
func (g *HostGroup) Slots() []allocator.Slot {
	var out []allocator.Slot
	for _, h := range g.hosts {
		out = append(out, g.byHost[h]...)
	}
	return out
}

func (g *HostGroup) NumHosts() int {
	return len(g.hosts)
}

func (g *HostGroup) NumSlots() int {
	n := 0
	for _, s := range g.byHost {
		n += len(s)
	}
	return n
}

func (g *HostGroup) String() string {
	parts := make([]string, 0, len(g.hosts))
	for _, h := range g.hosts {
		parts = append(parts, fmt.Sprintf("%s:%d", h, len(g.byHost[h])))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

