// Package allocator describes the cluster collaborators the master talks to:
// the resource allocator that leases slots, and the node agent that starts a
// command inside a leased slot.
package allocator

import (
	"context"
	"fmt"

	"github.com/twitter/mpilaunch/topology"
)

//go:generate mockgen -source=allocator.go -package=allocator -destination=allocator_mock.go

type SlotID string

// Resource is the shape of a slot.
type Resource = topology.Resource

// Slot is a leased execution unit on one host.
type Slot struct {
	ID       SlotID
	Host     string
	Resource Resource
}

func (s Slot) String() string {
	return fmt.Sprintf("%s@%s", s.ID, s.Host)
}

// CompletionStatus reports that a dispatched slot finished.
type CompletionStatus struct {
	SlotID      SlotID
	ExitCode    int
	Diagnostics string
}

// Response to one Poll: newly allocated slots plus slots that completed since the last poll.
type Response struct {
	Allocated []Slot
	Completed []CompletionStatus
}

type FinalStatus int

const (
	SUCCEEDED FinalStatus = iota
	FAILED
)

func (s FinalStatus) String() string {
	if s == SUCCEEDED {
		return "SUCCEEDED"
	}
	return "FAILED"
}

// Allocator leases slots. Every call is made from the master's single control loop.
type Allocator interface {
	Register(ctx context.Context) error
	// Ask for one more slot of the given shape. Answered by a later Poll.
	AddRequest(ctx context.Context, shape Resource, priority int) error
	// seq must increase by one on every call.
	Poll(ctx context.Context, seq int) (Response, error)
	Release(ctx context.Context, id SlotID) error
	Unregister(ctx context.Context, status FinalStatus, message string) error
}

// LogDirVar is replaced by the node agent with the slot's log directory.
const LogDirVar = "<LOG_DIR>"

// LocalResource is a durable filesystem file localized into the slot's working directory as Name.
type LocalResource struct {
	Name string
	Path string
	Size int64
}

// LaunchContext is everything a node agent needs to start a slot's command.
type LaunchContext struct {
	// A shell command line, may reference LogDirVar.
	Command   string
	Resources []LocalResource
	Env       map[string]string
}

// NodeAgent starts commands in leased slots. Start doesn't wait for the command,
// its completion is reported through Allocator.Poll.
type NodeAgent interface {
	Start(ctx context.Context, slot Slot, launch LaunchContext) error
}
