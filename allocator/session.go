package allocator

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	errs "github.com/twitter/mpilaunch/common/errors"
)

// Session wraps an Allocator for one master run. It owns the poll sequence
// token and holds completions seen while only allocations were wanted, so
// none are lost between placement and the relay loop.
type Session struct {
	alloc   Allocator
	seq     int
	pending []CompletionStatus
}

func NewSession(alloc Allocator) *Session {
	return &Session{alloc: alloc}
}

// Seq is the token the next Poll will use.
func (s *Session) Seq() int {
	return s.seq
}

func (s *Session) Register(ctx context.Context) error {
	return allocErr(s.alloc.Register(ctx), "register")
}

func (s *Session) AddRequest(ctx context.Context, shape Resource, priority int) error {
	return allocErr(s.alloc.AddRequest(ctx, shape, priority), "add request")
}

func (s *Session) Release(ctx context.Context, id SlotID) error {
	return allocErr(s.alloc.Release(ctx, id), "release "+string(id))
}

func (s *Session) Unregister(ctx context.Context, status FinalStatus, message string) error {
	return allocErr(s.alloc.Unregister(ctx, status, message), "unregister")
}

// Poll returns newly allocated slots and every completion not yet returned.
func (s *Session) Poll(ctx context.Context) (Response, error) {
	resp, err := s.poll(ctx)
	if err != nil {
		return resp, err
	}
	if len(s.pending) > 0 {
		resp.Completed = append(s.pending, resp.Completed...)
		s.pending = nil
	}
	return resp, nil
}

// PollAllocated returns only newly allocated slots, deferring completions to the next Poll.
func (s *Session) PollAllocated(ctx context.Context) ([]Slot, error) {
	resp, err := s.poll(ctx)
	if err != nil {
		return nil, err
	}
	if len(resp.Completed) > 0 {
		log.WithFields(log.Fields{
			"seq":         s.seq - 1,
			"completions": len(resp.Completed),
		}).Debug("Deferring completions seen during placement")
		s.pending = append(s.pending, resp.Completed...)
	}
	return resp.Allocated, nil
}

func (s *Session) poll(ctx context.Context) (Response, error) {
	seq := s.seq
	s.seq++
	resp, err := s.alloc.Poll(ctx, seq)
	return resp, allocErr(err, "poll")
}

func allocErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Cause(err) == context.Canceled || errors.Cause(err) == context.DeadlineExceeded {
		return err
	}
	return errs.NewError(errors.Wrapf(err, "allocator %s", op), errs.AllocatorExitCode)
}
