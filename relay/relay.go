// Package relay runs the master's completion loop: it polls the allocator for
// finished slots while copying the launcher's output into the job's sink, then
// drains whatever output remains once every slot is done.
package relay

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/mpilaunch/allocator"
	errs "github.com/twitter/mpilaunch/common/errors"
	"github.com/twitter/mpilaunch/common/stats"
	"github.com/twitter/mpilaunch/stream"
)

type State int

const (
	POLLING State = iota
	DRAINING_STDOUT
	DRAINING_STDERR
	DONE
)

func (s State) String() string {
	switch s {
	case POLLING:
		return "POLLING"
	case DRAINING_STDOUT:
		return "DRAINING_STDOUT"
	case DRAINING_STDERR:
		return "DRAINING_STDERR"
	default:
		return "DONE"
	}
}

// Source is a launcher output stream. *stream.Reader implements it.
type Source interface {
	TryRead() ([]byte, error)
	Read(p []byte) (int, error)
}

// Session is the part of allocator.Session the loop needs.
type Session interface {
	Poll(ctx context.Context) (allocator.Response, error)
	Release(ctx context.Context, id allocator.SlotID) error
}

type Config struct {
	Interval time.Duration
	// Stop as soon as every slot is done if any of them failed, leaving
	// unread launcher output behind.
	SkipDrainOnFailure bool
}

type Result struct {
	Success   bool
	Completed int
	Failed    int
	// First non-zero exit seen, nil on success.
	FirstFailure *allocator.CompletionStatus
}

// FailureLine is written into the sink for every slot that exits non-zero.
func FailureLine(c allocator.CompletionStatus) string {
	return fmt.Sprintf("Completed container with non-zero exit code %s with exit code %d\n", c.SlotID, c.ExitCode)
}

type Loop struct {
	session Session
	stdout  Source
	stderr  Source
	sink    io.Writer
	cfg     Config
	stat    stats.StatsReceiver

	dispatched map[allocator.SlotID]bool
	seen       map[allocator.SlotID]bool
	state      State
	outDone    bool
	errDone    bool
	result     Result
}

// NewLoop waits on the given dispatched slots. Completions for any other slot
// id are logged and ignored.
func NewLoop(session Session, dispatched []allocator.SlotID, stdout, stderr Source, sink io.Writer,
	cfg Config, stat stats.StatsReceiver) *Loop {
	d := make(map[allocator.SlotID]bool, len(dispatched))
	for _, id := range dispatched {
		d[id] = true
	}
	stat = stat.Scope("relay")
	stat.Gauge(stats.RelayInflightGauge).Update(int64(len(d)))
	return &Loop{
		session:    session,
		stdout:     stdout,
		stderr:     stderr,
		sink:       sink,
		cfg:        cfg,
		stat:       stat,
		dispatched: d,
		seen:       make(map[allocator.SlotID]bool),
	}
}

func (l *Loop) State() State {
	return l.state
}

// Run drives the loop to DONE. A non-nil error means the run could not be
// observed to the end (allocator, sink or ctx failure), not that a slot failed.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	for l.state != DONE {
		var err error
		switch l.state {
		case POLLING:
			err = l.pollOnce(ctx)
		case DRAINING_STDOUT:
			err = l.drain(l.stdout, &l.outDone)
			l.transition(DRAINING_STDERR)
		case DRAINING_STDERR:
			err = l.drain(l.stderr, &l.errDone)
			l.transition(DONE)
		}
		if err != nil {
			return l.result, err
		}
	}
	l.result.Success = l.result.Failed == 0
	return l.result, nil
}

func (l *Loop) transition(to State) {
	log.WithFields(log.Fields{"from": l.state, "to": to}).Debug("Relay state change")
	l.state = to
}

func (l *Loop) pollOnce(ctx context.Context) error {
	l.stat.Counter(stats.RelayPollCounter).Inc(1)
	resp, err := l.session.Poll(ctx)
	if err != nil {
		return err
	}
	for _, slot := range resp.Allocated {
		// Late answers to requests placement no longer needs.
		log.WithFields(log.Fields{"slot": slot.ID, "host": slot.Host}).Info("Releasing slot allocated after placement")
		if err := l.session.Release(ctx, slot.ID); err != nil {
			return err
		}
	}
	for _, c := range resp.Completed {
		if err := l.complete(c); err != nil {
			return err
		}
	}

	if !l.outDone {
		if err := l.relayAvailable(l.stdout, &l.outDone); err != nil {
			return err
		}
	}
	if !l.errDone {
		if err := l.relayAvailable(l.stderr, &l.errDone); err != nil {
			return err
		}
	}

	if l.result.Completed >= len(l.dispatched) {
		log.WithFields(log.Fields{"completed": l.result.Completed, "failed": l.result.Failed}).Info("All slots completed")
		if l.cfg.SkipDrainOnFailure && l.result.Failed > 0 {
			l.transition(DONE)
		} else {
			l.transition(DRAINING_STDOUT)
		}
		return nil
	}
	return sleep(ctx, l.cfg.Interval)
}

func (l *Loop) complete(c allocator.CompletionStatus) error {
	fields := log.Fields{"slot": c.SlotID, "exitCode": c.ExitCode, "diagnostics": c.Diagnostics}
	if !l.dispatched[c.SlotID] {
		log.WithFields(fields).Info("Ignoring completion of a slot that was never dispatched")
		return nil
	}
	if l.seen[c.SlotID] {
		l.stat.Counter(stats.RelayDuplicateCompletionCounter).Inc(1)
		log.WithFields(fields).Debug("Ignoring duplicate completion")
		return nil
	}
	l.seen[c.SlotID] = true
	l.result.Completed++
	l.stat.Counter(stats.RelayCompletedCounter).Inc(1)
	l.stat.Gauge(stats.RelayInflightGauge).Update(int64(len(l.dispatched) - l.result.Completed))
	if c.ExitCode == 0 {
		log.WithFields(fields).Info("Slot completed")
		return nil
	}

	log.WithFields(fields).Error("Slot failed")
	l.stat.Counter(stats.RelayFailedCounter).Inc(1)
	l.result.Failed++
	if l.result.FirstFailure == nil {
		first := c
		l.result.FirstFailure = &first
	}
	return l.write([]byte(FailureLine(c)))
}

func (l *Loop) relayAvailable(src Source, done *bool) error {
	b, err := src.TryRead()
	if len(b) > 0 {
		if werr := l.write(b); werr != nil {
			return werr
		}
	}
	return l.endOfStream(err, done)
}

func (l *Loop) drain(src Source, done *bool) error {
	buf := make([]byte, stream.ChunkSize)
	for !*done {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := l.write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err := l.endOfStream(err, done); err != nil {
			return err
		}
	}
	return nil
}

// endOfStream marks the stream done on EOF. A broken launcher pipe ends the
// stream too, output is best effort once slots are running.
func (l *Loop) endOfStream(err error, done *bool) error {
	if err == nil {
		return nil
	}
	if err != io.EOF {
		log.WithError(err).Warn("Launcher output stream failed")
	}
	*done = true
	return nil
}

func (l *Loop) write(b []byte) error {
	if _, err := l.sink.Write(b); err != nil {
		return errs.NewError(errors.Wrap(err, "writing output sink"), errs.IOExitCode)
	}
	l.stat.Counter(stats.RelayBytesCounter).Inc(int64(len(b)))
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
