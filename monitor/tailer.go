// Package monitor follows a job's output file in the durable filesystem.
package monitor

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/mpilaunch/dfs"
)

const (
	DefaultInterval = 100 * time.Millisecond
	BufferSize      = 1 << 20
	drainTries      = 5
)

// Tailer copies bytes appended to a dfs file into out, tracking its own
// offset. The file need not exist yet.
type Tailer struct {
	fs       dfs.FileSystem
	path     string
	out      io.Writer
	interval time.Duration

	src    dfs.Source
	offset int64
	buf    []byte
}

func NewTailer(fs dfs.FileSystem, path string, out io.Writer, interval time.Duration) *Tailer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tailer{fs: fs, path: path, out: out, interval: interval, buf: make([]byte, BufferSize)}
}

func (t *Tailer) Offset() int64 {
	return t.offset
}

// Poll copies up to BufferSize new bytes and reports how many it copied.
func (t *Tailer) Poll() (int, error) {
	if t.src == nil {
		src, err := t.fs.Open(t.path)
		if os.IsNotExist(errors.Cause(err)) {
			return 0, nil
		} else if err != nil {
			return 0, err
		}
		t.src = src
	}
	n, err := t.src.ReadAt(t.buf, t.offset)
	if n > 0 {
		if _, werr := t.out.Write(t.buf[:n]); werr != nil {
			return 0, werr
		}
		t.offset += int64(n)
	}
	if err != nil && err != io.EOF {
		t.reset()
		return n, err
	}
	return n, nil
}

// reset drops the open source so the next Poll reopens the file at the same offset.
func (t *Tailer) reset() {
	if t.src != nil {
		t.src.Close()
		t.src = nil
	}
}

// Follow polls every interval until ctx is done, then drains what's left.
func (t *Tailer) Follow(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return t.Drain()
		case <-ticker.C:
		}
		if _, err := t.Poll(); err != nil {
			log.WithError(err).Warnf("Tailing %s failed, will reopen", t.path)
		}
	}
}

// Drain polls until a poll finds nothing new, retrying failures with backoff.
func (t *Tailer) Drain() error {
	defer t.reset()
	return backoff.Retry(func() error {
		for {
			n, err := t.Poll()
			if err != nil {
				log.WithError(err).Warnf("Draining %s", t.path)
				return err
			}
			if n == 0 {
				return nil
			}
		}
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(t.interval), drainTries))
}
