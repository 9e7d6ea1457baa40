// Package stream turns a blocking io.Reader, like a subprocess pipe, into one
// that can be polled without blocking. A dedicated goroutine reads chunks into
// a bounded channel. Consumers choose per call between a blocking Read or
// ReadLine and a non-blocking TryRead.
package stream

import (
	"bytes"
	"io"
)

// ChunkSize bounds every chunk handed out by TryRead.
const ChunkSize = 4096

// Chunks buffered ahead of the consumer before the reader goroutine blocks.
const DefaultDepth = 64

type Reader struct {
	ch      chan []byte
	err     error // set before ch is closed
	pending []byte
}

func NewReader(r io.Reader) *Reader {
	return NewReaderDepth(r, DefaultDepth)
}

func NewReaderDepth(r io.Reader, depth int) *Reader {
	s := &Reader{ch: make(chan []byte, depth)}
	go s.fill(r)
	return s
}

func (s *Reader) fill(r io.Reader) {
	for {
		buf := make([]byte, ChunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			s.ch <- buf[:n]
		}
		if err != nil {
			s.err = err
			close(s.ch)
			return
		}
	}
}

// finalErr is only valid once ch is closed.
func (s *Reader) finalErr() error {
	if s.err == nil || s.err == io.EOF {
		return io.EOF
	}
	return s.err
}

// TryRead returns at most ChunkSize bytes if any are ready, (nil, nil) if none are,
// and io.EOF (or the underlying read error) once the stream is exhausted.
func (s *Reader) TryRead() ([]byte, error) {
	if len(s.pending) > 0 {
		return s.takePending(ChunkSize), nil
	}
	select {
	case b, ok := <-s.ch:
		if !ok {
			return nil, s.finalErr()
		}
		return b, nil
	default:
		return nil, nil
	}
}

// Read blocks until at least one byte is available or the stream ends.
func (s *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(s.pending) == 0 {
		b, ok := <-s.ch
		if !ok {
			return 0, s.finalErr()
		}
		s.pending = b
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// ReadLine blocks for the next newline terminated line, returned without its
// line ending. A final unterminated line is returned as is. Bytes after the
// line stay buffered for later reads.
func (s *Reader) ReadLine() (string, error) {
	for {
		if idx := bytes.IndexByte(s.pending, '\n'); idx >= 0 {
			line := s.pending[:idx]
			s.pending = s.pending[idx+1:]
			return string(bytes.TrimSuffix(line, []byte("\r"))), nil
		}
		b, ok := <-s.ch
		if !ok {
			if len(s.pending) > 0 {
				return string(s.takePending(len(s.pending))), nil
			}
			return "", s.finalErr()
		}
		s.pending = append(s.pending, b...)
	}
}

func (s *Reader) takePending(max int) []byte {
	n := len(s.pending)
	if n > max {
		n = max
	}
	out := s.pending[:n]
	s.pending = s.pending[n:]
	return out
}
