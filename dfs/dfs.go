// Package dfs is the durable filesystem the launcher stages binaries into and
// the master writes job output to. Paths are slash separated and relative to
// the filesystem's root.
package dfs

import (
	"io"
	"path"
	"strings"
)

// Sink is an append-only file. Every Write is durable once it returns.
type Sink interface {
	io.Writer
	io.Closer
}

// Source is a file read by byte offset while it may still be growing.
type Source interface {
	io.ReaderAt
	io.Closer
	// Size is the current length, re-read on every call.
	Size() (int64, error)
}

type FileSystem interface {
	// Append opens path for appending, creating it and its parents if needed.
	Append(path string) (Sink, error)
	Open(path string) (Source, error)
	Exists(path string) (bool, error)
	// Put replaces path with the contents of r. Readers never see a partial file.
	Put(path string, r io.Reader) error
	Root() string
}

// Join cleans the result and strips any leading slash, so every path stays under the root.
func Join(elem ...string) string {
	return strings.TrimPrefix(path.Join(append([]string{"/"}, elem...)...), "/")
}

// ReadAll reads a complete Source from the start.
func ReadAll(src Source) ([]byte, error) {
	size, err := src.Size()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := src.ReadAt(buf, 0)
	if err == io.EOF {
		err = nil
	}
	return buf[:n], err
}
