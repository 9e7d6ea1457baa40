// Package local is a dfs.FileSystem on a local (or network mounted) directory.
package local

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/mpilaunch/dfs"
)

type FileSystem struct {
	root string
}

// New makes a FileSystem rooted at dir, creating dir if needed.
func New(dir string) (*FileSystem, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating dfs root %s", abs)
	}
	log.Infof("Making new local dfs at dir: %s", abs)
	return &FileSystem{root: abs}, nil
}

func (fs *FileSystem) Root() string {
	return fs.root
}

func (fs *FileSystem) path(p string) string {
	return filepath.Join(fs.root, filepath.FromSlash(dfs.Join(p)))
}

func (fs *FileSystem) Append(p string) (dfs.Sink, error) {
	full := fs.path(p)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &syncedFile{f}, nil
}

func (fs *FileSystem) Open(p string) (dfs.Source, error) {
	f, err := os.Open(fs.path(p))
	if err != nil {
		return nil, err
	}
	return &fileSource{f}, nil
}

func (fs *FileSystem) Exists(p string) (bool, error) {
	_, err := os.Stat(fs.path(p))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (fs *FileSystem) Put(p string, r io.Reader) error {
	full := fs.path(p)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := ioutil.TempFile(dir, ".put-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	log.Debugf("Put %s", full)
	return os.Rename(tmp.Name(), full)
}

type syncedFile struct {
	*os.File
}

func (f *syncedFile) Write(b []byte) (int, error) {
	n, err := f.File.Write(b)
	if err != nil {
		return n, err
	}
	return n, f.File.Sync()
}

type fileSource struct {
	*os.File
}

func (f *fileSource) Size() (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
