// Package temp makes hierarchical temporary directories.
// It offers the same interface as ioutil, but recursive. Hostfiles, node
// sandboxes and local cluster state all live under one of these.
package temp

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
)

// Create a new TempDir in directory dir with prefix string.
func NewTempDir(dir, prefix string) (*TempDir, error) {
	p, err := ioutil.TempDir(dir, prefix)
	if err != nil {
		return nil, err
	}
	return &TempDir{Dir: p}, nil
}

// TempDir is a temporary directory, that may live under other temporary directories.
type TempDir struct {
	Dir string
}

// Create a new directory with a fixed name (this lets us structure our temp files)
func (d *TempDir) FixedDir(name string) (*TempDir, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		return nil, fmt.Errorf("temp.TempDir.FixedDir: Invalid name %v", name)
	}
	p := filepath.Join(d.Dir, name)
	if err := os.MkdirAll(p, 0777); err != nil {
		return nil, err
	}
	return &TempDir{p}, nil
}

// Create a new temporary directory under d
func (d *TempDir) TempDir(prefix string) (*TempDir, error) {
	p, err := ioutil.TempDir(d.Dir, prefix)
	if err != nil {
		return nil, err
	}
	return &TempDir{Dir: p}, nil
}

// Create a new temporary file under d
func (d *TempDir) TempFile(prefix string) (*os.File, error) {
	return ioutil.TempFile(d.Dir, prefix)
}

// WriteTempFile creates a temporary file under d holding data and returns its path.
func (d *TempDir) WriteTempFile(prefix string, data []byte) (string, error) {
	f, err := d.TempFile(prefix)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", err
	}
	return f.Name(), f.Close()
}

func (d *TempDir) Cleanup() error {
	return os.RemoveAll(d.Dir)
}

// TempDirDefault creates a TempDir rooted in the default temp dir
func TempDirDefault() (*TempDir, error) {
	tmpDir, err := ioutil.TempDir("", "mpilaunch-tmp-")
	if err != nil {
		return nil, fmt.Errorf("temp.TempDirDefault: couldn't ioutil.TempDir: %v", err)
	}
	return &TempDir{tmpDir}, err
}
