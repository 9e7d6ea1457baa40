// Package httpfs exposes a dfs.FileSystem over HTTP, and implements
// dfs.FileSystem against such a server.
//
//	PUT  /dfs/<path>    replace the file with the body
//	POST /dfs/<path>    append the body, durable before the response. With an
//	                    X-Dfs-Append-Offset header the file must be that long
//	                    first, or already hold the body at that offset.
//	GET  /dfs/<path>    read, honoring Range
//	HEAD /dfs/<path>    exists and size
package httpfs

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/mpilaunch/common/stats"
	"github.com/twitter/mpilaunch/dfs"
)

const Prefix = "/dfs/"

// AppendOffsetHeader is the size a file must have before an append.
const AppendOffsetHeader = "X-Dfs-Append-Offset"

type Server struct {
	fs   dfs.FileSystem
	stat stats.StatsReceiver
	// Serializes appends so offset checks hold until the write.
	appendMu sync.Mutex
}

func MakeServer(fs dfs.FileSystem, stat stats.StatsReceiver) *Server {
	return &Server{fs: fs, stat: stat.Scope("dfs")}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.stat.Counter(stats.DFSRequestCounter).Inc(1)
	name := strings.TrimPrefix(req.URL.Path, Prefix)
	if name == "" || strings.HasSuffix(name, "/") {
		s.fail(w, fmt.Sprintf("not a file: %q", req.URL.Path), http.StatusBadRequest)
		return
	}
	switch req.Method {
	case "PUT":
		s.handlePut(w, req, name)
	case "POST":
		s.handleAppend(w, req, name)
	case "HEAD", "GET":
		s.handleRead(w, req, name)
	default:
		s.fail(w, "only support PUT, POST, HEAD and GET", http.StatusMethodNotAllowed)
	}
}

func (s *Server) fail(w http.ResponseWriter, msg string, code int) {
	s.stat.Counter(stats.DFSRequestErrCounter).Inc(1)
	http.Error(w, msg, code)
}

func (s *Server) handlePut(w http.ResponseWriter, req *http.Request, name string) {
	log.Infof("Putting %s", name)
	if err := s.fs.Put(name, req.Body); err != nil {
		s.fail(w, fmt.Sprintf("Error writing %s: %s", name, err), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "Successfully wrote %s\n", name)
}

// handleAppend reads the whole body before writing, so a failed request never
// leaves part of it behind.
func (s *Server) handleAppend(w http.ResponseWriter, req *http.Request, name string) {
	data, err := ioutil.ReadAll(req.Body)
	if err != nil {
		s.fail(w, fmt.Sprintf("Error reading body for %s: %s", name, err), http.StatusBadRequest)
		return
	}
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if h := req.Header.Get(AppendOffsetHeader); h != "" {
		off, err := strconv.ParseInt(h, 10, 64)
		if err != nil || off < 0 {
			s.fail(w, fmt.Sprintf("bad %s %q", AppendOffsetHeader, h), http.StatusBadRequest)
			return
		}
		done, err := s.appended(name, off, data)
		if err != nil {
			s.fail(w, fmt.Sprintf("Error appending to %s: %s", name, err), http.StatusConflict)
			return
		}
		if done {
			log.Infof("Append of %d bytes at %d to %s was already applied", len(data), off, name)
			return
		}
	}

	sink, err := s.fs.Append(name)
	if err != nil {
		s.fail(w, fmt.Sprintf("Error opening %s: %s", name, err), http.StatusInternalServerError)
		return
	}
	defer sink.Close()
	if _, err := sink.Write(data); err != nil {
		s.fail(w, fmt.Sprintf("Error appending to %s: %s", name, err), http.StatusInternalServerError)
		return
	}
	log.Debugf("Appended %d bytes to %s", len(data), name)
}

// appended reports whether data already sits at off, as after a retried
// request whose response was lost. It fails unless name is exactly off bytes
// long or holds data at off.
func (s *Server) appended(name string, off int64, data []byte) (bool, error) {
	src, err := s.fs.Open(name)
	if os.IsNotExist(err) {
		if off == 0 {
			return false, nil
		}
		return false, fmt.Errorf("expected %d bytes, file doesn't exist", off)
	} else if err != nil {
		return false, err
	}
	defer src.Close()
	size, err := src.Size()
	if err != nil {
		return false, err
	}
	if size == off {
		return false, nil
	}
	if size == off+int64(len(data)) {
		have := make([]byte, len(data))
		if _, err := src.ReadAt(have, off); err != nil && err != io.EOF {
			return false, err
		}
		if bytes.Equal(have, data) {
			return true, nil
		}
	}
	return false, fmt.Errorf("expected %d bytes, found %d", off, size)
}

func (s *Server) handleRead(w http.ResponseWriter, req *http.Request, name string) {
	src, err := s.fs.Open(name)
	if os.IsNotExist(err) {
		http.NotFound(w, req)
		return
	} else if err != nil {
		s.fail(w, fmt.Sprintf("Error opening %s: %s", name, err), http.StatusInternalServerError)
		return
	}
	defer src.Close()
	size, err := src.Size()
	if err != nil {
		s.fail(w, fmt.Sprintf("Error sizing %s: %s", name, err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, req, name, time.Time{}, io.NewSectionReader(src, 0, size))
}
