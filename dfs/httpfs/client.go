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

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/mpilaunch/dfs"
)

const DefaultHttpTries = 7 // ~2min total of trying with exponential backoff

func MakePesterClient() *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = DefaultHttpTries
	client.LogHook = func(e pester.ErrEntry) {
		log.Errorf("Retrying after failed attempt: %+v", e)
	}
	return client
}

type Client interface {
	Do(req *http.Request) (resp *http.Response, err error)
}

// FileSystem talks to a Server mounted at rootURI.
type FileSystem struct {
	rootURI string
	client  Client
}

// New points at a server, e.g. "http://host:9094/dfs/".
func New(rootURI string) *FileSystem {
	return NewCustom(rootURI, MakePesterClient())
}

func NewCustom(rootURI string, client Client) *FileSystem {
	if !strings.HasSuffix(rootURI, "/") {
		rootURI = rootURI + "/"
	}
	log.Infof("Making new http dfs with root URI: %s", rootURI)
	return &FileSystem{rootURI: rootURI, client: client}
}

func (fs *FileSystem) Root() string {
	return fs.rootURI
}

func (fs *FileSystem) uri(p string) string {
	return fs.rootURI + dfs.Join(p)
}

func (fs *FileSystem) do(method, uri string, body []byte, header http.Header) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, uri, r)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return fs.client.Do(req)
}

func statusErr(resp *http.Response, uri string) error {
	msg, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusNotFound {
		return &os.PathError{Op: "open", Path: uri, Err: os.ErrNotExist}
	}
	return fmt.Errorf("%s %s: %s", uri, resp.Status, strings.TrimSpace(string(msg)))
}

func (fs *FileSystem) Append(p string) (dfs.Sink, error) {
	return &remoteSink{fs: fs, uri: fs.uri(p)}, nil
}

func (fs *FileSystem) Open(p string) (dfs.Source, error) {
	src := &remoteSource{fs: fs, uri: fs.uri(p)}
	if _, err := src.Size(); err != nil {
		return nil, err
	}
	return src, nil
}

func (fs *FileSystem) Exists(p string) (bool, error) {
	_, err := (&remoteSource{fs: fs, uri: fs.uri(p)}).Size()
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Put buffers r so a retried request can resend it.
func (fs *FileSystem) Put(p string, r io.Reader) error {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	uri := fs.uri(p)
	log.Infof("Putting %s: length: %d", uri, len(data))
	resp, err := fs.do("PUT", uri, data, nil)
	if err != nil {
		return errors.Wrapf(err, "put %s", uri)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusErr(resp, uri)
	}
	return nil
}

// remoteSink sends the offset it expects with every append, so a retry of an
// append that did reach the server is not applied twice.
type remoteSink struct {
	fs     *FileSystem
	uri    string
	offset int64
	sized  bool
}

func (s *remoteSink) Write(b []byte) (int, error) {
	if !s.sized {
		size, err := (&remoteSource{fs: s.fs, uri: s.uri}).Size()
		if os.IsNotExist(err) {
			size, err = 0, nil
		}
		if err != nil {
			return 0, err
		}
		s.offset, s.sized = size, true
	}
	header := http.Header{AppendOffsetHeader: {strconv.FormatInt(s.offset, 10)}}
	resp, err := s.fs.do("POST", s.uri, b, header)
	if err != nil {
		return 0, errors.Wrapf(err, "append %s", s.uri)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, statusErr(resp, s.uri)
	}
	s.offset += int64(len(b))
	return len(b), nil
}

func (s *remoteSink) Close() error {
	return nil
}

type remoteSource struct {
	fs  *FileSystem
	uri string
}

func (s *remoteSource) Size() (int64, error) {
	resp, err := s.fs.do("HEAD", s.uri, nil, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", s.uri)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, statusErr(resp, s.uri)
	}
	return resp.ContentLength, nil
}

func (s *remoteSource) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	rng := http.Header{"Range": {fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)}}
	resp, err := s.fs.do("GET", s.uri, nil, rng)
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", s.uri)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	default:
		return 0, statusErr(resp, s.uri)
	}
	n, err := io.ReadFull(resp.Body, p)
	if err == io.ErrUnexpectedEOF || (err == io.EOF && n == 0) {
		err = io.EOF
	}
	return n, err
}

func (s *remoteSource) Close() error {
	return nil
}
