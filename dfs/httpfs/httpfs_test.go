package httpfs

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sethgrid/pester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/mpilaunch/common/stats"
	"github.com/twitter/mpilaunch/dfs"
	"github.com/twitter/mpilaunch/dfs/local"
	"github.com/twitter/mpilaunch/os/temp"
)

func setup(t *testing.T) (*FileSystem, *local.FileSystem, stats.StatsReceiver, func()) {
	tmp, err := temp.TempDirDefault()
	require.NoError(t, err)
	backing, err := local.New(tmp.Dir)
	require.NoError(t, err)

	stat := stats.NewCustomStatsReceiver(nil)
	mux := http.NewServeMux()
	mux.Handle(Prefix, MakeServer(backing, stat))
	srv := httptest.NewServer(mux)

	client := MakePesterClient()
	client.MaxRetries = 1
	fs := NewCustom(srv.URL+Prefix, client)
	return fs, backing, stat, func() {
		srv.Close()
		tmp.Cleanup()
	}
}

func TestPutAndRead(t *testing.T) {
	fs, backing, stat, cleanup := setup(t)
	defer cleanup()

	require.NoError(t, fs.Put("app/1/a.out", bytes.NewBufferString("0123456789")))
	ok, err := backing.Exists("app/1/a.out")
	require.NoError(t, err)
	assert.True(t, ok)

	src, err := fs.Open("app/1/a.out")
	require.NoError(t, err)
	size, err := src.Size()
	require.NoError(t, err)
	assert.EqualValues(t, 10, size)

	buf := make([]byte, 4)
	n, err := src.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buf[:n]))

	n, err = src.ReadAt(buf, 8)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "89", string(buf[:n]))

	n, err = src.ReadAt(buf, 10)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)

	data, err := dfs.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.True(t, stat.Scope("dfs").Counter(stats.DFSRequestCounter).Count() > 0)
}

func TestAppendGrowsFile(t *testing.T) {
	fs, backing, _, cleanup := setup(t)
	defer cleanup()

	sink, err := fs.Append("out.txt")
	require.NoError(t, err)
	_, err = sink.Write([]byte("one\n"))
	require.NoError(t, err)
	_, err = sink.Write([]byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	src, err := backing.Open("out.txt")
	require.NoError(t, err)
	defer src.Close()
	data, err := dfs.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

// lossyTransport applies the first POST but reports it as failed, like a
// response lost on the way back.
type lossyTransport struct {
	lost bool
}

func (l *lossyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err == nil && req.Method == "POST" && !l.lost {
		l.lost = true
		resp.Body.Close()
		return nil, errors.New("connection reset by peer")
	}
	return resp, err
}

func TestRetriedAppendIsNotDuplicated(t *testing.T) {
	_, backing, _, cleanup := setup(t)
	defer cleanup()
	srv := httptest.NewServer(MakeServer(backing, stats.NilStatsReceiver()))
	defer srv.Close()

	transport := &lossyTransport{}
	client := pester.NewExtendedClient(&http.Client{Transport: transport})
	client.MaxRetries = 3
	client.Backoff = func(int) time.Duration { return 0 }
	fs := NewCustom(srv.URL+Prefix, client)

	sink, err := fs.Append("out.txt")
	require.NoError(t, err)
	_, err = sink.Write([]byte("one\n"))
	require.NoError(t, err)
	assert.True(t, transport.lost)
	_, err = sink.Write([]byte("two\n"))
	require.NoError(t, err)

	src, err := backing.Open("out.txt")
	require.NoError(t, err)
	defer src.Close()
	data, err := dfs.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestAppendRejectsOffsetMismatch(t *testing.T) {
	fs, backing, _, cleanup := setup(t)
	defer cleanup()

	sink, err := fs.Append("out.txt")
	require.NoError(t, err)
	_, err = sink.Write([]byte("one\n"))
	require.NoError(t, err)

	other, err := backing.Append("out.txt")
	require.NoError(t, err)
	_, err = other.Write([]byte("interloper\n"))
	require.NoError(t, err)
	require.NoError(t, other.Close())

	_, err = sink.Write([]byte("two\n"))
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	fs, _, _, cleanup := setup(t)
	defer cleanup()

	ok, err := fs.Exists("nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fs.Open("nope")
	assert.Error(t, err)
}

func TestServerRejectsDirectories(t *testing.T) {
	tmp, err := temp.TempDirDefault()
	require.NoError(t, err)
	defer tmp.Cleanup()
	backing, err := local.New(tmp.Dir)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	MakeServer(backing, stats.NilStatsReceiver()).ServeHTTP(rec, httptest.NewRequest("GET", "/dfs/dir/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	MakeServer(backing, stats.NilStatsReceiver()).ServeHTTP(rec, httptest.NewRequest("DELETE", "/dfs/x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
