package endpoints

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/twitter/mpilaunch/common/stats"
)

// Admin connections are few; anything past this queues in the kernel.
const maxAdminConns = 16

func NewTwitterServer(addr string, stats stats.StatsReceiver) *TwitterServer {
	s := &TwitterServer{
		Addr:  addr,
		Stats: stats,
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("/", helpHandler)
	s.mux.HandleFunc("/health", healthHandler)
	s.mux.HandleFunc("/admin/metrics.json", s.statsHandler)
	return s
}

// TwitterServer serves /health and /admin/metrics.json plus whatever else is mounted with Handle.
type TwitterServer struct {
	Addr  string
	Stats stats.StatsReceiver
	mux   *http.ServeMux
}

func (s *TwitterServer) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *TwitterServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve listens on Addr and blocks until the listener fails.
func (s *TwitterServer) Serve() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ln)
}

func (s *TwitterServer) ServeListener(ln net.Listener) error {
	log.Infof("Serving http & stats on %s", ln.Addr())
	server := &http.Server{Handler: s, ReadTimeout: 30 * time.Second}
	return server.Serve(netutil.LimitListener(ln, maxAdminConns))
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Error(w, "Common paths: '/health', '/admin/metrics.json'", http.StatusNotImplemented)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

func (s *TwitterServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	const contentTypeHdr = "Content-Type"
	const contentTypeVal = "application/json; charset=utf-8"
	w.Header().Set(contentTypeHdr, contentTypeVal)

	pretty := r.URL.Query().Get("pretty") == "true"
	str := s.Stats.Render(pretty)
	if _, err := io.Copy(w, bytes.NewBuffer(str)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

type StatScope string

func MakeStatsReceiver(scope StatScope) stats.StatsReceiver {
	return stats.DefaultStatsReceiver().Scope(string(scope))
}
