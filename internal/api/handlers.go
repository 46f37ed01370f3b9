// Package api provides the HTTP status surface of nab.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/darshan-rambhia/nab/internal/cache"
	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/darshan-rambhia/nab/internal/store"
	"github.com/darshan-rambhia/nab/templates"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/darshan-rambhia/nab/docs/swagger"
)

// Server is the HTTP server for nab.
type Server struct {
	cache      *cache.Cache
	store      *store.Store
	backupSrv  model.BackupServer
	mux        *http.ServeMux
	server     *http.Server
	now        func() time.Time
	alertLimit int
}

// NewServer creates a new HTTP server for the hosts of backupSrv.
func NewServer(addr string, c *cache.Cache, s *store.Store, backupSrv model.BackupServer) *Server {
	srv := &Server{
		cache:      c,
		store:      s,
		backupSrv:  backupSrv,
		mux:        http.NewServeMux(),
		now:        time.Now,
		alertLimit: 20,
	}

	srv.registerRoutes()

	srv.server = &http.Server{
		Addr:         addr,
		Handler:      SecurityHeadersMiddleware(RecoveryMiddleware(LoggingMiddleware(srv.mux))),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return srv
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("HTTP server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /", s.handleStatus)
	s.mux.HandleFunc("GET /fragments/runs", s.handleRunsFragment)

	s.mux.HandleFunc("GET /api/hosts", s.handleHosts)
	s.mux.HandleFunc("GET /api/hosts/{hostname}/backups", s.handleHostBackups)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/alerts", s.handleAlerts)

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}

// renderHTML renders a templ component to a buffer first, then writes the
// buffer to the response, so rendering errors still become a proper 500.
func renderHTML(w http.ResponseWriter, r *http.Request, component templ.Component) {
	var buf bytes.Buffer
	if err := component.Render(r.Context(), &buf); err != nil {
		slog.Error("rendering component", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		slog.Debug("writing HTML response", "path", r.URL.Path, "error", err)
	}
}

// writeJSON marshals v before writing anything, so marshalling errors still
// become a proper 500.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding JSON response", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		slog.Debug("writing JSON response", "path", r.URL.Path, "error", err)
	}
}

// queryLimit reads ?limit=, falling back to def outside 1..maxLimit.
func queryLimit(r *http.Request, def, maxLimit int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= maxLimit {
		return v
	}
	return def
}

// hostStatus is one element of GET /api/hosts.
type hostStatus struct {
	Host        model.Host    `json:"host"`
	LastBackup  *model.Backup `json:"last_backup,omitempty"`
	LastSuccess *model.Backup `json:"last_success,omitempty"`
}

func (s *Server) hostStatuses() ([]hostStatus, error) {
	hosts, err := s.store.ListHosts(s.backupSrv.ID)
	if err != nil {
		return nil, err
	}
	out := make([]hostStatus, 0, len(hosts))
	for _, h := range hosts {
		hs := hostStatus{Host: h}
		last, err := s.store.ListBackups(store.BackupFilter{HostID: h.ID, Limit: 1, NewestFirst: true})
		if err != nil {
			return nil, err
		}
		if len(last) == 1 {
			hs.LastBackup = &last[0]
		}
		ok, err := s.store.LastSuccessfulBackup(h.ID)
		switch {
		case err == nil:
			hs.LastSuccess = &ok
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		out = append(out, hs)
	}
	return out, nil
}

// @Summary Status page
// @Description Full HTML status page
// @Produce html
// @Success 200 {string} string "HTML page"
// @Router / [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	statuses, err := s.hostStatuses()
	if err != nil {
		slog.Error("listing host status", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	alerts, err := s.store.RecentAlerts(s.alertLimit)
	if err != nil {
		slog.Error("listing alerts", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := templates.StatusData{
		Server: s.backupSrv.Hostname,
		Now:    s.now(),
		Alerts: alerts,
		Cache:  s.cache.Snapshot(),
	}
	for _, hs := range statuses {
		data.Hosts = append(data.Hosts, templates.HostRow{Host: hs.Host, Last: hs.LastBackup, LastSuccess: hs.LastSuccess})
	}
	renderHTML(w, r, templates.StatusPage(data))
}

// @Summary Running backups fragment
// @Description Returns an HTML fragment with the runs currently in progress
// @Produce html
// @Success 200 {string} string "HTML fragment"
// @Router /fragments/runs [get]
func (s *Server) handleRunsFragment(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Snapshot()
	renderHTML(w, r, templates.RunsTable(snap.Active, s.now(), "Running"))
}

// @Summary Host list
// @Description Lists every host with its most recent backup
// @Produce json
// @Success 200 {array} hostStatus
// @Failure 500 {string} string "Internal Server Error"
// @Router /api/hosts [get]
func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.hostStatuses()
	if err != nil {
		slog.Error("listing host status", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, statuses)
}

// @Summary Host backups
// @Description Lists backup records of one host, newest first
// @Produce json
// @Param hostname path string true "Host name"
// @Param limit query int false "Maximum records (1-1000)" default(50)
// @Success 200 {array} model.Backup
// @Failure 404 {string} string "Host not found"
// @Failure 500 {string} string "Internal Server Error"
// @Router /api/hosts/{hostname}/backups [get]
func (s *Server) handleHostBackups(w http.ResponseWriter, r *http.Request) {
	host, err := s.store.HostByName(r.PathValue("hostname"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Host not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("reading host", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	backups, err := s.store.ListBackups(store.BackupFilter{
		HostID:      host.ID,
		Limit:       queryLimit(r, 50, 1000),
		NewestFirst: true,
	})
	if err != nil {
		slog.Error("listing backups", "host", host.Hostname, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, r, backups)
}

// runsResponse is the response body for GET /api/runs.
type runsResponse struct {
	Active   []*model.Run `json:"active"`
	Finished []*model.Run `json:"finished"`
}

// @Summary Harness runs
// @Description Returns active and recently finished harness runs
// @Produce json
// @Success 200 {object} runsResponse
// @Router /api/runs [get]
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Snapshot()
	writeJSON(w, r, runsResponse{Active: snap.Active, Finished: snap.Finished})
}

// @Summary Alert log
// @Description Returns the most recent alert log entries
// @Produce json
// @Param limit query int false "Maximum entries (1-500)" default(50)
// @Success 200 {array} model.Alert
// @Failure 500 {string} string "Internal Server Error"
// @Router /api/alerts [get]
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.store.RecentAlerts(queryLimit(r, 50, 500))
	if err != nil {
		slog.Error("listing alerts", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, r, alerts)
}

// @Summary Health check
// @Description Returns service health status and loop tick times
// @Produce json
// @Success 200 {object} map[string]interface{} "Health status"
// @Router /healthz [get]
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.cache.Snapshot()
	now := s.now()

	status := "ok"
	if len(snap.LastPoll) == 0 {
		status = "no_data"
	}

	loops := make(map[string]string, len(snap.LastPoll))
	for k, v := range snap.LastPoll {
		loops[k] = fmt.Sprintf("%ds ago", int(now.Sub(v).Seconds()))
	}
	writeJSON(w, r, map[string]any{
		"status":    status,
		"server":    s.backupSrv.Hostname,
		"timestamp": now.Unix(),
		"running":   len(snap.Active),
		"loops":     loops,
	})
}
