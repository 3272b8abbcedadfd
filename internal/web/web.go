package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"taskcal/internal/agenda"
	"taskcal/internal/config"
	"taskcal/internal/gcal"
	"taskcal/internal/linker"
	appLog "taskcal/internal/log"
	"taskcal/internal/metrics"
	"taskcal/internal/model"
	"taskcal/internal/monthcache"
)

const maxBodyBytes = 1 << 20

// Agenda is the service surface the HTTP API exposes.
type Agenda interface {
	Tasks() []model.Task
	Task(id string) (model.Task, bool)
	SaveTask(ctx context.Context, t model.Task) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	LinkState(id string) linker.State
	Pull(ctx context.Context) (gcal.PullResult, error)
	LastPull() time.Time
	Month(ctx context.Context, scope string, month model.YearMonth) (agenda.MonthView, error)
}

// Server serves the task and month API.
type Server struct {
	cfg *config.Config
	svc Agenda
	loc *time.Location
	mux *http.ServeMux
}

func NewServer(cfg *config.Config, svc Agenda) *Server {
	s := &Server{
		cfg: cfg,
		svc: svc,
		loc: cfg.Location(),
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the mux, wrapped with basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

// WithMetrics exposes m on GET /metrics. Basic auth, when enabled, covers
// it like the API.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	if m != nil {
		s.mux.Handle("GET /metrics", m.Handler())
	}
	return s
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("stopping HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="taskcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/month", s.handleMonth)
	s.mux.HandleFunc("POST /api/sync", s.handleSync)
	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("PUT /api/tasks/{id}", s.handleUpdateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleMonth serves GET /api/month?month=YYYY-MM[&view=name]. The current
// month is used when month is omitted.
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	month := model.MonthOf(time.Now().In(s.loc))
	if raw := q.Get("month"); raw != "" {
		m, err := model.ParseYearMonth(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		month = m
	}

	view, err := s.svc.Month(r.Context(), q.Get("view"), month)
	if err != nil {
		s.fail(w, "month", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type syncResponse struct {
	Full     bool      `json:"full"`
	Events   int       `json:"events"`
	Deleted  int       `json:"deleted"`
	Skipped  int       `json:"skipped"`
	LastPull time.Time `json:"lastPull"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Pull(r.Context())
	if err != nil {
		s.fail(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		Full:     res.Full,
		Events:   len(res.Events),
		Deleted:  len(res.Deleted),
		Skipped:  res.Skipped,
		LastPull: s.svc.LastPull(),
	})
}

type taskResponse struct {
	Task      model.Task `json:"task"`
	Link      string     `json:"link"`
	SyncError string     `json:"syncError,omitempty"`
}

func (s *Server) taskView(t model.Task) taskResponse {
	return taskResponse{Task: t, Link: s.svc.LinkState(t.ID).String()}
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	tasks := s.svc.Tasks()
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, s.taskView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.svc.Task(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, s.taskView(t))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	t, ok := decodeTask(w, r)
	if !ok {
		return
	}
	if t.ID != "" {
		if _, exists := s.svc.Task(t.ID); exists {
			writeError(w, http.StatusConflict, "task already exists")
			return
		}
	}
	s.save(w, r, t, http.StatusCreated)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.svc.Task(id); !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	t, ok := decodeTask(w, r)
	if !ok {
		return
	}
	t.ID = id
	s.save(w, r, t, http.StatusOK)
}

// save writes the task and reports a remote failure next to the saved task.
func (s *Server) save(w http.ResponseWriter, r *http.Request, t model.Task, okStatus int) {
	saved, err := s.svc.SaveTask(r.Context(), t)
	if err != nil && saved.ID == "" {
		s.fail(w, "save task", err)
		return
	}
	resp := s.taskView(saved)
	status := okStatus
	if err != nil {
		resp.SyncError = err.Error()
		status = statusFor(err)
		appLog.Warn("task saved locally; remote sync failed", "task", saved.ID, "status", status)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeTask(w http.ResponseWriter, r *http.Request) (model.Task, bool) {
	var t model.Task
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task body")
		return model.Task{}, false
	}
	return t, true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api "+op+" failed", err, "status", status)
	} else {
		appLog.Debug("api "+op+" rejected", "status", status, "err", err)
	}
	writeError(w, status, err.Error())
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	var gerr *gcal.Error
	switch {
	case errors.Is(err, agenda.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, agenda.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, agenda.ErrSyncDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, monthcache.ErrStale):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, gcal.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, gcal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gcal.ErrTransient), errors.Is(err, gcal.ErrCursorInvalid), errors.As(err, &gerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
