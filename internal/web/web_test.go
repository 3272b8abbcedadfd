package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/agenda"
	"taskcal/internal/config"
	"taskcal/internal/gcal"
	"taskcal/internal/linker"
	"taskcal/internal/metrics"
	"taskcal/internal/model"
	"taskcal/internal/monthcache"
	"taskcal/internal/store"
)

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *agenda.Service) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	svc, err := agenda.New(agenda.Options{Store: store.NewMemory(), Location: cfg.Location(), FirstWeekday: cfg.FirstWeekday()})
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(cfg, svc).Handler())
	t.Cleanup(srv.Close)
	return srv, svc
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp := do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTaskLifecycle(t *testing.T) {
	srv, svc := newTestServer(t, nil)

	resp := do(t, http.MethodPost, srv.URL+"/api/tasks",
		`{"title":"report","deadline":"2024-03-10T09:00:00Z","deadlineDetails":{"isTaskDeadlineTimeEnabled":true}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created taskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.Task.ID)
	assert.Equal(t, "unlinked", created.Link)

	resp = do(t, http.MethodPut, srv.URL+"/api/tasks/"+created.Task.ID, `{"title":"final report"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, ok := svc.Task(created.Task.ID)
	require.True(t, ok)
	assert.Equal(t, "final report", got.Title)

	resp = do(t, http.MethodGet, srv.URL+"/api/tasks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []taskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 1)

	resp = do(t, http.MethodDelete, srv.URL+"/api/tasks/"+created.Task.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, http.MethodGet, srv.URL+"/api/tasks/"+created.Task.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTaskErrors(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/api/tasks", `{`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/api/tasks", `{"title":""}`).StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPut, srv.URL+"/api/tasks/nope", `{"title":"x"}`).StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodDelete, srv.URL+"/api/tasks/nope", "").StatusCode)

	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, srv.URL+"/api/tasks", `{"id":"a","title":"a"}`).StatusCode)
	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, srv.URL+"/api/tasks", `{"id":"a","title":"a"}`).StatusCode)
}

func TestMonth(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	_, err := svc.SaveTask(context.Background(), model.Task{
		ID: "t1", Title: "due", Deadline: ptr(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	resp := do(t, http.MethodGet, srv.URL+"/api/month?month=2024-03", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view agenda.MonthView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "2024-03", view.Month)
	assert.Len(t, view.Days["2024-03-10"], 1)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/api/month?month=March", "").StatusCode)
}

func TestSyncDisabled(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodPost, srv.URL+"/api/sync", "").StatusCode)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	srv, _ := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/health", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/api/tasks", "").StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/tasks", nil)
	require.NoError(t, err)
	req.SetBasicAuth("u", "p")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// failingAgenda returns fixed errors for the remote-facing calls.
type failingAgenda struct {
	pullErr error
	saveErr error
}

func (f *failingAgenda) Tasks() []model.Task                      { return nil }
func (f *failingAgenda) Task(string) (model.Task, bool)           { return model.Task{}, false }
func (f *failingAgenda) LinkState(string) linker.State            { return linker.Unlinked }
func (f *failingAgenda) LastPull() time.Time                      { return time.Time{} }
func (f *failingAgenda) DeleteTask(context.Context, string) error { return f.saveErr }
func (f *failingAgenda) Pull(context.Context) (gcal.PullResult, error) {
	return gcal.PullResult{}, f.pullErr
}
func (f *failingAgenda) SaveTask(_ context.Context, t model.Task) (model.Task, error) {
	t.ID = "saved"
	return t, f.saveErr
}
func (f *failingAgenda) Month(context.Context, string, model.YearMonth) (agenda.MonthView, error) {
	return agenda.MonthView{}, monthcache.ErrStale
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&gcal.Error{Op: "pull", Kind: gcal.ErrAuth}, http.StatusUnauthorized},
		{&gcal.Error{Op: "update", Kind: gcal.ErrNotFound}, http.StatusNotFound},
		{&gcal.Error{Op: "pull", Kind: gcal.ErrTransient, Err: errors.New("boom")}, http.StatusBadGateway},
		{agenda.ErrSyncDisabled, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(NewServer(config.DefaultConfig(), &failingAgenda{pullErr: tc.err}).Handler())
		t.Cleanup(srv.Close)
		resp := do(t, http.MethodPost, srv.URL+"/api/sync", "")
		assert.Equal(t, tc.want, resp.StatusCode, tc.err.Error())
	}
}

func TestSaveReportsSyncErrorWithTask(t *testing.T) {
	fa := &failingAgenda{saveErr: &gcal.Error{Op: "push", Kind: gcal.ErrAuth}}
	srv := httptest.NewServer(NewServer(config.DefaultConfig(), fa).Handler())
	t.Cleanup(srv.Close)

	resp := do(t, http.MethodPost, srv.URL+"/api/tasks", `{"title":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body taskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "saved", body.Task.ID)
	assert.NotEmpty(t, body.SyncError)

	assert.Equal(t, http.StatusConflict, do(t, http.MethodGet, srv.URL+"/api/month", "").StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	svc, err := agenda.New(agenda.Options{Store: store.NewMemory(), Metrics: m})
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(config.DefaultConfig(), svc).WithMetrics(m).Handler())
	t.Cleanup(srv.Close)

	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/api/month?month=2024-03", "").StatusCode)
	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `taskcal_agenda_month_views_total{partial="false"} 1`)
}

func ptr[T any](v T) *T { return &v }
