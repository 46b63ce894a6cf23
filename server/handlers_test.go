package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/colinzhu/jmeter-web-runner-sub000/execution"
	jwrtest "github.com/colinzhu/jmeter-web-runner-sub000/internal/testing"
	"github.com/colinzhu/jmeter-web-runner-sub000/runner"
	"github.com/colinzhu/jmeter-web-runner-sub000/storage"
)

// funcRunner delegates to test-provided closures
type funcRunner struct {
	mu        sync.Mutex
	execute   func(ctx context.Context, planPath string, executionID string) runner.Result
	terminate func(executionID string) bool
}

func (f *funcRunner) Execute(ctx context.Context, planPath string, executionID string) runner.Result {
	f.mu.Lock()
	fn := f.execute
	f.mu.Unlock()
	if fn == nil {
		return runner.Success("/out/" + executionID)
	}
	return fn(ctx, planPath, executionID)
}

func (f *funcRunner) Terminate(executionID string) bool {
	f.mu.Lock()
	fn := f.terminate
	f.mu.Unlock()
	if fn == nil {
		return true
	}
	return fn(executionID)
}

type testEnv struct {
	server  *Server
	handler http.Handler
	sched   *execution.Scheduler
	plans   *storage.PlanStore
	reports *storage.ReportStore
	runner  *funcRunner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db := jwrtest.CreateTestDB(t)
	log := zap.NewNop().Sugar()

	plans, err := storage.NewPlanStore(db, t.TempDir(), log)
	require.NoError(t, err)
	reports := storage.NewReportStore(db, log)

	r := &funcRunner{}
	sched := execution.NewScheduler(ctx, 1, r, plans, reports, log)
	srv := NewServer(ctx, sched, plans, reports, nil, log)

	return &testEnv{
		server:  srv,
		handler: srv.Handler(),
		sched:   sched,
		plans:   plans,
		reports: reports,
		runner:  r,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) uploadPlan(t *testing.T, filename string) *storage.TestPlan {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte("<jmeterTestPlan/>"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := env.do(t, http.MethodPost, "/api/plans", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var plan storage.TestPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	return &plan
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func waitForTerminal(t *testing.T, env *testEnv, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		e, err := env.sched.Get(id)
		return err == nil && e.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPlanUploadAndList(t *testing.T) {
	env := newTestEnv(t)

	plan := env.uploadPlan(t, "smoke.jmx")
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "smoke.jmx", plan.Filename)

	rec := env.do(t, http.MethodGet, "/api/plans", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []storage.TestPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, plan.ID, listed[0].ID)

	rec = env.do(t, http.MethodGet, "/api/plans/"+plan.ID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlanUploadRejectsBadExtension(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	fw.Write([]byte("not a plan"))
	require.NoError(t, mw.Close())

	rec := env.do(t, http.MethodPost, "/api/plans", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanUploadMissingFileField(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "x"))
	require.NoError(t, mw.Close())

	rec := env.do(t, http.MethodPost, "/api/plans", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateExecution(t *testing.T) {
	env := newTestEnv(t)
	plan := env.uploadPlan(t, "p.jmx")

	rec := env.do(t, http.MethodPost, "/api/executions",
		jsonBody(t, map[string]string{"plan_id": plan.ID}), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var exec execution.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
	assert.Equal(t, plan.ID, exec.PlanID)
	assert.NotEmpty(t, exec.ID)

	waitForTerminal(t, env, exec.ID)

	rec = env.do(t, http.MethodGet, "/api/executions/"+exec.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
	assert.Equal(t, execution.StatusCompleted, exec.Status)
	assert.NotEmpty(t, exec.ReportID)
}

func TestCreateExecutionUnknownPlan(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/executions",
		jsonBody(t, map[string]string{"plan_id": "no-such-plan"}), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateExecutionBadBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/executions",
		strings.NewReader("{not json"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/executions",
		jsonBody(t, map[string]string{}), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetExecutionNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/executions/EX-missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelQueuedExecutionViaAPI(t *testing.T) {
	env := newTestEnv(t)
	plan := env.uploadPlan(t, "p.jmx")

	// First execution occupies the single slot until released
	release := make(chan struct{})
	env.runner.mu.Lock()
	env.runner.execute = func(ctx context.Context, planPath, id string) runner.Result {
		<-release
		return runner.Success("/out/" + id)
	}
	env.runner.mu.Unlock()

	rec := env.do(t, http.MethodPost, "/api/executions",
		jsonBody(t, map[string]string{"plan_id": plan.ID}), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)
	var first execution.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = env.do(t, http.MethodPost, "/api/executions",
		jsonBody(t, map[string]string{"plan_id": plan.ID}), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)
	var queued execution.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queued))
	require.Equal(t, execution.StatusQueued, queued.Status)

	rec = env.do(t, http.MethodDelete, "/api/executions/"+queued.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var cancelled execution.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, execution.StatusCancelled, cancelled.Status)

	close(release)
	waitForTerminal(t, env, first.ID)
}

func TestCancelTerminalExecutionConflicts(t *testing.T) {
	env := newTestEnv(t)
	plan := env.uploadPlan(t, "p.jmx")

	rec := env.do(t, http.MethodPost, "/api/executions",
		jsonBody(t, map[string]string{"plan_id": plan.ID}), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)
	var exec execution.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
	waitForTerminal(t, env, exec.ID)

	rec = env.do(t, http.MethodDelete, "/api/executions/"+exec.ID, nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClearExecutionHistory(t *testing.T) {
	env := newTestEnv(t)
	plan := env.uploadPlan(t, "p.jmx")

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/executions",
			jsonBody(t, map[string]string{"plan_id": plan.ID}), "application/json")
		require.Equal(t, http.StatusCreated, rec.Code)
		var exec execution.Execution
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
		waitForTerminal(t, env, exec.ID)
	}

	rec := env.do(t, http.MethodDelete, "/api/executions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp clearHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Removed)

	rec = env.do(t, http.MethodGet, "/api/executions", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []execution.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed)
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics execution.SystemMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, 1, metrics.Ceiling)
	assert.Equal(t, 0, metrics.Running)
	assert.Equal(t, 0, metrics.Queued)
}

func TestReportDownloadStreamsZip(t *testing.T) {
	env := newTestEnv(t)

	outputDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(outputDir, "report"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "report", "index.html"), []byte("<html>stats</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "results.jtl"), []byte("timeStamp,elapsed\n"), 0o644))

	_, err := env.reports.RegisterOutput("EX-42", outputDir)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/reports/EX-42", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "EX-42-report.zip")

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)

	names := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		names[f.Name] = string(content)
	}
	assert.Equal(t, "<html>stats</html>", names["report/index.html"])
	assert.Equal(t, "timeStamp,elapsed\n", names["results.jtl"])
}

func TestReportDownloadUnknownExecution(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/reports/EX-nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmissionRateLimiting(t *testing.T) {
	env := newTestEnv(t)

	// Burst capacity is 20; hammering past it must produce 429s while
	// earlier requests still get through
	codes := make(map[int]int)
	for i := 0; i < 40; i++ {
		rec := env.do(t, http.MethodPost, "/api/executions",
			jsonBody(t, map[string]string{"plan_id": fmt.Sprintf("missing-%d", i)}), "application/json")
		codes[rec.Code]++
	}

	assert.Greater(t, codes[http.StatusNotFound], 0, "some requests pass the limiter")
	assert.Greater(t, codes[http.StatusTooManyRequests], 0, "limiter must trip under burst")
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPut, "/api/executions", nil, "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPost, "/api/status", nil, "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodDelete, "/api/reports/EX-1", nil, "").Code)
}
