package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkhan93/claude-explains-api/internal/cache"
	"github.com/zkhan93/claude-explains-api/internal/claude"
	"github.com/zkhan93/claude-explains-api/internal/config"
	"github.com/zkhan93/claude-explains-api/internal/prompts"
	"github.com/zkhan93/claude-explains-api/internal/protocol"
	"github.com/zkhan93/claude-explains-api/internal/registry"
)

// stubInvoker records requests and replies with a canned result.
type stubInvoker struct {
	calls  atomic.Int32
	reqs   chan claude.InvocationRequest
	result protocol.Result
	err    error
}

func newStubInvoker(result protocol.Result, err error) *stubInvoker {
	return &stubInvoker{reqs: make(chan claude.InvocationRequest, 16), result: result, err: err}
}

func (s *stubInvoker) Run(_ context.Context, req claude.InvocationRequest) (protocol.Result, error) {
	s.calls.Add(1)
	s.reqs <- req
	return s.result, s.err
}

func (s *stubInvoker) lastRequest(t *testing.T) claude.InvocationRequest {
	t.Helper()
	select {
	case req := <-s.reqs:
		return req
	case <-time.After(time.Second):
		t.Fatal("no invocation recorded")
		return claude.InvocationRequest{}
	}
}

func newTestServer(t *testing.T, runner Invoker) *Server {
	t.Helper()
	dir := t.TempDir()

	promptsPath := filepath.Join(dir, "prompts.yaml")
	require.NoError(t, os.WriteFile(promptsPath, []byte(`analysis: "Analyze with focus on {analysis_angle}"
query: "Q: {question}"
`), 0o644))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	promptStore, err := prompts.Load(promptsPath, logger)
	require.NoError(t, err)

	reposPath := filepath.Join(dir, "repos.yaml")
	require.NoError(t, os.WriteFile(reposPath, []byte(`repos:
  - name: known
    path: /srv/repos/known
`), 0o644))
	reg, err := registry.Load(reposPath)
	require.NoError(t, err)

	store, err := cache.New(filepath.Join(dir, "cache"), time.Minute, logger)
	require.NoError(t, err)

	settings, err := config.Load("")
	require.NoError(t, err)

	return New(Config{
		Settings: settings,
		Runner:   runner,
		Prompts:  promptStore,
		Registry: reg,
		Cache:    store,
		Logger:   logger,
	})
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func analyzeRequest(t *testing.T, zipContent []byte, angle string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "code.zip")
	require.NoError(t, err)
	_, err = part.Write(zipContent)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("analysis", angle))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newStubInvoker(protocol.Result{}, nil))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRepos(t *testing.T) {
	srv := newTestServer(t, newStubInvoker(protocol.Result{}, nil))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/repos", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RepoListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Repos, 1)
	assert.Equal(t, "known", resp.Repos[0].Name)
}

func TestAnalyzeMissThenCacheHit(t *testing.T) {
	stub := newStubInvoker(protocol.Result{Text: "full report", SessionID: "s1"}, nil)
	srv := newTestServer(t, stub)
	handler := srv.Routes()
	zipContent := buildZip(t, map[string]string{"main.go": "package main\n"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, analyzeRequest(t, zipContent, "security"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	var resp AnalysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "full report", resp.Analysis)
	assert.Equal(t, "security", resp.AnalysisAngle)
	assert.False(t, resp.Cached)

	req := stub.lastRequest(t)
	assert.Equal(t, "Analyze with focus on security", req.Prompt)
	assert.Equal(t, claude.FormatJSON, req.Format)
	assert.NotEmpty(t, req.WorkDir)

	// Same archive and angle again: served from cache, no second invocation
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, analyzeRequest(t, zipContent, "security"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "full report", resp.Analysis)
	assert.True(t, resp.Cached)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestAnalyzeRejectsNonZip(t *testing.T) {
	srv := newTestServer(t, newStubInvoker(protocol.Result{}, nil))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, analyzeRequest(t, []byte("not a zip"), "general"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not a valid zip")
}

func TestAnalyzeRejectsTraversalZip(t *testing.T) {
	srv := newTestServer(t, newStubInvoker(protocol.Result{}, nil))
	zipContent := buildZip(t, map[string]string{"../evil.txt": "x"})

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, analyzeRequest(t, zipContent, "general"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsafe path")
}

func TestAnalyzeMissingFields(t *testing.T) {
	srv := newTestServer(t, newStubInvoker(protocol.Result{}, nil))
	handler := srv.Routes()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader("plain body"))
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "code.zip")
	require.NoError(t, err)
	_, err = part.Write(buildZip(t, map[string]string{"a": "b"}))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing analysis field")
}

func TestAnalyzeInvocationErrorIsBadGateway(t *testing.T) {
	stub := newStubInvoker(protocol.Result{Text: "claude operation timed out", IsError: true}, nil)
	srv := newTestServer(t, stub)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, analyzeRequest(t, buildZip(t, map[string]string{"a": "b"}), "general"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "timed out")
}

func TestQuerySuccess(t *testing.T) {
	stub := newStubInvoker(protocol.Result{Text: "the answer", SessionID: "s9"}, nil)
	srv := newTestServer(t, stub)

	body := `{"repo":"known","question":"how does auth work?","resume_id":"prev"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "the answer", resp.Answer)
	assert.Equal(t, "s9", resp.SessionID)

	invReq := stub.lastRequest(t)
	assert.Equal(t, "/srv/repos/known", invReq.WorkDir)
	assert.Equal(t, "Q: how does auth work?", invReq.Prompt)
	assert.Equal(t, "prev", invReq.ResumeID)
	assert.Equal(t, claude.FormatStream, invReq.Format)
}

func TestQueryUnknownRepo(t *testing.T) {
	stub := newStubInvoker(protocol.Result{}, nil)
	srv := newTestServer(t, stub)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"repo":"ghost","question":"?"}`))
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(0), stub.calls.Load())
}

func TestQueryValidation(t *testing.T) {
	srv := newTestServer(t, newStubInvoker(protocol.Result{}, nil))
	handler := srv.Routes()

	for _, body := range []string{`{`, `{}`, `{"repo":"known"}`, `{"question":"?"}`} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}

func TestQueryInvocationErrorIsBadGateway(t *testing.T) {
	stub := newStubInvoker(protocol.Result{Text: "claude CLI failed (exit 2): auth expired", IsError: true}, nil)
	srv := newTestServer(t, stub)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"repo":"known","question":"?"}`))
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "exit 2")
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, newStubInvoker(protocol.Result{}, nil))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analyze", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
