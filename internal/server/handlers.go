package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/zkhan93/claude-explains-api/internal/archive"
	"github.com/zkhan93/claude-explains-api/internal/checksum"
	"github.com/zkhan93/claude-explains-api/internal/claude"
	"github.com/zkhan93/claude-explains-api/internal/registry"
)

// maxUploadSize caps the uploaded archive (512 MiB).
const maxUploadSize = 512 << 20

// AnalysisResponse is the POST /analyze reply.
type AnalysisResponse struct {
	Analysis      string `json:"analysis"`
	SessionID     string `json:"session_id,omitempty"`
	CacheKey      string `json:"cache_key"`
	AnalysisAngle string `json:"analysis_angle"`
	Cached        bool   `json:"cached"`
}

// QueryRequest is the POST /query body.
type QueryRequest struct {
	Repo      string `json:"repo"`
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	ResumeID  string `json:"resume_id,omitempty"`
}

// QueryResponse is the POST /query reply.
type QueryResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id,omitempty"`
}

// RepoListResponse is the GET /repos reply.
type RepoListResponse struct {
	Repos []registry.Repo `json:"repos"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing zip file upload")
		return
	}
	defer file.Close()

	angle := r.FormValue("analysis")
	if angle == "" {
		writeError(w, http.StatusBadRequest, "missing analysis field")
		return
	}

	zipContent, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err))
		return
	}
	if !archive.IsZip(zipContent) {
		writeError(w, http.StatusBadRequest, "uploaded file is not a valid zip archive")
		return
	}

	cacheKey := checksum.Key(zipContent, angle)
	var cached AnalysisResponse
	if s.cache.Get(cacheKey, &cached) {
		cached.Cached = true
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, cached)
		return
	}

	tmpDir, err := os.MkdirTemp("", "codebase_")
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create temp dir: %v", err))
		return
	}
	defer os.RemoveAll(tmpDir)

	if err := archive.ExtractZip(zipContent, tmpDir); err != nil {
		if errors.Is(err, archive.ErrUnsafePath) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("extract zip: %v", err))
		return
	}

	prompt, err := s.prompts.Render("analysis", map[string]string{"analysis_angle": angle})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.runner.Run(r.Context(), claude.InvocationRequest{
		WorkDir: tmpDir,
		Prompt:  prompt,
		Timeout: s.settings.ClaudeTimeout(),
		Format:  claude.FormatJSON,
	})
	if err != nil {
		// Client went away; the subprocess tree is already down.
		s.logger.Warn("analyze request cancelled", "error", err)
		return
	}
	if result.IsError {
		writeError(w, http.StatusBadGateway, result.Text)
		return
	}

	resp := AnalysisResponse{
		Analysis:      result.Text,
		SessionID:     result.SessionID,
		CacheKey:      cacheKey,
		AnalysisAngle: angle,
	}
	if err := s.cache.Put(cacheKey, resp); err != nil {
		s.logger.Warn("cache store failed", "key", cacheKey, "error", err)
	}

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	if req.Repo == "" || req.Question == "" {
		writeError(w, http.StatusBadRequest, "repo and question are required")
		return
	}

	repo, ok := s.registry.Lookup(req.Repo)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown repo %q", req.Repo))
		return
	}

	prompt, err := s.prompts.Render("query", map[string]string{"question": req.Question})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// No server-side timeout here: long questions run until the client
	// hangs up, which cancels the request context.
	result, err := s.runner.Run(r.Context(), claude.InvocationRequest{
		WorkDir:   repo.Path,
		Prompt:    prompt,
		SessionID: req.SessionID,
		ResumeID:  req.ResumeID,
		Format:    claude.FormatStream,
	})
	if err != nil {
		s.logger.Warn("query request cancelled", "repo", req.Repo, "error", err)
		return
	}
	if result.IsError {
		writeError(w, http.StatusBadGateway, result.Text)
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Answer:    result.Text,
		SessionID: result.SessionID,
	})
}

func (s *Server) handleRepos(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RepoListResponse{Repos: s.registry.List()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
