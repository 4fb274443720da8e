package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/goecl"
)

const (
	maxUploadBytes   = 50 << 20
	defaultListLimit = 50
	maxListLimit     = 500
)

type handler struct {
	engine goecl.Engine
}

func newHandler(e goecl.Engine) *handler {
	return &handler{engine: e}
}

// routes registers every endpoint on a new mux. metrics serves /metrics.
func routes(h *handler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /extract", h.handleExtract)
	mux.HandleFunc("GET /experts", h.handleExperts)
	mux.HandleFunc("GET /traces", h.handleListTraces)
	mux.HandleFunc("GET /traces/{id}", h.handleGetTrace)
	mux.HandleFunc("GET /graph", h.handleGraph)
	mux.HandleFunc("GET /health", h.handleHealth)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

type extractRequest struct {
	Text      string         `json:"text"`
	Threshold float64        `json:"threshold,omitempty"`
	Experts   []string       `json:"experts,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

func (r extractRequest) options() []goecl.ExtractOption {
	var opts []goecl.ExtractOption
	if r.Threshold != 0 {
		opts = append(opts, goecl.WithThreshold(r.Threshold))
	}
	if len(r.Experts) > 0 {
		opts = append(opts, goecl.WithExperts(r.Experts...))
	}
	if len(r.Context) > 0 {
		opts = append(opts, goecl.WithContext(r.Context))
	}
	return opts
}

// POST /extract
// Accepts a multipart file upload or JSON with the document text.
func (h *handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			h.extractUpload(ctx, w, r, file, filepath.Base(header.Filename))
			return
		}
	}

	var req extractRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'text'")
		return
	}
	report, err := h.engine.Extract(ctx, req.Text, req.options()...)
	h.writeReport(w, r, report, err)
}

func (h *handler) extractUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, file io.Reader, name string) {
	tmpDir, err := os.MkdirTemp("", "goecl-upload-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating upload dir", "error", err)
		return
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, name)
	dst, err := os.Create(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating temp file", "error", err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to save file")
		slog.Error("saving uploaded file", "error", err)
		return
	}
	dst.Close()

	var req extractRequest
	if v := r.FormValue("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "threshold must be a number")
			return
		}
		req.Threshold = t
	}
	req.Experts = r.MultipartForm.Value["expert"]

	report, err := h.engine.ExtractDocument(ctx, path, req.options()...)
	h.writeReport(w, r, report, err)
}

func (h *handler) writeReport(w http.ResponseWriter, r *http.Request, report *goecl.Report, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, goecl.ErrEmptyDocument),
		errors.Is(err, goecl.ErrUnknownExpert),
		errors.Is(err, goecl.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, goecl.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, goecl.ErrTraceStoreClosed):
		writeError(w, http.StatusServiceUnavailable, "engine is shutting down")
	default:
		slog.Error("extract error", "request_id", requestID(r.Context()), "error", err)
		if report != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":       "trace persistence failed",
				"pipeline_id": report.Trace.PipelineID,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "extraction failed")
	}
}

// GET /experts
func (h *handler) handleExperts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"experts": h.engine.Experts(),
	})
}

// GET /traces?limit=N
func (h *handler) handleListTraces(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	traces, err := h.engine.Traces(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list traces")
		slog.Error("list traces error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"traces": traces,
	})
}

// GET /traces/{id}
func (h *handler) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := h.engine.Trace(r.Context(), id)
	if errors.Is(err, goecl.ErrTraceNotFound) {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load trace")
		slog.Error("get trace error", "pipeline_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GET /graph?format=json|cypher
func (h *handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	g := h.engine.Graph()
	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, g.Snapshot())
	case "cypher":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, g.Cypher())
	default:
		writeError(w, http.StatusBadRequest, "format must be json or cypher")
	}
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.engine.Health(r.Context())
	status := http.StatusOK
	if health.Status == "closed" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
