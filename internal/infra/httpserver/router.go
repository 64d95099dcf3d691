package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appscans "github.com/bryanwahyu/depscan/internal/application/scans"
	domain "github.com/bryanwahyu/depscan/internal/domain/scans"
	"github.com/bryanwahyu/depscan/internal/middleware"
)

type Config struct {
	UploadDir      string
	MaxUploadBytes int64
	AllowedOrigins []string
}

type Router struct {
	svc *appscans.Service
	cfg Config
	log *logrus.Logger
}

func NewRouter(svc *appscans.Service, checkers map[string]middleware.HealthChecker, cfg Config, log *logrus.Logger) http.Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 500 << 20
	}
	if log == nil {
		log = logrus.New()
	}
	r := &Router{svc: svc, cfg: cfg, log: log}
	mux := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	mux.Use(middleware.LoggingMiddleware(log))
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.RateLimitMiddleware(60, 2))

	mux.Get("/health", middleware.HealthHandler(checkers))
	mux.Get("/metrics", middleware.MetricsHandler(svc.ActiveWorkers))

	mux.Route("/api/scans", func(rt chi.Router) {
		rt.Post("/upload", r.wrap(r.handleUpload))
		rt.Get("/", r.wrap(r.handleList))
		rt.Get("/summary", r.wrap(r.handleSummary))
		rt.Get("/{id}", r.wrap(r.handleGet))
		rt.Delete("/{id}", r.wrap(r.handleDelete))
		rt.Get("/{id}/log", r.wrap(r.handleLog))
		rt.Get("/{id}/report", r.wrap(r.handleReport))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// httpError carries an explicit status code out of a handler.
type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &httpError{code: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var he *httpError
			if errors.As(err, &he) {
				http.Error(w, he.msg, he.code)
				return
			}
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, "scan not found", http.StatusNotFound)
				return
			}
			r.log.Errorf("handler error: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func scanIDParam(req *http.Request) (domain.ScanID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateScanID(id); err != nil {
		return "", badRequest("%v", err)
	}
	return domain.ScanID(id), nil
}

// POST /api/scans/upload
// Accepts one multipart file, stores it under a UUID-derived safe name and
// fires the scan in the background. Responds 202 with the created job.
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxUploadBytes)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return &httpError{code: http.StatusRequestEntityTooLarge, msg: "file too large"}
		}
		return badRequest("invalid multipart body: %v", err)
	}

	file, header, err := req.FormFile("file")
	if err != nil {
		return badRequest("missing file field")
	}
	defer file.Close()

	if !domain.IsSupportedFile(header.Filename) {
		return badRequest("unsupported file type; supported: jar, war, ear, zip, sar, apk, nupkg, egg, wheel, tar, gz, tgz")
	}

	// Only the extension comes from the client name, never the name itself.
	ext := strings.ToLower(filepath.Ext(header.Filename))
	safeName := uuid.New().String() + ext
	dstPath := filepath.Join(r.cfg.UploadDir, safeName)

	uploadAbs, err := filepath.Abs(r.cfg.UploadDir)
	if err != nil {
		return err
	}
	dstAbs, err := filepath.Abs(dstPath)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(dstAbs, uploadAbs+string(os.PathSeparator)) {
		return badRequest("invalid file path")
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("storing upload: %w", err)
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return fmt.Errorf("storing upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("storing upload: %w", err)
	}

	job, err := r.svc.CreateScan(req.Context(), middleware.SanitizeString(header.Filename), safeName)
	if err != nil {
		os.Remove(dstPath)
		return err
	}

	middleware.IncrementScans()
	r.svc.StartScan(job.ID, dstPath)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	return json.NewEncoder(w).Encode(job)
}

// GET /api/scans?skip=&limit=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	skip, _ := strconv.Atoi(req.URL.Query().Get("skip"))
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	limit = middleware.ValidateLimit(limit)

	list, err := r.svc.List(req.Context(), skip, limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.ScanJob{}
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

type scanWithVulnerabilities struct {
	*domain.ScanJob
	Vulnerabilities []*domain.Vulnerability `json:"vulnerabilities"`
}

// GET /api/scans/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := scanIDParam(req)
	if err != nil {
		return err
	}

	job, err := r.svc.Get(req.Context(), id)
	if err != nil {
		return err
	}
	vulns, err := r.svc.Vulnerabilities(req.Context(), id)
	if err != nil {
		return err
	}
	if vulns == nil {
		vulns = []*domain.Vulnerability{}
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(scanWithVulnerabilities{ScanJob: job, Vulnerabilities: vulns})
}

// DELETE /api/scans/{id}
func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) error {
	id, err := scanIDParam(req)
	if err != nil {
		return err
	}
	if err := r.svc.Delete(req.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /api/scans/{id}/log
// Serves the raw scanner output; polls fine while the scan is running.
func (r *Router) handleLog(w http.ResponseWriter, req *http.Request) error {
	id, err := scanIDParam(req)
	if err != nil {
		return err
	}

	text, err := r.svc.ReadLog(req.Context(), id)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err = io.WriteString(w, text)
	return err
}

// GET /api/scans/{id}/report
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) error {
	id, err := scanIDParam(req)
	if err != nil {
		return err
	}

	job, err := r.svc.Get(req.Context(), id)
	if err != nil {
		return err
	}
	if job.ReportPath == "" {
		return &httpError{code: http.StatusNotFound, msg: "report not available"}
	}
	if _, err := os.Stat(job.ReportPath); err != nil {
		return &httpError{code: http.StatusNotFound, msg: "report not available"}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=scan-%s-report.json", id))
	http.ServeFile(w, req, job.ReportPath)
	return nil
}

// GET /api/scans/summary?days=
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))
	days = middleware.ValidateDays(days)

	summary, err := r.svc.Summary(req.Context(), days)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(summary)
}
