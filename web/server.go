// Package web serves a localhost-only single-user UI over the sync history;
// it intentionally has no auth/CSRF protection in this mode.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"tracksync/output"
	"tracksync/storage"
	"tracksync/syncer"
)

//go:embed templates/*.html
var templateFS embed.FS

var errSyncBusy = errors.New("a sync run is already in progress")

// RunStore is the history the UI reads and the trigger writes.
type RunStore interface {
	ListRuns(limit int) ([]storage.Run, error)
	GetRun(id string) (storage.Run, bool, error)
	ListRecords(runID string) ([]syncer.Record, error)
	SaveRun(report syncer.Report) error
}

// SyncFunc performs one sync run on demand.
type SyncFunc func(ctx context.Context) (syncer.Report, error)

type Server struct {
	store   RunStore
	trigger SyncFunc
	mux     *http.ServeMux

	syncMu sync.Mutex
}

type runsPageView struct {
	Title      string
	Runs       []storage.Run
	CanTrigger bool
}

type runPageView struct {
	Title    string
	Run      storage.Run
	Records  []syncer.Record
	Failures int
}

type runResponse struct {
	Run     storage.Run     `json:"run"`
	Records []syncer.Record `json:"records"`
}

// NewServer serves the history in store. trigger may be nil, which disables
// POST /api/sync.
func NewServer(store RunStore, trigger SyncFunc) http.Handler {
	server := &Server{store: store, trigger: trigger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", server.handleIndex)
	mux.HandleFunc("GET /runs", server.handleRuns)
	mux.HandleFunc("GET /runs/{id}", server.handleRun)
	mux.HandleFunc("GET /runs/{id}/export", server.handleExport)
	mux.HandleFunc("GET /api/runs", server.handleAPIRuns)
	mux.HandleFunc("GET /api/runs/{id}", server.handleAPIRun)
	mux.HandleFunc("POST /api/sync", server.handleAPISync)
	server.mux = mux

	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/runs", http.StatusFound)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	view := runsPageView{Title: "Sync runs", Runs: runs, CanTrigger: s.trigger != nil}
	if err := renderTemplate(w, "runs.html", view); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, records, status, err := s.loadRun(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	failures := 0
	for _, record := range records {
		if record.Status == syncer.StatusError {
			failures++
		}
	}
	view := runPageView{Title: "Run " + run.ID, Run: run, Records: records, Failures: failures}
	if err := renderTemplate(w, "run.html", view); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	run, records, status, err := s.loadRun(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	format := strings.TrimSpace(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	writer, err := output.WriterForFormat(format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	extension := "csv"
	contentType := "text/csv"
	if format != "csv" {
		extension = "xlsx"
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}

	name := "tracksync-" + run.ID + "." + extension
	if stream, ok := writer.(output.StreamWriter); ok {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if err := stream.Encode(w, records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	dir, err := os.MkdirTemp("", "tracksync-export-*")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := writer.Write(path, records); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	run, records, status, err := s.loadRun(r.PathValue("id"))
	if err != nil {
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Records: records})
}

func (s *Server) handleAPISync(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "sync trigger is disabled"})
		return
	}
	if !s.syncMu.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": errSyncBusy.Error()})
		return
	}
	defer s.syncMu.Unlock()

	report, err := s.trigger(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if err := s.store.SaveRun(report); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	run, found, err := s.store.GetRun(report.RunID)
	if err != nil || !found {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stored run could not be read back"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) loadRun(id string) (storage.Run, []syncer.Record, int, error) {
	id = strings.TrimSpace(id)
	run, found, err := s.store.GetRun(id)
	if err != nil {
		return storage.Run{}, nil, http.StatusInternalServerError, err
	}
	if !found {
		return storage.Run{}, nil, http.StatusNotFound, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	records, err := s.store.ListRecords(id)
	if err != nil {
		return storage.Run{}, nil, http.StatusInternalServerError, err
	}
	return run, records, http.StatusOK, nil
}

func renderTemplate(w http.ResponseWriter, pageTemplate string, data any) error {
	tmpl, err := template.New("base.html").Funcs(template.FuncMap{
		"fmtTime": func(run storage.Run) string {
			return run.StartedAt.Local().Format("2006-01-02 15:04:05")
		},
		"isError": func(record syncer.Record) bool {
			return record.Status == syncer.StatusError
		},
	}).ParseFS(templateFS, "templates/base.html", "templates/"+pageTemplate)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", pageTemplate, err)
	}
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		return fmt.Errorf("render template %s: %w", pageTemplate, err)
	}
	return nil
}

func parseLimit(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 50, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q", value)
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
