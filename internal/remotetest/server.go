// Package remotetest provides an in-process fake of the analysis service.
//
// By default it behaves like the real service: it reports itself online,
// accepts PDF uploads and records them in an in-memory history, renders a
// small PDF for exports and clears history on DELETE. Tests can queue scripted
// responses per route to reproduce slow, truncated or failing replies.
package remotetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/csheth/nexus/internal/pdftest"
)

const maxUploadBytes = 32 << 20

// Response is a scripted reply for one request.
type Response struct {
	Status      int
	Body        []byte
	ContentType string
	// Gate, when set, holds the reply until the channel is closed or the
	// client goes away.
	Gate <-chan struct{}
	// Drop closes the connection without writing a response.
	Drop bool
}

// JSONResponse builds a Response whose body is v encoded as JSON.
func JSONResponse(status int, v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("remotetest: encode response: %v", err))
	}
	return Response{Status: status, Body: data, ContentType: "application/json"}
}

// RawResponse builds a Response with a literal body.
func RawResponse(status int, body string) Response {
	return Response{Status: status, Body: []byte(body), ContentType: "text/plain; charset=utf-8"}
}

// Recorded captures what a client sent.
type Recorded struct {
	Method    string
	Path      string
	Header    http.Header
	Body      []byte
	Filename  string
	FileBytes []byte
}

// HistoryItem mirrors the service's history row.
type HistoryItem struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
	Date     string `json:"date"`
	Summary  string `json:"summary"`
}

// Service is the fake remote. The zero value is not usable; call NewService.
type Service struct {
	router chi.Router

	mu       sync.Mutex
	scripted map[string][]Response
	calls    map[string]int
	recorded []Recorded
	history  []HistoryItem
	nextID   int
	now      func() time.Time
}

// NewService returns a Service with default behaviour on every route.
func NewService() *Service {
	s := &Service{
		scripted: map[string][]Response{},
		calls:    map[string]int{},
		nextID:   1,
		now:      time.Now,
	}
	r := chi.NewRouter()
	r.Get("/", s.wrap(s.handlePing))
	r.Post("/analyze-document", s.wrap(s.handleAnalyze))
	r.Post("/generate-pdf", s.wrap(s.handleGeneratePDF))
	r.Get("/history", s.wrap(s.handleHistory))
	r.Delete("/history", s.wrap(s.handleClearHistory))
	s.router = r
	return s
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Enqueue scripts the next replies for method+path, consumed in order. Once
// the queue is drained the default behaviour resumes.
func (s *Service) Enqueue(method, path string, responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := routeKey(method, path)
	s.scripted[key] = append(s.scripted[key], responses...)
}

// SeedHistory replaces the stored history rows.
func (s *Service) SeedHistory(items ...HistoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]HistoryItem(nil), items...)
	for _, item := range items {
		if item.ID >= s.nextID {
			s.nextID = item.ID + 1
		}
	}
}

// Calls reports how many requests reached method+path.
func (s *Service) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[routeKey(method, path)]
}

// TotalCalls reports how many requests reached the service on any route.
func (s *Service) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Requests returns every recorded request in arrival order.
func (s *Service) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.recorded...)
}

// LastRequest returns the most recent request to method+path.
func (s *Service) LastRequest(method, path string) (Recorded, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.recorded) - 1; i >= 0; i-- {
		rec := s.recorded[i]
		if rec.Method == method && rec.Path == path {
			return rec, true
		}
	}
	return Recorded{}, false
}

type routeHandler func(w http.ResponseWriter, r *http.Request, rec Recorded)

func (s *Service) wrap(fallback routeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, scripted, ok := s.accept(r)
		if ok {
			s.writeScripted(w, r, scripted)
			return
		}
		fallback(w, r, rec)
	}
}

// accept records the request and claims its scripted reply in one step, so a
// test that waits on Calls knows which reply the request received.
func (s *Service) accept(r *http.Request) (Recorded, Response, bool) {
	rec := Recorded{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone()}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
			if file, header, err := r.FormFile("file"); err == nil {
				rec.Filename = header.Filename
				rec.FileBytes, _ = io.ReadAll(file)
				file.Close()
			}
		}
	} else if r.Body != nil {
		rec.Body, _ = io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := routeKey(r.Method, r.URL.Path)
	s.calls[key]++
	s.recorded = append(s.recorded, rec)
	queue := s.scripted[key]
	if len(queue) == 0 {
		return rec, Response{}, false
	}
	s.scripted[key] = queue[1:]
	return rec, queue[0], true
}

func (s *Service) writeScripted(w http.ResponseWriter, r *http.Request, resp Response) {
	if resp.Gate != nil {
		select {
		case <-resp.Gate:
		case <-r.Context().Done():
			return
		}
	}
	if resp.Drop {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			panic("remotetest: response writer cannot drop connections")
		}
		conn, _, err := hijacker.Hijack()
		if err == nil {
			conn.Close()
		}
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func (s *Service) handlePing(w http.ResponseWriter, r *http.Request, _ Recorded) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "online", "mode": "PDF Processing Ready"})
}

func (s *Service) handleAnalyze(w http.ResponseWriter, r *http.Request, rec Recorded) {
	if rec.Filename == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "file field is required"})
		return
	}
	if !strings.EqualFold(filepath.Ext(rec.Filename), ".pdf") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "El archivo debe ser un PDF"})
		return
	}

	s.mu.Lock()
	item := HistoryItem{
		ID:       s.nextID,
		Filename: rec.Filename,
		Date:     s.now().Format("2006-01-02 15:04"),
		Summary:  "Guía de estudio",
	}
	s.nextID++
	s.history = append([]HistoryItem{item}, s.history...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"filename": rec.Filename,
		"analysis": map[string]any{
			"temario": []any{
				map[string]any{
					"tema":    "Introducción",
					"resumen": fmt.Sprintf("Resumen generado para %s (%d bytes).", rec.Filename, len(rec.FileBytes)),
				},
			},
		},
	})
}

func (s *Service) handleGeneratePDF(w http.ResponseWriter, r *http.Request, rec Recorded) {
	var req struct {
		Data     map[string]any `json:"data"`
		Filename string         `json:"filename"`
	}
	if err := json.Unmarshal(rec.Body, &req); err != nil || req.Data == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "data is required"})
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, req.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdftest.Minimal(1))
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request, _ Recorded) {
	s.mu.Lock()
	items := append([]HistoryItem{}, s.history...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, items)
}

func (s *Service) handleClearHistory(w http.ResponseWriter, r *http.Request, _ Recorded) {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func routeKey(method, path string) string {
	return method + " " + path
}

// Server is a Service listening on a loopback httptest server.
type Server struct {
	*Service
	HTTP *httptest.Server
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.HTTP.URL
}

// Start runs a fresh Service for the duration of the test.
func Start(t testing.TB) *Server {
	t.Helper()
	svc := NewService()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	return &Server{Service: svc, HTTP: srv}
}

// WaitForCalls blocks until method+path has been hit n times, failing the
// test after a few seconds.
func (s *Server) WaitForCalls(t testing.TB, method, path string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.Calls(method, path) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d call(s) to %s %s, got %d", n, method, path, s.Calls(method, path))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
