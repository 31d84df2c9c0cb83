// Package server exposes a position over HTTP: run control, frames, lineage tables,
// manual edits, progress over websocket and prometheus metrics.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/internal/store"
	"github.com/LdDl/budtrack/lineage"
	"github.com/LdDl/budtrack/pipeline"
)

// SourceFunc opens frame source for a run request. Returned source is closed after the run when it is an io.Closer
type SourceFunc func(req RunRequest) (pipeline.FrameSource, error)

// Server serves one position
type Server struct {
	ctrl     *pipeline.Controller
	sources  SourceFunc
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	hub      *hub
	upgrader websocket.Upgrader

	mu     sync.Mutex
	ctx    context.Context
	stop   context.CancelFunc
	cancel context.CancelFunc
	status RunStatus
	runs   sync.WaitGroup
}

// Option customises server
type Option func(*Server)

// WithGatherer exposes metrics of gatherer at /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With().Str("component", "server").Logger()
	}
}

// New creates server of controller. Runs are started with frame sources opened by sources
func New(ctrl *pipeline.Controller, sources SourceFunc, options ...Option) *Server {
	s := &Server{
		ctrl:    ctrl,
		sources: sources,
		logger:  zerolog.Nop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, option := range options {
		option(s)
	}
	s.ctx, s.stop = context.WithCancel(context.Background())
	s.hub = newHub(s.logger)
	return s
}

// Router returns HTTP routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleStartRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/current", s.handleRunStatus).Methods(http.MethodGet)
	api.HandleFunc("/runs/current", s.handleStopRun).Methods(http.MethodDelete)
	api.HandleFunc("/progress", s.handleProgress).Methods(http.MethodGet)
	api.HandleFunc("/frames/{frame:[0-9]+}", s.handleFrame).Methods(http.MethodGet)
	api.HandleFunc("/frames/{frame:[0-9]+}/labels", s.handleLabels).Methods(http.MethodGet)
	api.HandleFunc("/frames/{frame:[0-9]+}/lineage", s.handleTable).Methods(http.MethodGet)
	api.HandleFunc("/lineage.csv", s.handleLineageCSV).Methods(http.MethodGet)
	api.HandleFunc("/tracks/{cell:[0-9]+}", s.handleTrack).Methods(http.MethodGet)
	api.HandleFunc("/edits/toggle-division", s.handleToggleDivision).Methods(http.MethodPost)
	api.HandleFunc("/edits/reassign-bud", s.handleReassignBud).Methods(http.MethodPost)
	api.HandleFunc("/edits/delete-cell", s.handleDeleteCell).Methods(http.MethodPost)
	api.HandleFunc("/edits/reseed", s.handleReseed).Methods(http.MethodPost)
	api.HandleFunc("/normalise", s.handleNormalise).Methods(http.MethodPost)
	return r
}

// ListenAndServe serves until ctx is done, then stops the run in progress and shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Close()
		srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info().Str("addr", addr).Msg("Server starting")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the run in progress, waits for it and disconnects websocket clients
func (s *Server) Close() {
	s.stop()
	s.runs.Wait()
	s.hub.close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.status.Running
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, SessionInfo{
		SessionID: s.ctrl.SessionID().String(),
		Frames:    s.ctrl.Len(),
		Running:   running,
	})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Running {
		s.writeError(w, errs.New(errs.KindRejected, errs.NoFrame, errs.NoCell, "run in progress"))
		return
	}
	src, err := s.sources(req)
	if err != nil {
		s.writeError(w, errs.Wrap(err, errs.KindInput, errs.NoFrame, errs.NoCell, "can't open frame source"))
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	s.status = RunStatus{Running: true}
	s.runs.Add(1)
	go s.run(ctx, src)
	writeJSON(w, http.StatusAccepted, s.status)
}

func (s *Server) run(ctx context.Context, src pipeline.FrameSource) {
	defer s.runs.Done()
	progress := make(chan pipeline.Progress)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for p := range progress {
			s.hub.broadcast(Event{Type: "progress", Progress: &p})
		}
	}()
	summary, err := s.ctrl.Run(ctx, src, progress)
	close(progress)
	<-forwarded
	if closer, ok := src.(io.Closer); ok {
		closer.Close()
	}

	status := RunStatus{Summary: &summary}
	if err != nil {
		status.Error = err.Error()
	}
	s.mu.Lock()
	s.cancel()
	s.status = status
	s.mu.Unlock()
	s.hub.broadcast(Event{Type: "finished", Summary: &summary, Error: status.Error})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.status.Running
	if running {
		s.cancel()
	}
	s.mu.Unlock()
	if !running {
		s.writeError(w, errs.New(errs.KindNotFound, errs.NoFrame, errs.NoCell, "no run in progress"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	s.hub.register(conn)
	go func() {
		defer s.hub.unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	t, _ := strconv.Atoi(mux.Vars(r)["frame"])
	lab, err := s.ctrl.Frame(t)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FrameInfo{
		Frame:   t,
		Height:  lab.Height,
		Width:   lab.Width,
		CellIDs: lab.IDs(),
		NewIDs:  s.ctrl.NewIDs(t),
	})
}

// handleLabels streams label frame in the storage codec
func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	t, _ := strconv.Atoi(mux.Vars(r)["frame"])
	lab, err := s.ctrl.Frame(t)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := store.EncodeLabels(&buf, lab); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	t, _ := strconv.Atoi(mux.Vars(r)["frame"])
	tbl, err := s.ctrl.Table(t)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		if err := lineage.WriteFrameCSV(w, t, tbl); err != nil {
			s.logger.Error().Err(err).Msg("Can't write lineage table")
		}
		return
	}
	writeJSON(w, http.StatusOK, TableJSON{Frame: t, Records: recordsJSON(tbl)})
}

func (s *Server) handleLineageCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="lineage.csv"`)
	if err := lineage.WriteCSV(w, s.ctrl.Timeline()); err != nil {
		s.logger.Error().Err(err).Msg("Can't write lineage")
	}
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["cell"])
	track, ok := s.ctrl.Track(id)
	if !ok {
		s.writeError(w, errs.New(errs.KindNotFound, errs.NoFrame, id, "no track"))
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (s *Server) handleToggleDivision(w http.ResponseWriter, r *http.Request) {
	var req CellEdit
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeEdit(w)(s.ctrl.ToggleDivision(r.Context(), req.CellID, req.Frame))
}

func (s *Server) handleReassignBud(w http.ResponseWriter, r *http.Request) {
	var req ReassignEdit
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeEdit(w)(s.ctrl.ReassignBud(r.Context(), req.BudID, req.MotherID, req.Frame))
}

func (s *Server) handleDeleteCell(w http.ResponseWriter, r *http.Request) {
	var req CellEdit
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeEdit(w)(s.ctrl.DeleteCell(r.Context(), req.CellID, req.Frame))
}

func (s *Server) handleReseed(w http.ResponseWriter, r *http.Request) {
	var req ReseedEdit
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	tbl, err := tableFromJSON(req.Records)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeEdit(w)(s.ctrl.ReseedFirstFrame(r.Context(), tbl, req.Confirm))
}

func (s *Server) handleNormalise(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.status.Running
	s.mu.Unlock()
	if running {
		s.writeError(w, errs.New(errs.KindRejected, errs.NoFrame, errs.NoCell, "run in progress"))
		return
	}
	mapping, err := s.ctrl.NormaliseIDs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make(map[string]int, len(mapping))
	for from, to := range mapping {
		out[strconv.Itoa(from)] = to
	}
	writeJSON(w, http.StatusOK, map[string]any{"mapping": out})
}

func (s *Server) writeEdit(w http.ResponseWriter) func(lineage.Result, error) {
	return func(res lineage.Result, err error) {
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, editResult(res))
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(err, errs.KindInput, errs.NoFrame, errs.NoCell, "bad request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps error kinds to HTTP status codes
func statusOf(kind errs.Kind) int {
	switch kind {
	case errs.KindInput:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindRejected, errs.KindCancelled:
		return http.StatusConflict
	case errs.KindInvariant, errs.KindAmbiguous:
		return http.StatusUnprocessableEntity
	case errs.KindSegmenter:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := statusOf(kind)
	resp := ErrorResponse{Error: err.Error()}
	var e *errs.Error
	if errors.As(err, &e) {
		resp.Kind = e.Kind.String()
		resp.CellID = e.CellID
		if e.Frame != errs.NoFrame {
			frame := e.Frame
			resp.Frame = &frame
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, resp)
}
