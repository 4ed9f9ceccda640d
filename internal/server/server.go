// Package server exposes the Echolex HTTP API: term enrollment, sample
// recording, transcript correction, runtime settings, and the standard
// health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/echolex/echolex/internal/acoustic"
	"github.com/echolex/echolex/internal/config"
	"github.com/echolex/echolex/internal/correct"
	"github.com/echolex/echolex/internal/health"
	"github.com/echolex/echolex/internal/observe"
	"github.com/echolex/echolex/internal/quality"
	"github.com/echolex/echolex/internal/record"
	"github.com/echolex/echolex/internal/settings"
	"github.com/echolex/echolex/internal/termstore"
	"github.com/echolex/echolex/pkg/audio"
)

// maxUploadBytes bounds sample and utterance uploads. A 15 s cap at
// 48 kHz stereo 16-bit is under 6 MiB; 32 MiB leaves generous headroom.
const maxUploadBytes = 32 << 20

// Server wires the API handlers to their backing components.
type Server struct {
	cfg      *config.Config
	store    *termstore.SQLite
	sessions *record.Registry
	engine   *correct.Engine
	settings *settings.Store
	metrics  *observe.Metrics
	health   *health.Handler
	log      *slog.Logger
}

// New builds a Server from its components.
func New(cfg *config.Config, store *termstore.SQLite, sessions *record.Registry, engine *correct.Engine, st *settings.Store, metrics *observe.Metrics, log *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		engine:   engine,
		settings: st,
		metrics:  metrics,
		health:   health.New(health.DatabaseChecker(store)),
		log:      log,
	}
}

// Handler returns the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/terms", s.handleEnrollTerm)
	mux.HandleFunc("GET /v1/terms", s.handleListTerms)
	mux.HandleFunc("DELETE /v1/terms/{term}", s.handleDeleteTerm)
	mux.HandleFunc("POST /v1/terms/{term}/samples", s.handleUploadSample)
	mux.HandleFunc("GET /v1/terms/{term}/samples", s.handleListSamples)
	mux.HandleFunc("DELETE /v1/terms/{term}/samples/{id}", s.handleDeleteSample)

	mux.HandleFunc("POST /v1/records/start", s.handleRecordStart)
	mux.HandleFunc("POST /v1/records/stop", s.handleRecordStop)
	mux.HandleFunc("DELETE /v1/records/{id}", s.handleRecordCancel)

	mux.HandleFunc("POST /v1/correct", s.handleCorrect)

	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handlePutSettings)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics, s.log)(mux)
}

// errorBody is the uniform JSON error payload.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var reject *quality.RejectError
	switch {
	case errors.As(err, &reject):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:  "sample rejected",
			Reason: string(reject.Reason),
		})
	case errors.Is(err, termstore.ErrCapacityExceeded):
		writeJSON(w, http.StatusConflict, errorBody{
			Error:  "sample limit reached",
			Reason: "delete a sample first",
		})
	case errors.Is(err, termstore.ErrInvalidTerm),
		errors.Is(err, audio.ErrUnsupportedFormat),
		errors.Is(err, audio.ErrEmptyAudio):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, record.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "sample recording session not found"})
	case errors.Is(err, record.ErrTermMismatch):
		writeJSON(w, http.StatusConflict, errorBody{Error: "session was opened for a different term"})
	default:
		s.log.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// ── Terms ──

type enrollTermRequest struct {
	Term string `json:"term"`
}

func (s *Server) handleEnrollTerm(w http.ResponseWriter, r *http.Request) {
	var req enrollTermRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	res, err := s.store.EnrollTerm(r.Context(), req.Term)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Existed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleListTerms(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
			return
		}
	}
	infos, err := s.store.ListTerms(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if infos == nil {
		infos = []termstore.TermInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"terms": infos})
}

func (s *Server) handleDeleteTerm(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	existed, err := s.store.DeleteTerm(r.Context(), term)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"term": term, "deleted": existed})
}

// ── Samples ──

// sampleResponse combines the store result with the quality report so a
// client can show feedback after an accepted recording.
type sampleResponse struct {
	termstore.SampleResult
	Quality *quality.Report `json:"quality"`
}

func (s *Server) handleUploadSample(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	wavData, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "reading upload failed"})
		return
	}
	res, report, err := s.ingestSample(r.Context(), term, wavData)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sampleResponse{SampleResult: res, Quality: report})
}

func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	samples, err := s.store.ListSamples(r.Context(), term)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if samples == nil {
		samples = []termstore.SampleInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"term": term, "samples": samples})
}

func (s *Server) handleDeleteSample(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	sampleID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid sample id"})
		return
	}
	info, err := s.store.DeleteSample(r.Context(), term, sampleID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ingestSample runs the shared enrollment pipeline: quality gate,
// fingerprint extraction, then the capped store insert.
func (s *Server) ingestSample(ctx context.Context, term string, wavData []byte) (termstore.SampleResult, *quality.Report, error) {
	clip, err := audio.DecodeWAV(wavData)
	if err != nil {
		return termstore.SampleResult{}, nil, err
	}
	report, err := quality.Evaluate(clip)
	if err != nil {
		var reject *quality.RejectError
		if errors.As(err, &reject) {
			s.metrics.RecordEnrollmentRejection(ctx, string(reject.Reason))
		}
		return termstore.SampleResult{}, nil, err
	}
	fp, err := acoustic.Extract(clip.Float32(), clip.SampleRate)
	if err != nil {
		return termstore.SampleResult{}, nil, fmt.Errorf("server: fingerprint sample: %w", err)
	}

	res, err := s.store.AddSample(ctx, term, wavData, report.DurationMS, report.QualityScore, fp.Encode())
	if err != nil {
		return termstore.SampleResult{}, nil, err
	}
	s.metrics.RecordEnrollmentAccept(ctx)
	return res, report, nil
}

// ── Recording sessions ──

type recordStartRequest struct {
	Term string `json:"term"`
}

type recordStartResponse struct {
	SessionID string `json:"session_id"`
	Term      string `json:"term"`
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	var req recordStartRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	term, err := termstore.ValidateTerm(req.Term)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// The term shows up as pending right away, even if the recording is
	// never submitted.
	if _, err := s.store.EnrollTerm(r.Context(), term); err != nil {
		s.writeError(w, err)
		return
	}

	sess := s.sessions.Start(term)
	s.metrics.ActiveRecordings.Add(r.Context(), 1)
	writeJSON(w, http.StatusCreated, recordStartResponse{SessionID: sess.ID, Term: sess.Term})
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid multipart body"})
		return
	}
	sessionID := r.FormValue("session_id")
	term, err := termstore.ValidateTerm(r.FormValue("term"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if _, err := s.sessions.Claim(sessionID, term); err != nil {
		// A mismatched claim still consumes the session.
		if !errors.Is(err, record.ErrSessionNotFound) {
			s.metrics.ActiveRecordings.Add(r.Context(), -1)
		}
		s.writeError(w, err)
		return
	}
	s.metrics.ActiveRecordings.Add(r.Context(), -1)

	wavData, err := readFormFile(r, "audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	res, report, err := s.ingestSample(r.Context(), term, wavData)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sampleResponse{SampleResult: res, Quality: report})
}

func (s *Server) handleRecordCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.Cancel(id) {
		s.writeError(w, record.ErrSessionNotFound)
		return
	}
	s.metrics.ActiveRecordings.Add(r.Context(), -1)
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "cancelled": true})
}

// ── Correction ──

type correctResponse struct {
	Text    string `json:"text"`
	Applied bool   `json:"applied"`
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid multipart body"})
		return
	}
	transcript := r.FormValue("transcript")

	if !s.settings.Get().PersonalizedAcousticEnabled {
		writeJSON(w, http.StatusOK, correctResponse{Text: transcript})
		return
	}

	budget := s.cfg.Personalization.TimeBudget()
	if raw := r.FormValue("budget_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid budget_ms"})
			return
		}
		budget = time.Duration(ms) * time.Millisecond
	}

	wavData, err := readFormFile(r, "audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	start := time.Now()
	corrected := s.correctTranscript(r.Context(), transcript, wavData, budget)
	applied := corrected != transcript
	s.metrics.RecordCorrection(r.Context(), applied, time.Since(start))

	writeJSON(w, http.StatusOK, correctResponse{Text: corrected, Applied: applied})
}

// correctTranscript loads the active vocabulary and runs the engine.
// Store failures degrade to the uncorrected transcript; dictation must
// never block on personalization.
func (s *Server) correctTranscript(ctx context.Context, transcript string, wavData []byte, budget time.Duration) string {
	terms, err := s.store.ListActiveTerms(ctx, 0)
	if err != nil {
		s.log.Warn("loading active terms failed", "error", err)
		return transcript
	}
	if len(terms) == 0 {
		return transcript
	}
	lookup, err := s.store.LoadFingerprints(ctx, terms)
	if err != nil {
		s.log.Warn("loading fingerprints failed", "error", err)
		return transcript
	}
	return s.engine.Correct(ctx, transcript, wavData, terms, lookup, budget)
}

// ── Settings ──

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Get())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var upd settings.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	cur, err := s.settings.Apply(upd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// readFormFile reads one uploaded file from a parsed multipart form.
func readFormFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %q file field", field)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %q upload failed", field)
	}
	return data, nil
}
