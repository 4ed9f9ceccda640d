package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/echolex/echolex/internal/config"
	"github.com/echolex/echolex/internal/correct"
	"github.com/echolex/echolex/internal/observe"
	"github.com/echolex/echolex/internal/record"
	"github.com/echolex/echolex/internal/server"
	"github.com/echolex/echolex/internal/settings"
	"github.com/echolex/echolex/internal/termstore"
	"github.com/echolex/echolex/pkg/audio/audiotest"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	h, _ := newTestHandlerMetrics(t)
	return h
}

// newTestHandlerMetrics additionally exposes the metric reader so tests
// can assert on recorded instruments.
func newTestHandlerMetrics(t *testing.T) (http.Handler, *sdkmetric.ManualReader) {
	t.Helper()
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.Storage.DataDir = dir

	store, err := termstore.Open(context.Background(), cfg.DatabasePath(), dir, log)
	if err != nil {
		t.Fatalf("termstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	st, err := settings.Open(filepath.Join(dir, "settings.json"), settings.Settings{
		PersonalizedAcousticEnabled: cfg.Personalization.Enabled,
	})
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	engine := correct.New(correct.Config{
		AcousticThreshold: cfg.Personalization.AcousticThreshold,
		TextThreshold:     cfg.Personalization.TextThreshold,
		MaxCandidates:     cfg.Personalization.MaxCandidates,
		DTWWindow:         cfg.Personalization.DTWWindow,
		DistanceScale:     8,
	}, log)

	srv := server.New(cfg, store, record.NewRegistry(), engine, st, metrics, log)
	return srv.Handler(), reader
}

// activeRecordings reads the current value of the recording-session
// gauge.
func activeRecordings(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "echolex.active_recordings" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0
			}
			return sum.DataPoints[0].Value
		}
	}
	return 0
}

func doJSON(t *testing.T, h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

// multipartBody builds a multipart form with string fields and one file
// part named "audio".
func multipartBody(t *testing.T, fields map[string]string, wav []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if wav != nil {
		fw, err := mw.CreateFormFile("audio", "clip.wav")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(wav); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func uploadSample(t *testing.T, h http.Handler, term string, wav []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/terms/"+term+"/samples", bytes.NewReader(wav))
	req.Header.Set("Content-Type", "audio/wav")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTermLifecycle(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := doJSON(t, h, "POST", "/v1/terms", `{"term":"Typeless"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("enroll status = %d, body %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["status"] != "pending" {
		t.Errorf("status = %v, want pending", body["status"])
	}

	rec = doJSON(t, h, "POST", "/v1/terms", `{"term":"Typeless"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("repeat enroll status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["existed"] != true {
		t.Errorf("repeat enroll existed = %v", body["existed"])
	}

	rec = doJSON(t, h, "GET", "/v1/terms", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); len(body["terms"].([]any)) != 1 {
		t.Errorf("terms = %v", body["terms"])
	}

	rec = doJSON(t, h, "DELETE", "/v1/terms/Typeless", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["deleted"] != true {
		t.Errorf("deleted = %v", body["deleted"])
	}
}

func TestEnrollTermInvalid(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	if rec := doJSON(t, h, "POST", "/v1/terms", `{"term":"   "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank term status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, h, "POST", "/v1/terms", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}
}

func TestSampleUpload(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := uploadSample(t, h, "Typeless", audiotest.SineWAV(520, 0.8, 16000, 0.3))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["status"] != "active" {
		t.Errorf("status = %v, want active", body["status"])
	}
	if body["sample_count"].(float64) != 1 {
		t.Errorf("sample_count = %v, want 1", body["sample_count"])
	}
	q := body["quality"].(map[string]any)
	if ms := q["duration_ms"].(float64); ms < 790 || ms > 810 {
		t.Errorf("duration_ms = %v, want ~800", ms)
	}
}

func TestSampleUploadQualityReject(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := uploadSample(t, h, "Typeless", audiotest.SilenceWAV(0.8, 16000))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("silent upload status = %d, want 422", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["reason"] != "sample volume too low" {
		t.Errorf("reason = %v", body["reason"])
	}

	// A rejected sample must not enroll the term.
	list := doJSON(t, h, "GET", "/v1/terms", "")
	if body := decodeBody(t, list); len(body["terms"].([]any)) != 0 {
		t.Errorf("terms after rejection = %v", body["terms"])
	}
}

func TestSampleUploadCapacity(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	wav := audiotest.SineWAV(520, 0.8, 16000, 0.3)

	for i := 0; i < termstore.MaxSamplesPerTerm; i++ {
		if rec := uploadSample(t, h, "Typeless", wav); rec.Code != http.StatusCreated {
			t.Fatalf("upload %d status = %d", i+1, rec.Code)
		}
	}
	rec := uploadSample(t, h, "Typeless", wav)
	if rec.Code != http.StatusConflict {
		t.Fatalf("over-cap status = %d, want 409", rec.Code)
	}
}

func TestSampleListing(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	wav := audiotest.SineWAV(520, 0.8, 16000, 0.3)

	first := decodeBody(t, uploadSample(t, h, "Typeless", wav))
	second := decodeBody(t, uploadSample(t, h, "Typeless", wav))

	rec := doJSON(t, h, "GET", "/v1/terms/Typeless/samples", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list samples status = %d, body %s", rec.Code, rec.Body)
	}
	samples := decodeBody(t, rec)["samples"].([]any)
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(samples))
	}
	newest := samples[0].(map[string]any)
	if newest["sample_id"].(float64) != second["sample_id"].(float64) {
		t.Errorf("newest sample_id = %v, want %v", newest["sample_id"], second["sample_id"])
	}
	if samples[1].(map[string]any)["sample_id"].(float64) != first["sample_id"].(float64) {
		t.Errorf("oldest sample_id = %v, want %v", samples[1], first["sample_id"])
	}
	if ms := newest["duration_ms"].(float64); ms < 790 || ms > 810 {
		t.Errorf("duration_ms = %v, want ~800", ms)
	}
	if newest["quality_score"].(float64) <= 0 {
		t.Errorf("quality_score = %v, want > 0", newest["quality_score"])
	}
	if newest["created_at"] == "" {
		t.Error("empty created_at")
	}

	rec = doJSON(t, h, "GET", "/v1/terms/Unknown/samples", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown term status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); len(body["samples"].([]any)) != 0 {
		t.Errorf("unknown term samples = %v, want none", body["samples"])
	}
}

func TestSampleDelete(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := uploadSample(t, h, "Typeless", audiotest.SineWAV(520, 0.8, 16000, 0.3))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rec.Code)
	}
	id := decodeBody(t, rec)["sample_id"].(float64)

	rec = doJSON(t, h, "DELETE", "/v1/terms/Typeless/samples/"+jsonNumber(id), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "pending" {
		t.Errorf("status after delete = %v, want pending", body["status"])
	}

	if rec := doJSON(t, h, "DELETE", "/v1/terms/Typeless/samples/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestRecordingFlow(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	rec := doJSON(t, h, "POST", "/v1/records/start", `{"term":"Typeless"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d", rec.Code)
	}
	sessionID := decodeBody(t, rec)["session_id"].(string)
	if sessionID == "" {
		t.Fatal("empty session id")
	}

	// Starting a recording enrolls the term as pending right away.
	list := doJSON(t, h, "GET", "/v1/terms", "")
	terms := decodeBody(t, list)["terms"].([]any)
	if len(terms) != 1 || terms[0].(map[string]any)["status"] != "pending" {
		t.Errorf("terms after start = %v, want one pending entry", terms)
	}

	// The submitted term is cleaned before the session check, so padding
	// does not break the claim.
	body, ct := multipartBody(t, map[string]string{
		"session_id": sessionID,
		"term":       "  Typeless  ",
	}, audiotest.SineWAV(520, 0.8, 16000, 0.3))
	req := httptest.NewRequest("POST", "/v1/records/stop", body)
	req.Header.Set("Content-Type", ct)
	stop := httptest.NewRecorder()
	h.ServeHTTP(stop, req)
	if stop.Code != http.StatusCreated {
		t.Fatalf("stop status = %d, body %s", stop.Code, stop.Body)
	}

	// The session is consumed; a second stop is a 404.
	body, ct = multipartBody(t, map[string]string{
		"session_id": sessionID,
		"term":       "Typeless",
	}, audiotest.SineWAV(520, 0.8, 16000, 0.3))
	req = httptest.NewRequest("POST", "/v1/records/stop", body)
	req.Header.Set("Content-Type", ct)
	again := httptest.NewRecorder()
	h.ServeHTTP(again, req)
	if again.Code != http.StatusNotFound {
		t.Errorf("repeat stop status = %d, want 404", again.Code)
	}
}

func TestRecordingTermMismatch(t *testing.T) {
	t.Parallel()
	h, reader := newTestHandlerMetrics(t)

	rec := doJSON(t, h, "POST", "/v1/records/start", `{"term":"Typeless"}`)
	sessionID := decodeBody(t, rec)["session_id"].(string)
	if got := activeRecordings(t, reader); got != 1 {
		t.Fatalf("gauge after start = %d, want 1", got)
	}

	body, ct := multipartBody(t, map[string]string{
		"session_id": sessionID,
		"term":       "Kubernetes",
	}, audiotest.SineWAV(520, 0.8, 16000, 0.3))
	req := httptest.NewRequest("POST", "/v1/records/stop", body)
	req.Header.Set("Content-Type", ct)
	stop := httptest.NewRecorder()
	h.ServeHTTP(stop, req)
	if stop.Code != http.StatusConflict {
		t.Errorf("mismatch stop status = %d, want 409", stop.Code)
	}
	// The mismatch consumed the session, so the gauge drops with it.
	if got := activeRecordings(t, reader); got != 0 {
		t.Errorf("gauge after mismatch = %d, want 0", got)
	}

	// The consumed session cannot be retried with the right term.
	body, ct = multipartBody(t, map[string]string{
		"session_id": sessionID,
		"term":       "Typeless",
	}, audiotest.SineWAV(520, 0.8, 16000, 0.3))
	req = httptest.NewRequest("POST", "/v1/records/stop", body)
	req.Header.Set("Content-Type", ct)
	retry := httptest.NewRecorder()
	h.ServeHTTP(retry, req)
	if retry.Code != http.StatusNotFound {
		t.Errorf("retry stop status = %d, want 404", retry.Code)
	}
}

func TestRecordingCancel(t *testing.T) {
	t.Parallel()
	h, reader := newTestHandlerMetrics(t)

	rec := doJSON(t, h, "POST", "/v1/records/start", `{"term":"Typeless"}`)
	sessionID := decodeBody(t, rec)["session_id"].(string)

	cancel := doJSON(t, h, "DELETE", "/v1/records/"+sessionID, "")
	if cancel.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", cancel.Code)
	}
	if got := activeRecordings(t, reader); got != 0 {
		t.Errorf("gauge after cancel = %d, want 0", got)
	}

	if again := doJSON(t, h, "DELETE", "/v1/records/"+sessionID, ""); again.Code != http.StatusNotFound {
		t.Errorf("repeat cancel status = %d, want 404", again.Code)
	}
}

func TestCorrectEndToEnd(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	wav := audiotest.SineWAV(520, 0.8, 16000, 0.3)

	if rec := uploadSample(t, h, "Typeless", wav); rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rec.Code)
	}

	body, ct := multipartBody(t, map[string]string{
		"transcript": "please sync type less release notes",
	}, wav)
	req := httptest.NewRequest("POST", "/v1/correct", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("correct status = %d, body %s", rec.Code, rec.Body)
	}
	res := decodeBody(t, rec)
	if res["text"] != "please sync Typeless release notes" {
		t.Errorf("text = %q", res["text"])
	}
	if res["applied"] != true {
		t.Errorf("applied = %v, want true", res["applied"])
	}
}

func TestCorrectDisabledBySettings(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	wav := audiotest.SineWAV(520, 0.8, 16000, 0.3)

	if rec := uploadSample(t, h, "Typeless", wav); rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rec.Code)
	}

	rec := doJSON(t, h, "PUT", "/v1/settings", `{"personalized_acoustic_enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings status = %d", rec.Code)
	}

	body, ct := multipartBody(t, map[string]string{
		"transcript": "please sync type less release notes",
	}, wav)
	req := httptest.NewRequest("POST", "/v1/correct", body)
	req.Header.Set("Content-Type", ct)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	res := decodeBody(t, resp)
	if res["text"] != "please sync type less release notes" {
		t.Errorf("text = %q, want unchanged", res["text"])
	}
	if res["applied"] == true {
		t.Error("applied = true with personalization disabled")
	}

	get := doJSON(t, h, "GET", "/v1/settings", "")
	if body := decodeBody(t, get); body["personalized_acoustic_enabled"] != false {
		t.Errorf("settings = %v", body)
	}
}

func TestCorrectZeroBudgetOverride(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)
	wav := audiotest.SineWAV(520, 0.8, 16000, 0.3)

	if rec := uploadSample(t, h, "Typeless", wav); rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rec.Code)
	}

	body, ct := multipartBody(t, map[string]string{
		"transcript": "please sync type less release notes",
		"budget_ms":  "0",
	}, wav)
	req := httptest.NewRequest("POST", "/v1/correct", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := decodeBody(t, rec)
	if res["applied"] == true {
		t.Error("applied = true with zero budget")
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	h := newTestHandler(t)

	if rec := doJSON(t, h, "GET", "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
	rec := doJSON(t, h, "GET", "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("readyz status field = %v", body["status"])
	}
}

// jsonNumber renders a float64 that arrived via JSON as its integer
// string form.
func jsonNumber(f float64) string {
	return strconv.FormatInt(int64(f), 10)
}
