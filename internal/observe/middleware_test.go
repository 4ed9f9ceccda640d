package observe

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := Middleware(m, log)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("DELETE", "/v1/terms/Typeless", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}

	rm := collect(t, reader)
	hist := findMetric(rm, "echolex.http.request.duration")
	if hist == nil {
		t.Fatal("echolex.http.request.duration not found")
	}
	hd, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", hist.Data)
	}
	if got := hd.DataPoints[0].Count; got != 1 {
		t.Errorf("request count = %d, want 1", got)
	}
}

func TestMiddleware_DefaultStatusOK(t *testing.T) {
	m, _ := newTestMetrics(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := Middleware(m, log)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
