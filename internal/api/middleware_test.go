package api

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORSAnswersPreflight(t *testing.T) {
	called := false
	handler := CORS("https://app.example")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/v1/activities", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if called {
		t.Fatalf("preflight must not reach the handler")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("unexpected origin header %q", got)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/activities", nil))
	if !called {
		t.Fatalf("expected GET to reach the handler")
	}
}

func TestRequestLoggerRecordsStatusAndFlushes(t *testing.T) {
	var buf bytes.Buffer
	flushed := false
	handler := RequestLogger(log.New(&buf, "", 0))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatalf("expected the logger to keep http.Flusher")
		}
		flusher.Flush()
		flushed = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sweep", nil))
	if !flushed || !rr.Flushed {
		t.Fatalf("expected the response to be flushed")
	}
	if line := buf.String(); !strings.HasPrefix(line, "POST /v1/sweep 418 ") {
		t.Fatalf("unexpected log line %q", line)
	}
}
