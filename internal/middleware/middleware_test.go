package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgpress/service/internal/logging"
)

func TestLoggerIncludesRequiredFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.New("info", "json", &buf)

	h := chimw.RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodPost, "/compress", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "request", entry["msg"])
	assert.Equal(t, "POST", entry["method"])
	assert.Equal(t, "/compress", entry["path"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Contains(t, entry, "duration")
}

func TestLoggerDefaultsToOK(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := Logger(logging.New("info", "json", &buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("fine"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Contains(t, buf.String(), `"status":200`)
}

func TestRecoverReturnsGenericError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := Recover(logging.New("info", "json", &buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map write in handler")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/compress", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to process image"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "nil map")

	logged := buf.String()
	assert.Contains(t, logged, "nil map write in handler")
	assert.True(t, strings.Contains(logged, `"stack"`))
}

func TestRecoverRepanicsOnAbort(t *testing.T) {
	t.Parallel()

	h := Recover(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
