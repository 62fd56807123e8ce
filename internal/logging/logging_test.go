package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	req := require.New(t)
	req.Equal(slog.LevelDebug, ParseLevel("DEBUG"))
	req.Equal(slog.LevelWarn, ParseLevel("warn"))
	req.Equal(slog.LevelError, ParseLevel(" error "))
	req.Equal(slog.LevelInfo, ParseLevel("verbose"))
}

func TestMiddleware(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	logger := New(&buf, "info")

	router := chi.NewRouter()
	router.Use(middleware.RequestID, Middleware(logger))
	router.Get("/teapot", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	req.Equal(http.StatusTeapot, rec.Code)

	var line map[string]any
	req.NoError(json.Unmarshal(buf.Bytes(), &line))
	req.Equal("http request", line["msg"])
	req.Equal("GET", line["method"])
	req.Equal("/teapot", line["path"])
	req.EqualValues(http.StatusTeapot, line["status"])
	req.EqualValues(len("short and stout"), line["bytes"])
	req.NotEmpty(line["request_id"])
}
