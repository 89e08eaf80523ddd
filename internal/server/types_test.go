package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_Defaults(t *testing.T) {
	reader, err := pipeline.New(ocr.Static(readingText), pipeline.DefaultConfig())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.TimeoutSec = 0
	cfg.MaxUploadMB = 0
	s, err := NewServer(reader, cfg)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.Equal(t, int64(10), s.maxUploadMB)
	assert.Equal(t, "30s", s.timeout.String())
	assert.NotNil(t, s.logger)
	assert.Equal(t, "en", s.msgs.Language())
}

func TestNewServer_ErrorCases(t *testing.T) {
	reader, err := pipeline.New(ocr.Static(readingText), pipeline.DefaultConfig())
	require.NoError(t, err)

	t.Run("nil reader", func(t *testing.T) {
		_, err := NewServer(nil, testConfig())
		require.Error(t, err)
	})

	t.Run("invalid session config", func(t *testing.T) {
		cfg := testConfig()
		cfg.Session.Samples = 0
		_, err := NewServer(reader, cfg)
		require.Error(t, err)
	})

	t.Run("invalid voice config", func(t *testing.T) {
		cfg := testConfig()
		cfg.Voice.Volume = 3
		_, err := NewServer(reader, cfg)
		require.Error(t, err)
	})
}

func TestServer_SetupRoutes(t *testing.T) {
	server := newTestServer(t, nil)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	for _, path := range []string{"/health", "/reading/last", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.NotEqual(t, http.StatusNotFound, w.Code)
		})
	}

	t.Run("metrics exported", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Contains(t, w.Body.String(), "bpvoice_http_requests_total")
	})
}

func TestServer_Close(t *testing.T) {
	reader, err := pipeline.New(ocr.Static(readingText), pipeline.DefaultConfig())
	require.NoError(t, err)
	s, err := NewServer(reader, testConfig())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	w := httptest.NewRecorder()
	s.sessionWebSocketHandler(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestJSON_FieldNames(t *testing.T) {
	data, err := json.Marshal(ReadingResponse{Success: false, Error: "x", ErrorType: errTypeNoReading})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Contains(t, fields, "success")
	assert.Contains(t, fields, "error_type")
	assert.NotContains(t, fields, "result")
	assert.NotContains(t, fields, "assessment")
}
