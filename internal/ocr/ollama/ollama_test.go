package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Recognize(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, version.UserAgent(), r.UserAgent())
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "SYS 120\nDIA 80\nPUL 72 bpm", Done: true})
	}))
	defer srv.Close()

	e := New(Config{BaseURL: srv.URL, Model: "test-model"})
	res, err := e.Recognize(context.Background(), ocr.Input{Image: []byte("png")})
	require.NoError(t, err)
	assert.Equal(t, "120 \n 80 \n 72", res.Text)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, []string{"cG5n"}, got.Images)
	assert.False(t, got.Stream)
	require.NoError(t, e.Close())
}

func TestEngine_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}},
		{"bad json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{"))
		}},
		{"error field", func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(generateResponse{Error: "out of memory"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := ocr.Recognize(context.Background(), New(Config{BaseURL: srv.URL}), ocr.Input{Image: []byte("x")})
			require.Error(t, err)
			var re *ocr.RecognitionError
			assert.ErrorAs(t, err, &re)
		})
	}
}

func TestEngine_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url, Timeout: time.Second}).Recognize(context.Background(), ocr.Input{Image: []byte("x")})
	require.Error(t, err)
}

func TestEngine_EmptyImage(t *testing.T) {
	_, err := New(Config{}).Recognize(context.Background(), ocr.Input{})
	require.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	e := New(Config{})
	assert.Equal(t, DefaultBaseURL, e.cfg.BaseURL)
	assert.Equal(t, DefaultModel, e.cfg.Model)
	assert.Equal(t, "ollama", e.Name())
}

func TestFilter(t *testing.T) {
	assert.Equal(t, "120 80", filter("120/80", ocr.DigitWhitelist))
	assert.Empty(t, filter("none", ocr.DigitWhitelist))
}
