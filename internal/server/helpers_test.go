package server

import (
	"bytes"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
	"github.com/MeKo-Tech/bpvoice/internal/session"
	"github.com/MeKo-Tech/bpvoice/internal/testutil"
	"github.com/MeKo-Tech/bpvoice/internal/voice"
	"github.com/stretchr/testify/require"
)

const readingText = "SYS 120 DIA 80 PUL 72"

func testConfig() Config {
	sc := session.DefaultConfig()
	sc.Language = "en"
	sc.AutoInterval = 50 * time.Millisecond
	sc.OrientationInterval = time.Hour
	vc := voice.DefaultConfig()
	vc.Lang = "en"
	return Config{
		CORSOrigin:  "*",
		MaxUploadMB: 2,
		TimeoutSec:  5,
		Session:     sc,
		Voice:       vc,
	}
}

func newTestServer(t *testing.T, engine ocr.Engine) *Server {
	t.Helper()
	if engine == nil {
		engine = ocr.Static(readingText)
	}
	reader, err := pipeline.New(engine, pipeline.DefaultConfig())
	require.NoError(t, err)
	s, err := NewServer(reader, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// multipartFrames builds a multipart body with one "frame" part per image.
func multipartFrames(t *testing.T, fields map[string]string, frames ...image.Image) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, img := range frames {
		part, err := mw.CreateFormFile("frame", "frame"+string(rune('a'+i))+".png")
		require.NoError(t, err)
		_, err = part.Write(testutil.PNGBytes(t, img))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func postFrames(t *testing.T, s *Server, path string, fields map[string]string, frames ...image.Image) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartFrames(t, fields, frames...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	mux.ServeHTTP(w, req)
	return w
}

func pngDataURI(t *testing.T, img image.Image) string {
	t.Helper()
	return ocr.EncodeDataURI("image/png", testutil.PNGBytes(t, img))
}
