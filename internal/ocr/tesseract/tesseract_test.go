package tesseract

import (
	"context"
	"os/exec"
	"testing"

	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireTesseract(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping tesseract test in short mode")
	}
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed")
	}
}

func TestEngine_Defaults(t *testing.T) {
	e := New(DefaultConfig())
	assert.Equal(t, "tesseract", e.Name())
	assert.Equal(t, ocr.DigitWhitelist, e.cfg.Whitelist)
	assert.Equal(t, ocr.PageSegSingleBlock, e.cfg.PageSegMode)
	require.NoError(t, e.Close())
}

func TestEngine_RejectsEmptyImage(t *testing.T) {
	e := New(DefaultConfig())
	_, err := e.Recognize(context.Background(), ocr.Input{})
	require.Error(t, err)
}

func TestEngine_HonorsCanceledContext(t *testing.T) {
	e := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Recognize(ctx, ocr.Input{Image: []byte{1}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_RecognizesDigits(t *testing.T) {
	requireTesseract(t)

	cfg := testutil.DefaultDisplayConfig()
	cfg.Scale = 4
	cfg.Panel = testutil.CenteredPanel(cfg.Size, 90, 90)
	img := testutil.GenerateDisplay(cfg)

	var progress []float64
	res, err := New(DefaultConfig()).Recognize(context.Background(), ocr.Input{
		Image:    testutil.PNGBytes(t, img),
		Progress: func(p float64) { progress = append(progress, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1}, progress)
	for _, r := range res.Text {
		assert.True(t, r == '\n' || r == ' ' || (r >= '0' && r <= '9'), "unexpected rune %q", r)
	}
}
