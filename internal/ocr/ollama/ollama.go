// Package ollama reads displays with a vision model served by an Ollama instance.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/version"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2-vision"
)

const prompt = `The image shows the display of a blood pressure monitor.
Return only the numbers visible on the display, one per line, top to bottom.
Do not add units, labels, or any other text.`

// Config configures the remote engine.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultConfig targets a local Ollama instance.
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Model: DefaultModel, Timeout: 60 * time.Second}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Engine implements ocr.Engine against the /api/generate endpoint.
type Engine struct {
	cfg    Config
	client *http.Client
}

// New returns a remote engine; empty fields fall back to defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Engine{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Name implements ocr.Engine.
func (e *Engine) Name() string { return "ollama" }

// Close implements ocr.Engine.
func (e *Engine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// Recognize sends the image to the model and keeps only whitelisted characters of the answer.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if len(in.Image) == 0 {
		return ocr.Result{}, errors.New("empty image")
	}
	in.Report(0)

	body, err := json.Marshal(generateRequest{
		Model:   e.cfg.Model,
		Prompt:  prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(in.Image)},
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return ocr.Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(e.cfg.BaseURL, "/")+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return ocr.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := e.client.Do(req)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	in.Report(0.5)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ocr.Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return ocr.Result{}, fmt.Errorf("ollama request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var gr generateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return ocr.Result{}, fmt.Errorf("decode response: %w", err)
	}
	if gr.Error != "" {
		return ocr.Result{}, fmt.Errorf("ollama: %s", gr.Error)
	}

	whitelist := in.Whitelist
	if whitelist == "" {
		whitelist = ocr.DigitWhitelist
	}
	in.Report(1)
	return ocr.Result{Text: filter(gr.Response, whitelist)}, nil
}

// filter keeps whitelisted characters and line structure.
func filter(s, whitelist string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(whitelist, r):
			b.WriteRune(r)
		case r == '\n', r == ' ', r == '\t', r == '/':
			b.WriteRune(' ')
			if r == '\n' {
				b.WriteRune('\n')
			}
		}
	}
	return strings.TrimSpace(b.String())
}
