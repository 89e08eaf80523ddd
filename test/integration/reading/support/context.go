package support

import (
	"errors"
	"fmt"
	"net/http/httptest"

	"github.com/MeKo-Tech/bpvoice/internal/aggregate"
	"github.com/MeKo-Tech/bpvoice/internal/classify"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/server"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Reading state
	Language       string
	Samples        []extract.Reading
	Consensus      aggregate.Consensus
	LastReading    extract.Reading
	LastError      error
	Classification classify.Classification
	Spoken         string

	// Server state
	Server     *server.Server
	HTTPServer *httptest.Server
	EngineText string
	Live       *liveClient

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a new test context.
func NewTestContext() (*TestContext, error) {
	return &TestContext{
		Language:        "pt-BR",
		LastHTTPHeaders: map[string]string{},
	}, nil
}

// StopServer stops the in-process server if one is running.
func (testCtx *TestContext) StopServer() error {
	if testCtx.Live != nil {
		_ = testCtx.Live.conn.Close()
		testCtx.Live = nil
	}
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.Server != nil {
		err := testCtx.Server.Close()
		testCtx.Server = nil
		if err != nil {
			return fmt.Errorf("failed to close server: %w", err)
		}
	}
	return nil
}

// Cleanup releases everything the scenario started.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if err := testCtx.StopServer(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
