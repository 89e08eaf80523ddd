package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
	"github.com/MeKo-Tech/bpvoice/internal/server"
	"github.com/MeKo-Tech/bpvoice/internal/session"
	"github.com/MeKo-Tech/bpvoice/internal/testutil"
	"github.com/MeKo-Tech/bpvoice/internal/voice"
	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"
)

const liveWait = 5 * time.Second

// liveClient plays the browser side of a session: it acknowledges every
// utterance and queues everything it receives.
type liveClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	msgs    chan server.ServerMessage
}

func (c *liveClient) readLoop() {
	defer close(c.msgs)
	for {
		var msg server.ServerMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "speak" && msg.Utterance != nil {
			_ = c.write(server.ClientMessage{Type: "speech_end", ID: msg.Utterance.ID})
		}
		c.msgs <- msg
	}
}

func (c *liveClient) write(msg server.ClientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *liveClient) waitFor(what string, match func(server.ServerMessage) bool) (server.ServerMessage, error) {
	deadline := time.After(liveWait)
	for {
		select {
		case msg, ok := <-c.msgs:
			if !ok {
				return server.ServerMessage{}, fmt.Errorf("connection closed while waiting for %s", what)
			}
			if match(msg) {
				return msg, nil
			}
		case <-deadline:
			return server.ServerMessage{}, fmt.Errorf("timed out waiting for %s", what)
		}
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// theServerIsRunningWithEngineText starts an in-process server whose OCR
// engine always recognizes text.
func (testCtx *TestContext) theServerIsRunningWithEngineText(text string) error {
	if err := testCtx.StopServer(); err != nil {
		return err
	}
	reader, err := pipeline.New(ocr.Static(text), pipeline.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create reader: %w", err)
	}

	sc := session.DefaultConfig()
	sc.Language = testCtx.Language
	sc.OrientationInterval = time.Hour
	vc := voice.DefaultConfig()
	vc.Lang = testCtx.Language

	srv, err := server.NewServer(reader, server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 2,
		TimeoutSec:  5,
		Session:     sc,
		Voice:       vc,
	})
	if err != nil {
		_ = reader.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	testCtx.Server = srv
	testCtx.HTTPServer = httptest.NewServer(mux)
	testCtx.EngineText = text
	return nil
}

func (testCtx *TestContext) requireServer() error {
	if testCtx.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}
	return nil
}

func (testCtx *TestContext) recordResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = map[string]string{}
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

// postFrames uploads n copies of img to endpoint as multipart "frame" parts.
func (testCtx *TestContext) postFrames(endpoint string, img image.Image, n int, fields map[string]string) error {
	if err := testCtx.requireServer(); err != nil {
		return err
	}
	data, err := encodePNG(img)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i := 0; i < n; i++ {
		part, err := mw.CreateFormFile("frame", fmt.Sprintf("frame%d.png", i))
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(testCtx.HTTPServer.URL+endpoint, mw.FormDataContentType(), &body) //nolint:noctx // test request
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) iPOSTDisplayFramesTo(n int, endpoint string) error {
	return testCtx.postFrames(endpoint, testutil.DisplayFrame("120", "80", "72"), n, map[string]string{"lang": testCtx.Language})
}

func (testCtx *TestContext) iPOSTADisplayFrameTo(endpoint string) error {
	return testCtx.iPOSTDisplayFramesTo(1, endpoint)
}

func (testCtx *TestContext) iPOSTABlankFrameTo(endpoint string) error {
	blank := testutil.BlankFrame(testutil.SmallSize, testutil.DefaultDisplayConfig().Background)
	return testCtx.postFrames(endpoint, blank, 1, map[string]string{"lang": testCtx.Language})
}

func (testCtx *TestContext) iGET(endpoint string) error {
	if err := testCtx.requireServer(); err != nil {
		return err
	}
	resp, err := http.Get(testCtx.HTTPServer.URL + endpoint) //nolint:noctx // test request
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) theResponseStatusShouldBe(want int) error {
	if testCtx.LastHTTPStatusCode != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(want string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, want) {
		return fmt.Errorf("expected response to contain %q, got: %s", want, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseFieldShouldBe compares a dotted JSON path with its printed value.
func (testCtx *TestContext) theResponseFieldShouldBe(path, want string) error {
	var doc any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &doc); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	cur := doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return fmt.Errorf("field %q: %v is not an object", key, cur)
		}
		if cur, ok = obj[key]; !ok {
			return fmt.Errorf("field %q not found in %s", path, testCtx.LastHTTPResponse)
		}
	}
	if got := fmt.Sprint(cur); got != want {
		return fmt.Errorf("expected %s to be %q, got %q", path, want, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, want string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != want {
		return fmt.Errorf("expected header %s to be %q, got %q", name, want, got)
	}
	return nil
}

// aLiveSessionIsConnected dials the session endpoint and waits for the ready message.
func (testCtx *TestContext) aLiveSessionIsConnected() error {
	if err := testCtx.requireServer(); err != nil {
		return err
	}
	url := "ws" + strings.TrimPrefix(testCtx.HTTPServer.URL, "http") + "/ws?lang=" + testCtx.Language
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	_ = resp.Body.Close()

	testCtx.Live = &liveClient{conn: conn, msgs: make(chan server.ServerMessage, 256)}
	go testCtx.Live.readLoop()

	_, err = testCtx.Live.waitFor("ready", func(m server.ServerMessage) bool { return m.Type == "ready" })
	return err
}

func (testCtx *TestContext) theUserStartsTheCamera() error {
	if testCtx.Live == nil {
		return fmt.Errorf("no live session")
	}
	if err := testCtx.Live.write(server.ClientMessage{Type: "start_camera"}); err != nil {
		return err
	}
	_, err := testCtx.Live.waitFor("camera event", func(m server.ServerMessage) bool {
		return m.Type == "event" && m.Event != nil && m.Event.Type == session.EventCamera && m.Event.Streaming
	})
	return err
}

func (testCtx *TestContext) theCameraShowsTheDisplay() error {
	if testCtx.Live == nil {
		return fmt.Errorf("no live session")
	}
	data, err := encodePNG(testutil.DisplayFrame("120", "80", "72"))
	if err != nil {
		return err
	}
	return testCtx.Live.write(server.ClientMessage{Type: "frame", Image: ocr.EncodeDataURI("image/png", data)})
}

func (testCtx *TestContext) theUserRequestsACapture() error {
	if testCtx.Live == nil {
		return fmt.Errorf("no live session")
	}
	return testCtx.Live.write(server.ClientMessage{Type: "capture"})
}

func (testCtx *TestContext) theSessionShouldSpeak(want string) error {
	if testCtx.Live == nil {
		return fmt.Errorf("no live session")
	}
	msg, err := testCtx.Live.waitFor("speech containing "+want, func(m server.ServerMessage) bool {
		return m.Type == "speak" && m.Utterance != nil && strings.Contains(m.Utterance.Text, want)
	})
	if err != nil {
		return err
	}
	testCtx.Spoken = msg.Utterance.Text
	return nil
}

// RegisterServerSteps registers HTTP and live session steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	// Server lifecycle
	sc.Step(`^the server is running with a monitor showing "([^"]*)"$`, testCtx.theServerIsRunningWithEngineText)

	// HTTP requests
	sc.Step(`^I POST a display frame to "([^"]*)"$`, testCtx.iPOSTADisplayFrameTo)
	sc.Step(`^I POST (\d+) display frames to "([^"]*)"$`, testCtx.iPOSTDisplayFramesTo)
	sc.Step(`^I POST a blank frame to "([^"]*)"$`, testCtx.iPOSTABlankFrameTo)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)

	// HTTP responses
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseFieldShouldBe)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)

	// Live sessions
	sc.Step(`^a live session is connected$`, testCtx.aLiveSessionIsConnected)
	sc.Step(`^the user starts the camera$`, testCtx.theUserStartsTheCamera)
	sc.Step(`^the camera shows the display$`, testCtx.theCameraShowsTheDisplay)
	sc.Step(`^the user requests a capture$`, testCtx.theUserRequestsACapture)
	sc.Step(`^the session should speak "([^"]*)"$`, testCtx.theSessionShouldSpeak)
}
