package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/frame"
	"github.com/MeKo-Tech/bpvoice/internal/messages"
	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/pipeline"
	"github.com/MeKo-Tech/bpvoice/internal/version"
)

const (
	formatText = "text"

	// maxFramesPerRequest bounds how many frames one reading request may carry.
	maxFramesPerRequest = 10

	errTypeInvalidRequest = "invalid_request"
	errTypeNoReading      = "no_reading"
	errTypeRecognition    = "recognition_error"
	errTypeTimeout        = "timeout"
	errTypeInternal       = "internal_error"
	errTypeNotFound       = "not_found"
)

// readingRequest is the JSON alternative to a multipart upload.
type readingRequest struct {
	Frames []string `json:"frames"`
	Lang   string   `json:"lang,omitempty"`
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	v, _, _ := version.Info()
	response := HealthResponse{
		Status:   "healthy",
		Version:  v,
		Sessions: s.Sessions(),
		Time:     time.Now().UTC().Format(time.RFC3339),
	}
	if s.reader != nil {
		response.Engine = s.reader.Engine().Name()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// orientationHandler analyzes one uploaded frame and returns positioning guidance.
func (s *Server) orientationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frames, lang, err := s.parseFrames(w, r)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), errTypeInvalidRequest, http.StatusBadRequest)
		return
	}
	if len(frames) != 1 {
		s.writeErrorResponse(w, "exactly one frame is required", errTypeInvalidRequest, http.StatusBadRequest)
		return
	}

	img, err := frame.Prepare(frames[0], s.reader.Config().Frame)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), errTypeInvalidRequest, http.StatusBadRequest)
		return
	}
	verdict, guidance := s.analyzer.Guide(img)
	b := img.Bounds()

	s.writeJSON(w, http.StatusOK, OrientationResponse{
		Success:  true,
		Verdict:  verdict,
		Guidance: guidance,
		Aligned:  s.analyzer.Aligned(verdict),
		Message:  s.localizer(lang).Guidance(guidance),
		Width:    b.Dx(),
		Height:   b.Dy(),
	})
}

// readingHandler turns one or more uploaded frames into a classified reading.
func (s *Server) readingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frames, lang, err := s.parseFrames(w, r)
	if err != nil {
		readingRequestsTotal.WithLabelValues("http", errTypeInvalidRequest).Inc()
		s.writeErrorResponse(w, err.Error(), errTypeInvalidRequest, http.StatusBadRequest)
		return
	}
	framesPerRequest.Observe(float64(len(frames)))
	msgs := s.localizer(lang)

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, err := s.reader.Read(ctx, frames)
	if err != nil {
		status, errType, message := s.classifyReadError(msgs, err)
		readingRequestsTotal.WithLabelValues("http", errType).Inc()
		s.logger.Info("Reading request failed", "error", err, "error_type", errType, "frames", len(frames))
		s.writeJSON(w, status, ReadingResponse{
			Success:   false,
			Error:     err.Error(),
			ErrorType: errType,
			Message:   message,
		})
		return
	}

	s.last.Store(res)
	readingRequestsTotal.WithLabelValues("http", "ok").Inc()

	if format(r) == formatText {
		text, err := pipeline.ToPlainText(res)
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("formatting failed: %v", err), errTypeInternal, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, text)
		return
	}
	s.writeJSON(w, http.StatusOK, s.readingResponse(msgs, res))
}

// lastReadingHandler returns the most recent successful HTTP reading.
func (s *Server) lastReadingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	msgs := s.localizer(r.URL.Query().Get("lang"))
	res, ok := s.LastReading()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, ReadingResponse{
			Success:   false,
			Error:     "no reading available",
			ErrorType: errTypeNotFound,
			Message:   msgs.Text(messages.RepeatNone),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, s.readingResponse(msgs, res))
}

func (s *Server) readingResponse(msgs *messages.Localizer, res *pipeline.Result) ReadingResponse {
	return ReadingResponse{
		Success:    true,
		Result:     res,
		Assessment: assessment(msgs, res.Classification),
		Message:    msgs.Reading(res.Reading, res.Classification),
	}
}

// classifyReadError maps a pipeline error onto an HTTP status, an error type
// and the sentence a user would hear.
func (s *Server) classifyReadError(msgs *messages.Localizer, err error) (int, string, string) {
	var frameErr *frame.FrameError
	var recErr *ocr.RecognitionError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errTypeTimeout, msgs.Text(messages.CaptureError)
	case errors.As(err, &frameErr):
		return http.StatusBadRequest, errTypeInvalidRequest, msgs.Text(messages.CaptureError)
	case errors.Is(err, extract.ErrNoPlausibleReading):
		return http.StatusUnprocessableEntity, errTypeNoReading, msgs.FailureTip(1)
	case errors.As(err, &recErr):
		return http.StatusBadGateway, errTypeRecognition, msgs.Text(messages.CaptureError)
	default:
		return http.StatusInternalServerError, errTypeInternal, msgs.Text(messages.CaptureError)
	}
}

// parseFrames reads frames from a multipart form (field "frame", repeatable)
// or from a JSON body of data URIs.
func (s *Server) parseFrames(w http.ResponseWriter, r *http.Request) ([]image.Image, string, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return s.parseJSONFrames(r)
	}

	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, "", fmt.Errorf("failed to parse form data: %w", err)
	}
	headers := r.MultipartForm.File["frame"]
	if len(headers) == 0 {
		return nil, "", errors.New("no frame provided")
	}
	if len(headers) > maxFramesPerRequest {
		return nil, "", fmt.Errorf("too many frames: %d (max %d)", len(headers), maxFramesPerRequest)
	}

	frames := make([]image.Image, 0, len(headers))
	for i, h := range headers {
		img, err := decodeUpload(h)
		if err != nil {
			return nil, "", fmt.Errorf("frame %d: %w", i, err)
		}
		frames = append(frames, img)
	}
	lang := r.FormValue("lang")
	if lang == "" {
		lang = r.URL.Query().Get("lang")
	}
	return frames, lang, nil
}

func (s *Server) parseJSONFrames(r *http.Request) ([]image.Image, string, error) {
	var req readingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, "", fmt.Errorf("failed to parse request: %w", err)
	}
	if len(req.Frames) == 0 {
		return nil, "", errors.New("no frame provided")
	}
	if len(req.Frames) > maxFramesPerRequest {
		return nil, "", fmt.Errorf("too many frames: %d (max %d)", len(req.Frames), maxFramesPerRequest)
	}
	frames := make([]image.Image, 0, len(req.Frames))
	for i, uri := range req.Frames {
		img, err := decodeDataURI(uri)
		if err != nil {
			return nil, "", fmt.Errorf("frame %d: %w", i, err)
		}
		frames = append(frames, img)
	}
	return frames, req.Lang, nil
}

func decodeUpload(h *multipart.FileHeader) (image.Image, error) {
	f, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	uploadSizeBytes.Observe(float64(len(data)))
	img, _, err := frame.Decode(data)
	return img, err
}

func decodeDataURI(uri string) (image.Image, error) {
	data, _, err := ocr.DecodeDataURI(uri)
	if err != nil {
		return nil, err
	}
	uploadSizeBytes.Observe(float64(len(data)))
	img, _, err := frame.Decode(data)
	return img, err
}

func format(r *http.Request) string {
	if f := r.URL.Query().Get("format"); f != "" {
		return f
	}
	return r.FormValue("format")
}

// writeJSON writes v as a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message, errType string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Success:   false,
		Error:     message,
		ErrorType: errType,
	})
}
