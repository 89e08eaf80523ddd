// Package camera abstracts where live frames come from.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/MeKo-Tech/bpvoice/internal/frame"
)

// ErrNoStream is returned by Frame when the source is not streaming.
var ErrNoStream = errors.New("camera stream not started")

// ErrNoFrame is returned by Frame when the stream has not produced a frame yet.
var ErrNoFrame = errors.New("no frame available")

// FacingEnvironment requests the rear camera.
const FacingEnvironment = "environment"

// Constraints are hints for stream acquisition.
type Constraints struct {
	FacingMode string `mapstructure:"facing_mode" yaml:"facing_mode" json:"facing_mode"`
	Width      int    `mapstructure:"width" yaml:"width" json:"width"`
	Height     int    `mapstructure:"height" yaml:"height" json:"height"`
}

// DefaultConstraints asks for the rear camera at roughly 1280x720.
func DefaultConstraints() Constraints {
	return Constraints{FacingMode: FacingEnvironment, Width: 1280, Height: 720}
}

// AcquisitionError reports a failure to start the stream.
type AcquisitionError struct {
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("camera acquisition error in %s: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Source yields frames from a live stream.
type Source interface {
	Start(ctx context.Context, c Constraints) error
	Frame(ctx context.Context) (image.Image, error)
	Stop() error
}

// DirSource replays the images of a directory in name order, looping at the end.
type DirSource struct {
	Dir string

	mu      sync.Mutex
	paths   []string
	next    int
	running bool
}

// NewDirSource returns a source over dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

// Start lists the frames of the directory.
func (s *DirSource) Start(_ context.Context, _ Constraints) error {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return &AcquisitionError{Source: s.Dir, Err: err}
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !frame.IsSupported(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(s.Dir, e.Name()))
	}
	if len(paths) == 0 {
		return &AcquisitionError{Source: s.Dir, Err: errors.New("no frames found")}
	}
	sort.Strings(paths)

	s.mu.Lock()
	s.paths = paths
	s.next = 0
	s.running = true
	s.mu.Unlock()
	return nil
}

// Frame loads the next file.
func (s *DirSource) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, ErrNoStream
	}
	path := s.paths[s.next]
	s.next = (s.next + 1) % len(s.paths)
	s.mu.Unlock()

	img, _, err := frame.Load(path)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Len returns the number of frames found by Start.
func (s *DirSource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

// Stop ends the stream.
func (s *DirSource) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// PushSource holds the latest frame delivered by a remote client.
type PushSource struct {
	mu      sync.Mutex
	latest  image.Image
	running bool
	c       Constraints
}

// NewPushSource returns an idle push source.
func NewPushSource() *PushSource {
	return &PushSource{}
}

// Start marks the stream as live and drops any stale frame.
func (s *PushSource) Start(_ context.Context, c Constraints) error {
	s.mu.Lock()
	s.running = true
	s.latest = nil
	s.c = c
	s.mu.Unlock()
	return nil
}

// Constraints returns the hints passed to Start, for relaying to the client.
func (s *PushSource) Constraints() Constraints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

// Push replaces the latest frame. Frames pushed while stopped are dropped.
func (s *PushSource) Push(img image.Image) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.latest = img
	return true
}

// Frame returns the latest frame.
func (s *PushSource) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, ErrNoStream
	}
	if s.latest == nil {
		return nil, ErrNoFrame
	}
	return s.latest, nil
}

// Stop ends the stream.
func (s *PushSource) Stop() error {
	s.mu.Lock()
	s.running = false
	s.latest = nil
	s.mu.Unlock()
	return nil
}
