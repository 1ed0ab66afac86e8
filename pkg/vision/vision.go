// Package vision holds the camera/detector collaborators used by the stream
// and detect commands: a pull-based frame source, a face detector interface,
// and helpers to track and draw detections.
package vision

import (
	"context"
	"errors"
	"image"
	"io"
	"iter"
	"sync/atomic"
	"time"
)

var (
	// ErrSourceConsumed is yielded when Frames is called a second time.
	ErrSourceConsumed = errors.New("frame source already consumed")
	// ErrEndOfStream is returned by a grab function when no more frames
	// will arrive.
	ErrEndOfStream = errors.New("end of frame stream")
	// ErrNoBackend is returned when the binary was built without gocv.
	ErrNoBackend = errors.New("built without camera support (rebuild with -tags gocv)")
)

// Frame is one captured image.
type Frame struct {
	Image image.Image
	Seq   uint64
	Time  time.Time
}

// Source produces a lazy, infinite, non-restartable sequence of frames.
type Source interface {
	Frames(ctx context.Context) iter.Seq2[Frame, error]
	Close() error
}

// Detector finds faces in an image.
type Detector interface {
	Detect(img image.Image) ([]image.Rectangle, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(img image.Image) ([]image.Rectangle, error)

func (f DetectorFunc) Detect(img image.Image) ([]image.Rectangle, error) { return f(img) }

// Params are the cascade detectMultiScale parameters.
type Params struct {
	ScaleFactor  float64
	MinNeighbors int
}

// DefaultParams returns scaleFactor 1.1 and minNeighbors 5.
func DefaultParams() Params {
	return Params{ScaleFactor: 1.1, MinNeighbors: 5}
}

// GrabFunc captures a single frame.
type GrabFunc func() (image.Image, error)

// FuncSource turns a GrabFunc into a Source. A grab error ends the stream
// after being yielded once.
type FuncSource struct {
	grab    GrabFunc
	closer  io.Closer
	started atomic.Bool
	now     func() time.Time
}

// NewSource wraps grab. closer may be nil.
func NewSource(grab GrabFunc, closer io.Closer) *FuncSource {
	return &FuncSource{grab: grab, closer: closer, now: time.Now}
}

func (s *FuncSource) Frames(ctx context.Context) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		if !s.started.CompareAndSwap(false, true) {
			yield(Frame{}, ErrSourceConsumed)
			return
		}
		for seq := uint64(0); ; seq++ {
			if ctx.Err() != nil {
				return
			}
			img, err := s.grab()
			if err != nil {
				yield(Frame{}, err)
				return
			}
			if !yield(Frame{Image: img, Seq: seq, Time: s.now()}, nil) {
				return
			}
		}
	}
}

func (s *FuncSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Presence tracks the face count between frames and reports arrivals.
type Presence struct {
	prev int
}

// Update records count and reports whether faces appeared after a frame
// with none.
func (p *Presence) Update(count int) bool {
	arrived := count > 0 && p.prev == 0
	p.prev = count
	return arrived
}
