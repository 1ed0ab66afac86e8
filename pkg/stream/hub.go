// Package stream serves annotated camera frames as an MJPEG
// (multipart/x-mixed-replace) HTTP stream.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/servosweep/pkg/vision"
)

// ErrClosed is returned by Next once the hub's source has ended and the
// caller has already seen the last frame.
var ErrClosed = errors.New("stream closed")

// Snapshot is an encoded frame.
type Snapshot struct {
	JPEG  []byte
	Seq   uint64
	Faces int
	Time  time.Time
}

// Status summarizes hub activity.
type Status struct {
	Frames   uint64    `json:"frames"`
	Faces    int       `json:"faces"`
	Arrivals int       `json:"arrivals"`
	LastSeq  uint64    `json:"last_seq"`
	LastAt   time.Time `json:"last_at"`
	Closed   bool      `json:"closed"`
	Error    string    `json:"error,omitempty"`
}

// HubOptions configures a Hub.
type HubOptions struct {
	Source   vision.Source
	Detector vision.Detector // optional
	Label    string
	Quality  int // JPEG quality, default 80
	Width    int // resize to this width when > 0
	Log      logrus.FieldLogger
}

// Hub pulls frames from a source, detects and annotates faces, and keeps
// the latest encoded frame. Readers pull at their own pace and skip frames
// they were too slow for, so acquisition never waits on the network.
type Hub struct {
	opts     HubOptions
	presence vision.Presence

	mu       sync.Mutex
	latest   *Snapshot
	updated  chan struct{}
	frames   uint64
	arrivals int
	closed   bool
	err      error
}

// NewHub creates a hub. Call Run to start acquisition.
func NewHub(opts HubOptions) *Hub {
	if opts.Quality <= 0 {
		opts.Quality = 80
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Hub{opts: opts, updated: make(chan struct{})}
}

// Run consumes the source until it ends or ctx is cancelled. End of stream
// is not an error.
func (h *Hub) Run(ctx context.Context) error {
	var runErr error
	for f, err := range h.opts.Source.Frames(ctx) {
		if err != nil {
			if !errors.Is(err, vision.ErrEndOfStream) {
				runErr = err
			}
			break
		}
		snap, err := h.process(f)
		if err != nil {
			h.opts.Log.WithError(err).WithField("seq", f.Seq).Warn("dropping frame")
			continue
		}
		h.publish(snap)
	}

	h.mu.Lock()
	h.closed = true
	h.err = runErr
	close(h.updated)
	h.mu.Unlock()
	return runErr
}

func (h *Hub) process(f vision.Frame) (*Snapshot, error) {
	img := f.Image
	var rects []image.Rectangle
	if h.opts.Detector != nil {
		var err error
		rects, err = h.opts.Detector.Detect(img)
		if err != nil {
			// Serve the raw frame rather than stalling the stream.
			h.opts.Log.WithError(err).WithField("seq", f.Seq).Debug("detect failed")
			rects = nil
		}
	}
	if h.presence.Update(len(rects)) {
		h.opts.Log.WithFields(logrus.Fields{"seq": f.Seq, "faces": len(rects)}).Info("hi coucou - new face detected")
		h.mu.Lock()
		h.arrivals++
		h.mu.Unlock()
	}
	if len(rects) > 0 {
		img = vision.Annotate(img, rects, h.opts.Label)
	}
	if h.opts.Width > 0 && img.Bounds().Dx() != h.opts.Width {
		img = imaging.Resize(img, h.opts.Width, 0, imaging.Linear)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(h.opts.Quality)); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}
	return &Snapshot{JPEG: buf.Bytes(), Seq: f.Seq, Faces: len(rects), Time: f.Time}, nil
}

func (h *Hub) publish(s *Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = s
	h.frames++
	close(h.updated)
	h.updated = make(chan struct{})
}

// Next returns the latest snapshot with Seq >= next, waiting for one if
// needed.
func (h *Hub) Next(ctx context.Context, next uint64) (Snapshot, error) {
	for {
		h.mu.Lock()
		if h.latest != nil && h.latest.Seq >= next {
			s := *h.latest
			h.mu.Unlock()
			return s, nil
		}
		if h.closed {
			h.mu.Unlock()
			return Snapshot{}, ErrClosed
		}
		ch := h.updated
		h.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
}

// Status returns a summary of the hub.
func (h *Hub) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Status{
		Frames:   h.frames,
		Arrivals: h.arrivals,
		Closed:   h.closed,
	}
	if h.latest != nil {
		st.Faces = h.latest.Faces
		st.LastSeq = h.latest.Seq
		st.LastAt = h.latest.Time
	}
	if h.err != nil {
		st.Error = h.err.Error()
	}
	return st
}
