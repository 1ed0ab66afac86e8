//go:build !gocv

package vision

import "image"

// Camera is only available in gocv builds.
type Camera struct{}

func OpenCamera(index int) (*Camera, error) { return nil, ErrNoBackend }

func (c *Camera) Grab() (image.Image, error) { return nil, ErrNoBackend }

func (c *Camera) Source() *FuncSource { return NewSource(c.Grab, c) }

func (c *Camera) Close() error { return nil }

// CascadeDetector is only available in gocv builds.
type CascadeDetector struct{}

func NewCascadeDetector(path string, p Params) (*CascadeDetector, error) { return nil, ErrNoBackend }

func (d *CascadeDetector) Detect(img image.Image) ([]image.Rectangle, error) {
	return nil, ErrNoBackend
}

func (d *CascadeDetector) Close() error { return nil }

// Window is only available in gocv builds.
type Window struct{}

func OpenWindow(title string) (*Window, error) { return nil, ErrNoBackend }

func (w *Window) Show(img image.Image) (bool, error) { return false, ErrNoBackend }

func (w *Window) Close() error { return nil }
