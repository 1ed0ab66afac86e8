//go:build gocv

package vision

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Camera captures frames from a local video device.
type Camera struct {
	mu  sync.Mutex
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

// OpenCamera opens video device index (0 is the first camera).
func OpenCamera(index int) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %d: device not available (check connection or permissions)", index)
	}
	return &Camera{vc: vc, mat: gocv.NewMat()}, nil
}

// Grab reads the next frame.
func (c *Camera) Grab() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, ErrEndOfStream
	}
	return c.mat.ToImage()
}

// Source returns a frame source backed by the camera. Closing the source
// closes the camera.
func (c *Camera) Source() *FuncSource {
	return NewSource(c.Grab, c)
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mat.Close()
	return c.vc.Close()
}

// CascadeDetector runs an OpenCV Haar cascade on grayscale frames.
type CascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	params     Params
}

// NewCascadeDetector loads the cascade XML at path.
func NewCascadeDetector(path string, p Params) (*CascadeDetector, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("load cascade %s", path)
	}
	return &CascadeDetector{classifier: c, params: p}, nil
}

func (d *CascadeDetector) Detect(img image.Image) ([]image.Rectangle, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.DetectMultiScaleWithParams(gray, d.params.ScaleFactor, d.params.MinNeighbors, 0, image.Point{}, image.Point{}), nil
}

func (d *CascadeDetector) Close() error {
	return d.classifier.Close()
}

// Window shows frames in a desktop window.
type Window struct {
	w *gocv.Window
}

// OpenWindow opens a window titled title.
func OpenWindow(title string) (*Window, error) {
	return &Window{w: gocv.NewWindow(title)}, nil
}

// Show displays img and reports whether the user pressed q.
func (w *Window) Show(img image.Image) (quit bool, err error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return false, err
	}
	defer mat.Close()
	w.w.IMShow(mat)
	return w.w.WaitKey(1)&0xFF == 'q', nil
}

func (w *Window) Close() error {
	return w.w.Close()
}
