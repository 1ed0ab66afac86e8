package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/servosweep/pkg/stream"
	"github.com/gwillem/servosweep/pkg/vision"
)

// CameraOptions are shared by the stream and detect commands.
type CameraOptions struct {
	Camera    int     `long:"camera" default:"0" description:"Video device index"`
	Cascade   string  `long:"cascade" default:"haarcascade_frontalface_default.xml" description:"Haar cascade file (downloaded if missing)"`
	Scale     float64 `long:"scale" default:"1.1" description:"Cascade scale factor"`
	Neighbors int     `long:"neighbors" default:"5" description:"Cascade minimum neighbors"`
	Label     string  `long:"label" default:"Coucou" description:"Text drawn above each face"`
}

// open downloads the cascade if needed and opens the detector and camera.
func (f *CameraOptions) open(ctx context.Context, log logrus.FieldLogger) (*vision.Camera, *vision.CascadeDetector, error) {
	dlCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := vision.EnsureCascade(dlCtx, nil, f.Cascade, vision.CascadeURL, log); err != nil {
		return nil, nil, fmt.Errorf("cascade: %w", err)
	}
	det, err := vision.NewCascadeDetector(f.Cascade, vision.Params{
		ScaleFactor:  f.Scale,
		MinNeighbors: f.Neighbors,
	})
	if err != nil {
		return nil, nil, err
	}
	cam, err := vision.OpenCamera(f.Camera)
	if err != nil {
		det.Close()
		return nil, nil, err
	}
	return cam, det, nil
}

type StreamCommand struct {
	CameraOptions
	Addr    string `long:"addr" default:":5000" description:"HTTP listen address"`
	Width   int    `long:"width" description:"Resize frames to this width (0 keeps the camera size)"`
	Quality int    `long:"quality" default:"80" description:"JPEG quality"`
}

func (c *StreamCommand) Execute(args []string) error {
	log := newLogger()
	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cam, det, err := c.open(ctx, log)
	if err != nil {
		return err
	}
	defer det.Close()

	src := cam.Source()
	defer src.Close()

	hub := stream.NewHub(stream.HubOptions{
		Source:   src,
		Detector: det,
		Label:    c.Label,
		Quality:  c.Quality,
		Width:    c.Width,
		Log:      log,
	})
	hubErr := make(chan error, 1)
	go func() { hubErr <- hub.Run(ctx) }()

	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           stream.NewServer(hub, log).Engine(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		log.WithField("addr", c.Addr).Info("serving MJPEG stream on /video_feed")
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case err = <-srvErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		stop()
	case err = <-hubErr:
		if err != nil {
			log.WithError(err).Error("camera stopped")
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("shutdown")
	}
	log.Info("stream stopped")
	return err
}

type DetectCommand struct {
	CameraOptions
	Headless bool `long:"headless" description:"Do not open a preview window"`
}

func (c *DetectCommand) Execute(args []string) error {
	log := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cam, det, err := c.open(ctx, log)
	if err != nil {
		return err
	}
	defer det.Close()

	src := cam.Source()
	defer src.Close()

	var win *vision.Window
	if !c.Headless {
		win, err = vision.OpenWindow("servosweep detect")
		if err != nil {
			log.WithError(err).Warn("no preview window, logging detections only")
			win = nil
		} else {
			defer win.Close()
		}
	}

	var presence vision.Presence
	for f, err := range src.Frames(ctx) {
		if err != nil {
			if errors.Is(err, vision.ErrEndOfStream) {
				return nil
			}
			return err
		}
		rects, err := det.Detect(f.Image)
		if err != nil {
			log.WithError(err).WithField("seq", f.Seq).Warn("detect")
			continue
		}
		if presence.Update(len(rects)) {
			fmt.Println("hi coucou - new face detected")
		}
		if win == nil {
			continue
		}
		quit, err := win.Show(vision.Annotate(f.Image, rects, c.Label))
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
	return nil
}
