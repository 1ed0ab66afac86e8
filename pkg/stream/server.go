package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const boundary = "frame"

const indexHTML = `<!doctype html>
<html>
<head><title>servosweep</title></head>
<body>
<h1>Face detection</h1>
<img src="/video_feed">
</body>
</html>
`

// Server serves the hub's frames over HTTP.
type Server struct {
	hub       *Hub
	log       logrus.FieldLogger
	startTime time.Time
}

// NewServer creates a server for hub.
func NewServer(hub *Hub, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{hub: hub, log: log, startTime: time.Now()}
}

// Engine returns a gin engine with CORS and the stream routes.
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	s.SetupRoutes(r)
	return r
}

// SetupRoutes registers the routes on r.
func (s *Server) SetupRoutes(r *gin.Engine) {
	r.GET("/", s.handleIndex)
	r.GET("/video_feed", s.handleVideoFeed)

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": s.hub.Status(),
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleVideoFeed(c *gin.Context) {
	ctx := c.Request.Context()
	log := s.log.WithField("remote", c.ClientIP())
	log.Debug("stream client connected")

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	c.Header("Cache-Control", "no-cache, private")
	c.Header("Pragma", "no-cache")

	var next uint64
	c.Stream(func(w io.Writer) bool {
		snap, err := s.hub.Next(ctx, next)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				fmt.Fprintf(w, "--%s--\r\n", boundary)
			}
			return false
		}
		if err := writePart(w, snap.JPEG); err != nil {
			log.WithError(err).Debug("stream write failed")
			return false
		}
		next = snap.Seq + 1
		return true
	})
	log.Debug("stream client disconnected")
}

func writePart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
