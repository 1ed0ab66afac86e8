package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Haar cascade for frontal faces shipped with OpenCV.
const (
	CascadeURL      = "https://raw.githubusercontent.com/opencv/opencv/master/data/haarcascades/haarcascade_frontalface_default.xml"
	CascadeFilename = "haarcascade_frontalface_default.xml"
)

// EnsureCascade downloads url to path unless path already exists. The file
// is written to a temporary name first so a failed download leaves nothing
// behind.
func EnsureCascade(ctx context.Context, client *http.Client, path, url string, log logrus.FieldLogger) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{"url": url, "path": path}).Info("downloading cascade")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download cascade: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download cascade: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cascade-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download cascade: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	log.WithField("path", path).Info("cascade downloaded")
	return nil
}
