package opencv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/core/models"

	gocv "gocv.io/x/gocv"
)

// ErrCameraClosed wird nach Close von Read geliefert
var ErrCameraClosed = errors.New("camera closed")

// Camera liest Frames von einem lokalen Videogerät
type Camera struct {
	mu     sync.Mutex
	device *gocv.VideoCapture
	mat    gocv.Mat
	index  uint64
	closed bool
}

// OpenCamera öffnet das Gerät cfg.CameraIndex in der konfigurierten Auflösung
func OpenCamera(cfg config.OpenCVConfig) (*Camera, error) {
	device, err := gocv.OpenVideoCapture(cfg.CameraIndex)
	if err != nil {
		return nil, fmt.Errorf("kamera %d nicht verfügbar: %w", cfg.CameraIndex, err)
	}
	if cfg.FrameWidth > 0 && cfg.FrameHeight > 0 {
		device.Set(gocv.VideoCaptureFrameWidth, float64(cfg.FrameWidth))
		device.Set(gocv.VideoCaptureFrameHeight, float64(cfg.FrameHeight))
	}
	return &Camera{device: device, mat: gocv.NewMat()}, nil
}

// Read liest das nächste Frame. Ein leeres Bild vom Gerät ist ein Fehler.
func (c *Camera) Read(ctx context.Context) (models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return models.Frame{}, ErrCameraClosed
	}

	if ok := c.device.Read(&c.mat); !ok || c.mat.Empty() {
		return models.Frame{}, errors.New("kamera lieferte kein Bild")
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return models.Frame{}, fmt.Errorf("frame konnte nicht konvertiert werden: %w", err)
	}

	c.index++
	return models.Frame{Image: img, Timestamp: time.Now(), Index: c.index}, nil
}

// Close gibt das Gerät frei. Wiederholte Aufrufe sind wirkungslos.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.mat.Close()
	return c.device.Close()
}
