package opencv

import (
	"errors"
	"fmt"

	"facebooth-go/config"

	log "github.com/sirupsen/logrus"
)

// Service bündelt Kamera und Gesichtsdetektor des Kiosks
type Service struct {
	Camera   *Camera
	Detector *FaceDetector
}

// NewService öffnet die Kamera und lädt das YuNet-Modell
func NewService(cfg config.OpenCVConfig) (*Service, error) {
	detector, err := NewFaceDetector(cfg)
	if err != nil {
		return nil, fmt.Errorf("fehler beim Laden des Gesichtsmodells: %w", err)
	}

	camera, err := OpenCamera(cfg)
	if err != nil {
		detector.Close()
		return nil, fmt.Errorf("fehler beim Öffnen der Kamera: %w", err)
	}

	log.Infof("OpenCV-Service initialisiert (Kamera %d, Modell %s)", cfg.CameraIndex, cfg.ModelPath)
	return &Service{Camera: camera, Detector: detector}, nil
}

// Close gibt Kamera und Modell frei
func (s *Service) Close() error {
	return errors.Join(s.Camera.Close(), s.Detector.Close())
}
