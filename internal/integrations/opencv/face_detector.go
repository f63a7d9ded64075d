package opencv

import (
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"

	"facebooth-go/config"
	"facebooth-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Spalten einer YuNet-Ergebniszeile
const (
	yunetColumns  = 15
	colScore      = 14
	colLandmarks0 = 4
)

// FaceDetector erkennt Gesichter mit dem YuNet-Modell von OpenCV
type FaceDetector struct {
	mu       sync.Mutex
	detector gocv.FaceDetectorYN
	size     image.Point
	closed   bool
}

// NewFaceDetector lädt das ONNX-Modell aus cfg.ModelPath
func NewFaceDetector(cfg config.OpenCVConfig) (*FaceDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("modelldatei nicht gefunden: %s: %w", cfg.ModelPath, err)
	}

	score := cfg.ScoreThreshold
	if score <= 0 {
		score = 0.6
	}
	nms := cfg.NMSThreshold
	if nms <= 0 {
		nms = 0.3
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5000
	}
	size := image.Pt(cfg.FrameWidth, cfg.FrameHeight)
	if size.X <= 0 || size.Y <= 0 {
		size = image.Pt(640, 480)
	}

	backend, target := selectBackend(cfg.UseGPU)
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath, "", size,
		float32(score), float32(nms), topK,
		int(backend), int(target),
	)

	log.WithFields(log.Fields{
		"model":   cfg.ModelPath,
		"score":   score,
		"backend": backend,
		"target":  target,
	}).Info("YuNet-Gesichtsdetektor geladen")

	return &FaceDetector{detector: detector, size: size}, nil
}

// Detect liefert alle Gesichter im Bild in Pixelkoordinaten
func (d *FaceDetector) Detect(frame image.Image) ([]models.Candidate, error) {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("bild konnte nicht konvertiert werden: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("gesichtsdetektor geschlossen")
	}

	if size := image.Pt(mat.Cols(), mat.Rows()); size != d.size {
		d.detector.SetInputSize(size)
		d.size = size
	}

	faces := gocv.NewMat()
	defer faces.Close()
	d.detector.Detect(mat, &faces)

	if faces.Rows() > 0 && faces.Cols() < yunetColumns {
		return nil, fmt.Errorf("unerwartetes YuNet-Ergebnis mit %d Spalten", faces.Cols())
	}

	candidates := make([]models.Candidate, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		candidates = append(candidates, parseRow(func(c int) float64 {
			return float64(faces.GetFloatAt(r, c))
		}))
	}
	return candidates, nil
}

// parseRow liest x, y, w, h, fünf Landmarken und den Score einer Zeile
func parseRow(at func(col int) float64) models.Candidate {
	point := func(i int) models.Point {
		return models.Point{X: at(colLandmarks0 + 2*i), Y: at(colLandmarks0 + 2*i + 1)}
	}
	return models.Candidate{
		Box: models.BoundingBox{
			X:      at(0),
			Y:      at(1),
			Width:  at(2),
			Height: at(3),
		},
		Confidence: at(colScore),
		Landmarks: &models.Landmarks{
			RightEye:   point(0),
			LeftEye:    point(1),
			Nose:       point(2),
			MouthRight: point(3),
			MouthLeft:  point(4),
		},
	}
}

// Close gibt das Modell frei
func (d *FaceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		d.detector.Close()
	}
	return nil
}

// selectBackend wählt Backend und Target für das DNN-Modul
func selectBackend(useGPU bool) (gocv.NetBackendType, gocv.NetTargetType) {
	if !useGPU {
		return gocv.NetBackendDefault, gocv.NetTargetCPU
	}
	if haveNvidiaGPU() {
		log.Info("NVIDIA GPU erkannt, verwende CUDA-Backend")
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA
	}
	if haveAMDGPU() {
		log.Info("AMD GPU erkannt, verwende OpenCL-Target")
		return gocv.NetBackendOpenCV, gocv.NetTargetFP32
	}
	log.Warn("GPU-Nutzung aktiviert, aber keine unterstützte GPU erkannt. Verwende CPU.")
	return gocv.NetBackendDefault, gocv.NetTargetCPU
}

// haveNvidiaGPU prüft, ob eine NVIDIA-GPU verfügbar ist
func haveNvidiaGPU() bool {
	if os.Getenv("NVIDIA_VISIBLE_DEVICES") != "" {
		return true
	}
	for _, path := range []string{
		"/usr/local/cuda/lib64/libcudart.so",
		"/usr/lib/x86_64-linux-gnu/libcuda.so",
		"/usr/bin/nvidia-smi",
	} {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// haveAMDGPU prüft unter Linux auf ROCm- bzw. DRI-Geräte
func haveAMDGPU() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	for _, path := range []string{"/dev/kfd", "/dev/dri/renderD128"} {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
