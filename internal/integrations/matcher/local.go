package matcher

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"facebooth-go/internal/core/imaging"
	"facebooth-go/internal/core/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// LocalProvider ist ein Offline-Backend für Demos: es wählt zufällige
// Sprite-Sheets aus einem Verzeichnis und setzt hochgeladene Frames selbst
// zu einem Sprite-Sheet zusammen.
//
// Erwartete Struktur: <dir>/<video>/spritesheet/<numImages>.jpg
type LocalProvider struct {
	dir     string
	outDir  string
	columns int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewLocalProvider erstellt einen LocalProvider. columns ist die Spaltenzahl
// erzeugter Sprite-Sheets.
func NewLocalProvider(dir string, columns int, seed int64) *LocalProvider {
	if columns < 1 {
		columns = 1
	}
	return &LocalProvider{
		dir:     dir,
		outDir:  filepath.Join(dir, "captures"),
		columns: columns,
		rnd:     rand.New(rand.NewSource(seed)),
	}
}

// Name liefert den Providernamen
func (p *LocalProvider) Name() string {
	return string(ProviderLocal)
}

// GetMatches wählt bis zu numVids zufällige Videos
func (p *LocalProvider) GetMatches(ctx context.Context, jpegData []byte, numVids int) (*models.MatchResult, error) {
	if len(jpegData) == 0 {
		return nil, ErrNoFaceDetected
	}
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sprite directory: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != filepath.Base(p.outDir) {
			dirs = append(dirs, e.Name())
		}
	}

	p.mu.Lock()
	p.rnd.Shuffle(len(dirs), func(i, j int) { dirs[i], dirs[j] = dirs[j], dirs[i] })
	p.mu.Unlock()

	var selected []models.MatchDescriptor
	for _, d := range dirs {
		if len(selected) >= numVids {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc, ok := p.pick(d)
		if ok {
			selected = append(selected, desc)
		}
	}

	half := (numVids + 1) / 2
	most := selected[:min(half, len(selected))]
	least := make([]models.MatchDescriptor, 0, half)
	for i := len(selected) - 1; i >= 0 && len(least) < half; i-- {
		least = append(least, selected[i])
	}
	return &models.MatchResult{MostSimilar: most, LeastSimilar: least}, nil
}

func (p *LocalProvider) pick(video string) (models.MatchDescriptor, bool) {
	files, err := os.ReadDir(filepath.Join(p.dir, video, "spritesheet"))
	if err != nil {
		log.Debugf("Skipping %s: %v", video, err)
		return models.MatchDescriptor{}, false
	}
	var jpgs []string
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f.Name()), ".jpg") {
			jpgs = append(jpgs, f.Name())
		}
	}
	if len(jpgs) == 0 {
		return models.MatchDescriptor{}, false
	}

	p.mu.Lock()
	name := jpgs[p.rnd.Intn(len(jpgs))]
	distance := p.rnd.Float64()
	p.mu.Unlock()

	n, _ := strconv.Atoi(strings.TrimSuffix(name, filepath.Ext(name)))
	return models.MatchDescriptor{Path: video, NumImages: n, Distance: distance}, true
}

// NotifyNoFace hat lokal nichts zu tun
func (p *LocalProvider) NotifyNoFace(context.Context) (*models.NoFaceResult, error) {
	return &models.NoFaceResult{Success: true}, nil
}

// CreateSpritesheet setzt die Frames zeilenweise zu einem Raster zusammen und
// speichert es unter <dir>/captures/<uuid>/spritesheet/<frames>.jpg
func (p *LocalProvider) CreateSpritesheet(ctx context.Context, frames [][]byte, _ []models.BoundingBox) (string, error) {
	if len(frames) == 0 {
		return "", fmt.Errorf("no frames to combine")
	}

	tiles := make([]image.Image, 0, len(frames))
	for i, data := range frames {
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("failed to decode frame %d: %w", i, err)
		}
		tiles = append(tiles, img)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tile := tiles[0].Bounds().Size()
	cols := min(p.columns, len(tiles))
	rows := (len(tiles) + cols - 1) / cols
	sheet := image.NewRGBA(image.Rect(0, 0, cols*tile.X, rows*tile.Y))
	for i, t := range tiles {
		at := image.Pt((i%cols)*tile.X, (i/cols)*tile.Y)
		draw.Draw(sheet, image.Rectangle{Min: at, Max: at.Add(tile)}, t, t.Bounds().Min, draw.Src)
	}

	data, err := imaging.EncodeJPEG(sheet)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	dir := filepath.Join(p.outDir, id, "spritesheet")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create capture directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.jpg", len(tiles)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write spritesheet: %w", err)
	}

	log.Infof("Created local spritesheet %s with %d frames", path, len(tiles))
	return filepath.Join(filepath.Base(p.outDir), id), nil
}

// GridInfo hat lokal nichts zu tun
func (p *LocalProvider) GridInfo(context.Context, int) error {
	return nil
}
