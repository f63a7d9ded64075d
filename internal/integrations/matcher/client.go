package matcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrNoFaceDetected meldet, dass das Backend im Bild kein Gesicht gefunden hat
	ErrNoFaceDetected = errors.New("backend: no face detected")
	// ErrMalformedResponse meldet eine unlesbare oder unvollständige Antwort
	ErrMalformedResponse = errors.New("backend: malformed response")
)

// StatusError ist eine Antwort mit unerwartetem HTTP-Status
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s returned status %d: %s", e.Endpoint, e.Code, e.Body)
}

// Client für das Matching-Backend
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type matchRequest struct {
	Image   string `json:"image"`
	NumVids int    `json:"numVids"`
}

type matchResponse struct {
	MostSimilar  *[]models.MatchDescriptor `json:"mostSimilar"`
	LeastSimilar *[]models.MatchDescriptor `json:"leastSimilar"`
}

type gridInfoRequest struct {
	NumVideos int `json:"numVideos"`
}

type spritesheetResponse struct {
	Spritesheet string `json:"spritesheet"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewClient erstellt einen neuen Backend-Client
func NewClient(cfg config.BackendConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name liefert den Providernamen
func (c *Client) Name() string {
	return string(ProviderHTTP)
}

// GetMatches sendet einen JPEG-Crop an /get-matches
func (c *Client) GetMatches(ctx context.Context, jpeg []byte, numVids int) (*models.MatchResult, error) {
	payload := matchRequest{
		Image:   "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
		NumVids: numVids,
	}

	resp, err := c.postJSON(ctx, "/get-matches", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNoFaceDetected
	default:
		return nil, statusError("/get-matches", resp)
	}

	var body matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if body.MostSimilar == nil || body.LeastSimilar == nil {
		return nil, fmt.Errorf("%w: match lists missing", ErrMalformedResponse)
	}

	log.Debugf("Backend returned %d most and %d least similar matches", len(*body.MostSimilar), len(*body.LeastSimilar))
	return &models.MatchResult{MostSimilar: *body.MostSimilar, LeastSimilar: *body.LeastSimilar}, nil
}

// NotifyNoFace meldet dem Backend, dass kein Gesicht mehr verfolgt wird
func (c *Client) NotifyNoFace(ctx context.Context) (*models.NoFaceResult, error) {
	resp, err := c.postJSON(ctx, "/no-face", struct{}{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("/no-face", resp)
	}

	result := &models.NoFaceResult{Success: true}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return result, nil
}

// CreateSpritesheet lädt die gepufferten Frames mit ihren Boxen hoch
func (c *Client) CreateSpritesheet(ctx context.Context, frames [][]byte, boxes []models.BoundingBox) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for i, frame := range frames {
		part, err := writer.CreateFormFile("frames", fmt.Sprintf("frame_%03d.jpg", i))
		if err != nil {
			return "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(frame); err != nil {
			return "", fmt.Errorf("failed to write frame data: %w", err)
		}
	}

	boxJSON, err := json.Marshal(boxes)
	if err != nil {
		return "", fmt.Errorf("failed to encode boxes: %w", err)
	}
	if err := writer.WriteField("bboxes", string(boxJSON)); err != nil {
		return "", fmt.Errorf("failed to write boxes: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	resp, err := c.post(ctx, "/create-spritesheet", writer.FormDataContentType(), body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("/create-spritesheet", resp)
	}

	// Ältere Backends antworten ohne JSON-Körper
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return "", nil
	}
	var out spritesheetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out.Spritesheet, nil
}

// GridInfo teilt dem Backend die Anzahl der Videos im Raster mit
func (c *Client) GridInfo(ctx context.Context, numVideos int) error {
	resp, err := c.postJSON(ctx, "/grid-info", gridInfoRequest{NumVideos: numVideos})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("/grid-info", resp)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return c.post(ctx, endpoint, "application/json", bytes.NewReader(data))
}

func (c *Client) post(ctx context.Context, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	apiURL, err := url.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	return resp, nil
}

func statusError(endpoint string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	var e errorResponse
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: msg}
}
