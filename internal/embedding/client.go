package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

const defaultServerURL = "http://localhost:8000"

// ErrNoFaceDetected is returned when the embedding server finds no face in
// the submitted image.
var ErrNoFaceDetected = errors.New("no face detected in image")

// Client talks to the face embedding server. One server hosts all
// verification models; the model is selected per request.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new embedding server client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultServerURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
	}
}

// faceResponse represents the response from the face embedding endpoint.
type faceResponse struct {
	FacesCount int         `json:"faces_count"`
	Faces      []faceEntry `json:"faces"`
	Model      string      `json:"model"`
}

type faceEntry struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	DetScore  float64   `json:"det_score"`
}

// postMultipartImage constructs a multipart form with the image data and
// posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// ExtractFace detects the most prominent face in the image and returns its
// embedding computed by the given model. Returns ErrNoFaceDetected when the
// server finds no face.
func (c *Client) ExtractFace(ctx context.Context, model string, imageData []byte) ([]float32, error) {
	endpoint := "/embed/face"
	if model != "" {
		endpoint += "?" + url.Values{"model": {model}}.Encode()
	}

	body, err := c.postMultipartImage(ctx, endpoint, imageData)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if faceResp.FacesCount == 0 || len(faceResp.Faces) == 0 {
		return nil, ErrNoFaceDetected
	}

	// The server orders faces by detection score; take the best one.
	best := faceResp.Faces[0]
	if len(best.Embedding) == 0 {
		return nil, ErrNoFaceDetected
	}

	return best.Embedding, nil
}

// detectMIMEType detects the MIME type from image data.
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
