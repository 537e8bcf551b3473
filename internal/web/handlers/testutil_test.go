package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"testing"
)

// testJPEG returns a small valid JPEG image.
func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

// multipartBody builds a multipart form with string fields and file parts.
func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("WriteField(%s) error = %v", name, err)
		}
	}
	for name, data := range files {
		part, err := mw.CreateFormFile(name, name+".jpg")
		if err != nil {
			t.Fatalf("CreateFormFile(%s) error = %v", name, err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("writing %s part: %v", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// fakeExtractor returns a fixed embedding or error for any model.
type fakeExtractor struct {
	vec []float32
	err error
}

func (f *fakeExtractor) ExtractFace(ctx context.Context, model string, imageData []byte) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}
