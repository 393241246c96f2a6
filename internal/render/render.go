// Package render rasterizes chunk documents into page images with go-fitz.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// DefaultDPI is used when no resolution is configured.
const DefaultDPI = 150

// PageImage is one rendered page on disk.
type PageImage struct {
	Page     int
	Path     string
	MIMEType string
	Size     int64
}

// Renderer turns PDF pages into PNG images.
type Renderer struct {
	dpi float64
}

// NewRenderer creates a renderer at dpi, falling back to DefaultDPI for non-positive values.
func NewRenderer(dpi int) *Renderer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Renderer{dpi: float64(dpi)}
}

// IsImage reports whether path already is a raster image that needs no rendering.
func IsImage(path string) bool {
	_, ok := imageMIMEType(path)
	return ok
}

// MIMEType returns the image MIME type for path, or "" for non-images.
func MIMEType(path string) string {
	m, _ := imageMIMEType(path)
	return m
}

func imageMIMEType(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png", true
	case ".jpg", ".jpeg":
		return "image/jpeg", true
	}
	return "", false
}

// EachPage calls fn with the PNG encoding of every page of the document at path, in order, stopping
// after limit pages when limit > 0. A raster image source is passed through as its single page.
func (r *Renderer) EachPage(ctx context.Context, path string, limit int, fn func(page int, mimeType string, data []byte) error) error {
	if mime, ok := imageMIMEType(path); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		return fn(1, mime, data)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return fmt.Errorf("failed to open document for rendering: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if limit > 0 && n > limit {
		n = limit
	}
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := doc.ImageDPI(i, r.dpi)
		if err != nil {
			return fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		buf.Reset()
		if err := png.Encode(&buf, img); err != nil {
			return fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		if err := fn(i+1, "image/png", buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// Render writes up to limit page images of the document at path into outDir.
func (r *Renderer) Render(ctx context.Context, path, outDir string, limit int) ([]PageImage, error) {
	var pages []PageImage
	err := r.EachPage(ctx, path, limit, func(page int, mimeType string, data []byte) error {
		ext := ".png"
		if mimeType == "image/jpeg" {
			ext = ".jpg"
		}
		out := filepath.Join(outDir, fmt.Sprintf("page_%03d%s", page, ext))
		if err := os.WriteFile(out, data, 0o600); err != nil {
			return fmt.Errorf("failed to write page %d: %w", page, err)
		}
		pages = append(pages, PageImage{Page: page, Path: out, MIMEType: mimeType, Size: int64(len(data))})
		return nil
	})
	return pages, err
}
