// Package ocr extracts text from chunk documents with Tesseract.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/Lllllllleong/documentextraction/internal/render"
)

// Tesseract renders each page and runs Tesseract over it.
type Tesseract struct {
	renderer      *render.Renderer
	languages     []string
	dpi           int
	clientFactory func() *gosseract.Client
}

// NewTesseract creates an OCR provider. languages is a "+" or "," separated Tesseract language list.
func NewTesseract(renderer *render.Renderer, languages string, dpi int) *Tesseract {
	return &Tesseract{
		renderer:      renderer,
		languages:     splitLanguages(languages),
		dpi:           dpi,
		clientFactory: gosseract.NewClient,
	}
}

func splitLanguages(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' || r == ' ' })
	if len(fields) == 0 {
		return []string{"eng"}
	}
	return fields
}

// ExtractText returns the text of every page of the document at path, one page per paragraph.
func (t *Tesseract) ExtractText(ctx context.Context, path string) (string, error) {
	c := t.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("set languages: %w", err)
	}
	if t.dpi > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(t.dpi)); err != nil {
			return "", fmt.Errorf("set dpi: %w", err)
		}
	}

	var pages []string
	err := t.renderer.EachPage(ctx, path, 0, func(page int, _ string, data []byte) error {
		if err := c.SetImageFromBytes(data); err != nil {
			return fmt.Errorf("set image for page %d: %w", page, err)
		}
		text, err := c.Text()
		if err != nil {
			return fmt.Errorf("recognize page %d: %w", page, err)
		}
		if plain := strings.TrimSpace(text); plain != "" {
			pages = append(pages, plain)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.Debug("OCR finished.", "path", path, "pagesWithText", len(pages))
	return strings.Join(pages, "\n\n"), nil
}
