package parsing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"docflow/internal/mimes"
)

// Tesseract runs the tesseract CLI. PDF pages are rasterised with pdftoppm
// first; images are one page.
type Tesseract struct {
	Path     string
	Pdftoppm string
	Run      CommandRunner
}

func NewTesseract(path, pdftoppm string) *Tesseract {
	return &Tesseract{Path: path, Pdftoppm: pdftoppm, Run: execCommand}
}

func (o *Tesseract) Name() string { return "tesseract" }

func (o *Tesseract) runner() CommandRunner {
	if o.Run == nil {
		return execCommand
	}
	return o.Run
}

func (o *Tesseract) Process(ctx context.Context, t *Target) error {
	path, err := t.Spool(ctx)
	if err != nil {
		return err
	}
	if t.Version.MimeType != mimes.PDF {
		text, err := o.recognize(ctx, path, t.Language)
		if err != nil {
			return err
		}
		return t.Save(ctx, 1, text)
	}

	dir, err := os.MkdirTemp("", "docflow-ocr-*")
	if err != nil {
		return fmt.Errorf("create raster dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for _, p := range t.Pages {
		n := strconv.Itoa(p.PageNumber)
		prefix := filepath.Join(dir, "page-"+n)
		if _, err := o.runner()(ctx, o.Pdftoppm, "-f", n, "-l", n, "-r", "300", "-singlefile", "-png", path, prefix); err != nil {
			return fmt.Errorf("rasterise page %d: %w", p.PageNumber, err)
		}
		text, err := o.recognize(ctx, prefix+".png", t.Language)
		if err != nil {
			return fmt.Errorf("ocr page %d: %w", p.PageNumber, err)
		}
		if err := t.Save(ctx, p.PageNumber, text); err != nil {
			return err
		}
	}
	return nil
}

func (o *Tesseract) recognize(ctx context.Context, image, language string) (string, error) {
	args := []string{image, "stdout"}
	if language != "" {
		args = append(args, "-l", language)
	}
	out, err := o.runner()(ctx, o.Path, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NoopOCR accepts every version and writes nothing.
type NoopOCR struct{}

func (NoopOCR) Name() string { return "noop" }

func (NoopOCR) Process(context.Context, *Target) error { return nil }
