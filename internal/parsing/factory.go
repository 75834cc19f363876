package parsing

import (
	"fmt"
	"log/slog"

	"docflow/internal/blob"
	"docflow/internal/config"
	"docflow/internal/mimes"
	"docflow/internal/models"
)

var textMimeTypes = []string{mimes.Text, "text/csv", "text/markdown", "text/x-log"}

var ocrMimeTypes = []string{
	mimes.PDF, "image/png", "image/jpeg", "image/tiff", "image/gif", "image/bmp", "image/webp",
}

// NewParsers builds the parsing registry in the order of cfg.Parsers.
func NewParsers(cfg config.Config, store ContentStore, blobs blob.Store, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(models.FamilyParsing, store, blobs, logger)
	for _, name := range cfg.ParserNames() {
		switch name {
		case "pdf":
			r.Register(mimes.PDF, PDFParser{})
		case "pdftotext":
			r.Register(mimes.PDF, NewPdftotext(cfg.PdftotextPath))
		case "text":
			for _, mt := range textMimeTypes {
				r.Register(mt, TextParser{})
			}
		default:
			return nil, fmt.Errorf("unknown parser %q", name)
		}
	}
	return r, nil
}

// NewOCR builds the OCR registry for cfg.OCRBackend.
func NewOCR(cfg config.Config, store ContentStore, blobs blob.Store, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(models.FamilyOCR, store, blobs, logger)
	var b Backend
	switch cfg.OCRBackend {
	case "tesseract":
		b = NewTesseract(cfg.TesseractPath, cfg.PdftoppmPath)
	case "noop":
		b = NoopOCR{}
	default:
		return nil, fmt.Errorf("unknown ocr backend %q", cfg.OCRBackend)
	}
	for _, mt := range ocrMimeTypes {
		r.Register(mt, b)
	}
	return r, nil
}

// Registries holds one registry per family.
type Registries map[string]*Registry

func NewRegistries(cfg config.Config, store ContentStore, blobs blob.Store, logger *slog.Logger) (Registries, error) {
	p, err := NewParsers(cfg, store, blobs, logger)
	if err != nil {
		return nil, err
	}
	o, err := NewOCR(cfg, store, blobs, logger)
	if err != nil {
		return nil, err
	}
	return Registries{models.FamilyParsing: p, models.FamilyOCR: o}, nil
}
