// Package mimes sniffs MIME types, counts pages and expands archives.
package mimes

import (
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

const (
	PDF  = "application/pdf"
	ZIP  = "application/zip"
	Text = "text/plain"
)

// Detect reads the head of r and returns the bare MIME type and its
// encoding: the charset parameter for text, "binary" otherwise.
func Detect(r io.Reader) (mimeType, encoding string, err error) {
	m, err := mimetype.DetectReader(r)
	if err != nil {
		return "", "", fmt.Errorf("sniff mime type: %w", err)
	}
	return split(m.String())
}

func DetectBytes(b []byte) (string, string) {
	mt, enc, _ := split(mimetype.Detect(b).String())
	return mt, enc
}

func split(full string) (string, string, error) {
	mt, params, err := mime.ParseMediaType(full)
	if err != nil {
		return "application/octet-stream", "binary", nil
	}
	enc := "binary"
	if cs, ok := params["charset"]; ok && cs != "" {
		enc = strings.ToLower(cs)
	}
	return mt, enc, nil
}

// IsImage reports raster types that hold one page.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// PageCounter counts the pages of a blob of one MIME type.
type PageCounter func(r io.ReaderAt, size int64) (int, error)

// Counters maps MIME types to page counters. Types without a counter,
// including multi-page TIFF, count as one page.
type Counters struct {
	mu sync.RWMutex
	m  map[string]PageCounter
}

func NewCounters() *Counters {
	c := &Counters{m: map[string]PageCounter{}}
	c.Register(PDF, CountPDFPages)
	return c
}

func (c *Counters) Register(mimeType string, fn PageCounter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[mimeType] = fn
}

func (c *Counters) Count(mimeType string, r io.ReaderAt, size int64) (int, error) {
	c.mu.RLock()
	fn, ok := c.m[mimeType]
	c.mu.RUnlock()
	if !ok {
		return 1, nil
	}
	n, err := fn(r, size)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

// CountPDFPages reads the page tree. The pdf reader panics on some
// malformed object syntax; that is reported as an error.
func CountPDFPages(r io.ReaderAt, size int64) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			n, err = 0, fmt.Errorf("open pdf: %v", p)
		}
	}()
	pr, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	return pr.NumPage(), nil
}
