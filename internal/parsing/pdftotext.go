package parsing

import (
	"context"
	"fmt"
	"strconv"
)

// Pdftotext shells out to poppler's pdftotext once per page.
type Pdftotext struct {
	Path string
	Run  CommandRunner
}

func NewPdftotext(path string) *Pdftotext {
	return &Pdftotext{Path: path, Run: execCommand}
}

func (p *Pdftotext) Name() string { return "pdftotext" }

func (p *Pdftotext) Process(ctx context.Context, t *Target) error {
	run := p.Run
	if run == nil {
		run = execCommand
	}
	path, err := t.Spool(ctx)
	if err != nil {
		return err
	}
	for _, page := range t.Pages {
		n := strconv.Itoa(page.PageNumber)
		out, err := run(ctx, p.Path, "-f", n, "-l", n, "-enc", "UTF-8", "-q", path, "-")
		if err != nil {
			return fmt.Errorf("pdftotext page %d: %w", page.PageNumber, err)
		}
		if err := t.Save(ctx, page.PageNumber, string(out)); err != nil {
			return err
		}
	}
	return nil
}
