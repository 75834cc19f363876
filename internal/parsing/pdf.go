package parsing

import (
	"context"
	"fmt"

	"docflow/internal/util"

	"github.com/ledongthuc/pdf"
)

// PDFParser reads the text layer of each page in process.
type PDFParser struct{}

func (PDFParser) Name() string { return "pdf" }

func (PDFParser) Process(ctx context.Context, t *Target) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &util.BackendError{Backend: "pdf", Err: fmt.Errorf("malformed pdf: %v", p)}
		}
	}()
	path, err := t.Spool(ctx)
	if err != nil {
		return err
	}
	f, r, err := pdf.Open(path)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	fonts := make(map[string]*pdf.Font)
	for _, p := range t.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		page := r.Page(p.PageNumber)
		if page.V.IsNull() {
			return fmt.Errorf("pdf has no page %d", p.PageNumber)
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := page.Font(name)
				fonts[name] = &font
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return fmt.Errorf("extract page %d: %w", p.PageNumber, err)
		}
		if err := t.Save(ctx, p.PageNumber, text); err != nil {
			return err
		}
	}
	return nil
}
