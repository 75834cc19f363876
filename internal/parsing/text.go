package parsing

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"
)

// maxTextBytes bounds what a plain text document contributes to search.
const maxTextBytes = 8 << 20

// TextParser stores a plain text document as the content of its only page.
type TextParser struct{}

func (TextParser) Name() string { return "text" }

func (TextParser) Process(ctx context.Context, t *Target) error {
	rc, err := t.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxTextBytes))
	if err != nil {
		return fmt.Errorf("read text: %w", err)
	}
	if !utf8.Valid(b) {
		b = []byte(latin1ToUTF8(b))
	}
	return t.Save(ctx, 1, string(b))
}

func latin1ToUTF8(b []byte) string {
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}
