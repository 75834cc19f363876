package documents

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"docflow/internal/mimes"
	"docflow/internal/util"
)

// spool holds an upload on local disk so it can be sniffed, counted,
// expanded and stored without reading the source twice.
type spool struct {
	file     *os.File
	size     int64
	checksum string
	mimeType string
	encoding string
}

func newSpool(r io.Reader) (*spool, error) {
	f, err := os.CreateTemp("", "docflow-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create upload spool: %w", err)
	}
	h := sha256.New()
	n, err := io.Copy(f, io.TeeReader(r, h))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("read upload: %w", err)
	}
	sp := &spool{file: f, size: n, checksum: hex.EncodeToString(h.Sum(nil))}
	if n == 0 {
		sp.close()
		return nil, util.NewValidationError("file", "empty upload")
	}
	mt, enc, err := mimes.Detect(io.NewSectionReader(f, 0, n))
	if err != nil {
		sp.close()
		return nil, err
	}
	sp.mimeType, sp.encoding = mt, enc
	return sp, nil
}

func (s *spool) reader() *io.SectionReader {
	return io.NewSectionReader(s.file, 0, s.size)
}

func (s *spool) close() {
	_ = s.file.Close()
	_ = os.Remove(s.file.Name())
}
