package testutil

import (
	"bytes"

	"github.com/klauspost/compress/zip"
)

// ZipEntry is one member written by Zip.
type ZipEntry struct {
	Name string
	Data []byte
}

func Zip(entries ...ZipEntry) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(e.Data); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
