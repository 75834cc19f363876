package util

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

func SHA256HexFromReader(r io.Reader) (string, error) {
	sum, _, err := SHA256HexSize(r)
	return sum, err
}

// SHA256HexSize hashes r to EOF and reports the byte count.
func SHA256HexSize(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}

// IsSHA256Hex reports whether s looks like a lowercase hex SHA-256 digest.
func IsSHA256Hex(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
