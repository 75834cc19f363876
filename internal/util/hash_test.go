package util

import (
	"strings"
	"testing"
)

func TestSHA256HexSize(t *testing.T) {
	sum, n, err := SHA256HexSize(strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if sum != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" || n != 3 {
		t.Fatalf("unexpected digest %s size %d", sum, n)
	}
	if sum != SHA256Hex([]byte("abc")) {
		t.Fatalf("reader and byte digests disagree")
	}
	if !IsSHA256Hex(sum) || IsSHA256Hex("../etc/passwd") || IsSHA256Hex(strings.ToUpper(sum)) {
		t.Fatalf("IsSHA256Hex misclassified input")
	}
}
