package core

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// FileDigest returns the blake2b-256 digest of a file.
func FileDigest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

// VerifySame fails with ErrContentMismatch unless both files have equal content.
func VerifySame(a, b string) error {
	da, err := FileDigest(a)
	if err != nil {
		return err
	}
	db, err := FileDigest(b)
	if err != nil {
		return err
	}
	if !bytes.Equal(da, db) {
		return fmt.Errorf("%s (%s) vs %s (%s): %w",
			a, hex.EncodeToString(da[:8]), b, hex.EncodeToString(db[:8]), ErrContentMismatch)
	}
	return nil
}
