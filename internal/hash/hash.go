// Package hash computes content hashes used for ingestion deduplication.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	lenserr "github.com/loclens/loclens/internal/errors"
)

// sampleSize is the number of bytes hashed from each end of the file.
const sampleSize = 64 * 1024

// ContentHash returns a hex SHA-256 digest identifying the file contents.
// It hashes the first 64 KiB, the last 64 KiB (only when the file is larger
// than 128 KiB, so the regions never overlap), and the decimal file size.
// Sampling keeps hashing O(1) for large media files while still detecting
// edits at either end or any size change.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", lenserr.FileError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", lenserr.FileError(fmt.Sprintf("cannot stat %s", path), err)
	}
	size := info.Size()

	h := sha256.New()

	head := make([]byte, sampleSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", lenserr.FileError(fmt.Sprintf("cannot read %s", path), err)
	}
	h.Write(head[:n])

	if size > 2*sampleSize {
		tail := make([]byte, sampleSize)
		if _, err := f.ReadAt(tail, size-sampleSize); err != nil && err != io.EOF {
			return "", lenserr.FileError(fmt.Sprintf("cannot read tail of %s", path), err)
		}
		h.Write(tail)
	}

	h.Write([]byte(fmt.Sprintf("%d", size)))

	return hex.EncodeToString(h.Sum(nil)), nil
}
