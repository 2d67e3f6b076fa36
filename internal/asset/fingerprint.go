package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const (
	// idLen is the hex length of asset and event ids.
	idLen = 16

	// chunkSize is the window read at the start, middle and end of large
	// files. Bytes outside the three windows do not affect the hash.
	chunkSize = 64 * 1024

	// partialThreshold is the size above which files are fingerprinted by
	// sampling instead of a full read.
	partialThreshold = 100 * 1024 * 1024
)

// ID derives the stable asset id from the absolute path the file was first
// indexed at. The id survives moves: it is never re-derived from CurrentPath.
func ID(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:])[:idLen]
}

// EventID derives the deterministic timeline event id. jobID is optional;
// events emitted outside a job hash without it.
func EventID(assetID, eventType, jobID string) string {
	h := sha256.New()
	_, _ = io.WriteString(h, assetID)
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, eventType)
	if jobID != "" {
		_, _ = io.WriteString(h, "|")
		_, _ = io.WriteString(h, jobID)
	}
	return hex.EncodeToString(h.Sum(nil))[:idLen]
}

// HashFile fingerprints file content. Files above 100 MiB hash only the
// first, middle and last 64 KiB so indexing hour-long recordings does not
// read gigabytes; smaller files get a full SHA-256.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	if info.Size() > partialThreshold {
		return partialHash(f, info.Size())
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func partialHash(f *os.File, size int64) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	offsets := []int64{0, size/2 - chunkSize/2, size - chunkSize}

	for _, off := range offsets {
		n, err := f.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("hash %s at %d: %w", f.Name(), off, err)
		}
		h.Write(buf[:n])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
