package storage

import (
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ArchiveSuffix marks compressed archival blobs
const ArchiveSuffix = ".zst"

// Archiver keeps zstd-compressed copies of superseded dataset revisions so
// an atomic replace never discards a revision someone hand-edited.
type Archiver struct {
	backend Backend
	now     func() time.Time
}

// NewArchiver creates an archiver over a backend
func NewArchiver(backend Backend) *Archiver {
	return &Archiver{backend: backend, now: time.Now}
}

// Archive compresses data and stores it under
// <dir>/<stem>-<timestamp><ArchiveSuffix>, returning the archive path.
func (a *Archiver) Archive(dir, stem string, data []byte) (string, error) {
	compressed, err := Compress(data)
	if err != nil {
		return "", err
	}

	path := fmt.Sprintf("%s/%s-%s%s", dir, stem, a.now().UTC().Format("20060102T150405Z"), ArchiveSuffix)
	if err := a.backend.Write(path, compressed); err != nil {
		return "", err
	}
	return path, nil
}

// Restore reads and decompresses an archived revision
func (a *Archiver) Restore(path string) ([]byte, error) {
	data, err := a.backend.Read(path)
	if err != nil {
		return nil, err
	}
	return Decompress(data)
}

// Compress returns the zstd-compressed form of data
func Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close() //nolint:errcheck // encoder over nil writer

	return enc.EncodeAll(data, nil), nil
}

// Decompress reverses Compress
func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}
