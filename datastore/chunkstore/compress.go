package chunkstore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

// chunkEntryName is the single entry inside every chunk archive.
const chunkEntryName = "data"

// compressChunk wraps the chunk payload in a one-entry zip archive.
func compressChunk(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(chunkEntryName)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decompressChunk extracts the payload from a chunk archive written by
// compressChunk (or any zip whose first entry holds the data).
func decompressChunk(compressed []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(compressed), int64(len(compressed)))
	if err != nil {
		return nil, err
	}
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("chunk archive has no entries")
	}

	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(rc)
}
