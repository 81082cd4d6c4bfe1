// Package archive compresses raw webhook payloads for cold storage and
// manual replay.
package archive

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Compress gzips a payload at the default compression level.
func Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress restores a payload compressed by Compress.
func Decompress(compressed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
