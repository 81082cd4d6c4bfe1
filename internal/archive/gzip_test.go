package archive

import (
	"bytes"
	"testing"
)

func TestCompressDecompress(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_abc"}}}`)

	compressed, err := Compress(payload)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if bytes.Equal(compressed, payload) {
		t.Error("expected compressed output to differ from input")
	}

	restored, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if !bytes.Equal(restored, payload) {
		t.Errorf("round trip mismatch: got %s", restored)
	}
}

func TestCompress_EmptyPayload(t *testing.T) {
	compressed, err := Compress(nil)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	restored, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if len(restored) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(restored))
	}
}

func TestDecompress_RejectsGarbage(t *testing.T) {
	if _, err := Decompress([]byte("not gzip data")); err == nil {
		t.Fatal("expected error for non-gzip input")
	}
}
