// Package compressor implements corerpc.Compressor and
// corerpc.CompressorFactory for the optional COMPRESS connection feature,
// backed by compress/gzip.
package compressor

import (
	"bytes"
	"compress/gzip"
	"io"

	"corerpc"
)

// Gzip implements corerpc.Compressor with compress/gzip.
type Gzip struct{}

func (Gzip) Supported() []byte { return []byte("gzip") }

func (Gzip) Compress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gzip) Decompress(in []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// GzipFactory negotiates Gzip whenever the peer advertises "gzip" among
// its supported compressors.
type GzipFactory struct{}

func (GzipFactory) Supported() []byte { return []byte("gzip") }

func (GzipFactory) Negotiate(peerPayload []byte, isServer bool) (corerpc.Compressor, bool) {
	if bytes.Contains(peerPayload, []byte("gzip")) {
		return Gzip{}, true
	}
	return nil, false
}
