package encap

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"
)

// Optional zlib compression of the payload carried inside a wire packet.
// Adapted from optimize/compress.go, wired into encap's own flagRaw-style
// bit (flagCompressed) instead of the standalone opcode field the teacher
// used, since the stack engine has no concept of compression itself: this
// is entirely an encap wire-framing detail.
const (
	compressLevel       = 6
	compressThreshold   = 512
	maxDecompressedSize = 10 * 1024 * 1024
)

var (
	errCompressionNotEffective = errors.New("encap: compression not effective")
	errDecompressionBomb       = errors.New("encap: decompressed payload too large")
)

// compressPayload zlib-compresses data, returning an error if the result
// is not smaller than the input (the caller should then send uncompressed).
func compressPayload(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("encap: cannot compress empty payload")
	}

	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, compressLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	if buf.Len() >= len(data) {
		return nil, errCompressionNotEffective
	}
	return buf.Bytes(), nil
}

// decompressPayload reverses compressPayload, bounding the output size to
// guard against a decompression bomb.
func decompressPayload(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out bytes.Buffer
	limited := io.LimitReader(r, maxDecompressedSize+1)
	if _, err := io.Copy(&out, limited); err != nil {
		return nil, err
	}
	if out.Len() > maxDecompressedSize {
		return nil, errDecompressionBomb
	}
	return out.Bytes(), nil
}

// shouldCompress reports whether a payload of this size is worth trying to
// compress.
func shouldCompress(size int) bool {
	return size >= compressThreshold
}
