package cache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Compression defaults. A payload is stored compressed only when it is
// larger than the threshold and gzip shrinks it to at most MinRatio of the
// original, so marginal wins never pay the decompression tax on every Get.
const (
	DefaultCompressionThreshold = 512
	DefaultCompressionMinRatio  = 0.8
)

func compressBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		zw.Close()
		return nil, fmt.Errorf("cache: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("cache: compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressBytes(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("cache: decompress: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("cache: decompress: %w", err)
	}
	return out, nil
}

// maybeCompress returns the stored representation for value: compressed
// when it clears both the size threshold and the ratio requirement, raw
// otherwise. Compression failures fall back to raw storage.
func maybeCompress(value []byte, threshold int, minRatio float64) payload {
	if threshold <= 0 || len(value) <= threshold {
		return payload{data: value}
	}
	comp, err := compressBytes(value)
	if err != nil || float64(len(comp)) > float64(len(value))*minRatio {
		return payload{data: value}
	}
	return payload{compressed: true, data: comp}
}
