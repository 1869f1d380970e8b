// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"fmt"
	"time"
)

// Compress encodes data with algo. None returns data unchanged.
func Compress(algo Algorithm, data []byte) ([]byte, error) {
	switch algo {
	case None, "":
		return data, nil
	case LZ4:
		return compressLZ4(data)
	case ZSTD:
		return compressZSTD(data)
	case S2:
		return compressS2(data), nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algo)
	}
}

// Decompress reverses Compress.
func Decompress(algo Algorithm, data []byte) ([]byte, error) {
	start := time.Now()
	var (
		out []byte
		err error
	)
	switch algo {
	case None, "":
		return data, nil
	case LZ4:
		out, err = decompressLZ4(data)
	case ZSTD:
		out, err = decompressZSTD(data)
	case S2:
		out, err = decompressS2(data)
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algo)
	}
	if err != nil {
		return nil, err
	}
	Duration.WithLabelValues(algo.String(), "decompress").Observe(time.Since(start).Seconds())
	return out, nil
}

// CompressIfBeneficial compresses data with algo and keeps the result only
// if it is smaller. The returned algorithm is the one to store alongside the
// bytes.
func CompressIfBeneficial(algo Algorithm, data []byte) ([]byte, Algorithm, error) {
	if algo == None || algo == "" || len(data) == 0 {
		return data, None, nil
	}

	start := time.Now()
	compressed, err := Compress(algo, data)
	if err != nil {
		return nil, None, err
	}
	Duration.WithLabelValues(algo.String(), "compress").Observe(time.Since(start).Seconds())

	if len(compressed) >= len(data) {
		Skipped.WithLabelValues(algo.String()).Inc()
		return data, None, nil
	}
	BytesIn.WithLabelValues(algo.String()).Add(float64(len(data)))
	BytesOut.WithLabelValues(algo.String()).Add(float64(len(compressed)))
	RatioHist.WithLabelValues(algo.String()).Observe(Ratio(len(data), len(compressed)))
	return compressed, algo, nil
}

// Ratio is original / compressed, or 1.0 when nothing was saved.
func Ratio(originalSize, compressedSize int) float64 {
	if compressedSize <= 0 || compressedSize >= originalSize {
		return 1.0
	}
	return float64(originalSize) / float64(compressedSize)
}
