// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var algorithms = []Algorithm{LZ4, ZSTD, S2}

// chunkPayload is a span-prefixed 4 KiB payload, the common case at rest.
func chunkPayload() []byte {
	return append([]byte{0, 16, 0, 0, 0, 0, 0, 0}, bytes.Repeat([]byte("swarm chunk data "), 241)[:4096]...)
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		input   string
		want    Algorithm
		wantErr bool
	}{
		{"", None, false},
		{"none", None, false},
		{"lz4", LZ4, false},
		{"zstd", ZSTD, false},
		{"s2", S2, false},
		{"ZSTD", None, true},
		{"gzip", None, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompressDecompressChunk(t *testing.T) {
	data := chunkPayload()
	for _, algo := range algorithms {
		t.Run(algo.String(), func(t *testing.T) {
			compressed, err := Compress(algo, data)
			require.NoError(t, err)
			assert.Less(t, len(compressed), len(data))

			out, err := Decompress(algo, compressed)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestCompressIfBeneficial(t *testing.T) {
	data := chunkPayload()

	out, used, err := CompressIfBeneficial(ZSTD, data)
	require.NoError(t, err)
	assert.Equal(t, ZSTD, used)
	back, err := Decompress(used, out)
	require.NoError(t, err)
	assert.Equal(t, data, back)

	out, used, err = CompressIfBeneficial(None, data)
	require.NoError(t, err)
	assert.Equal(t, None, used)
	assert.Equal(t, data, out)

	out, used, err = CompressIfBeneficial(S2, nil)
	require.NoError(t, err)
	assert.Equal(t, None, used)
	assert.Empty(t, out)
}

func TestCompressIfBeneficialKeepsIncompressibleRaw(t *testing.T) {
	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	for _, algo := range algorithms {
		t.Run(algo.String(), func(t *testing.T) {
			out, used, err := CompressIfBeneficial(algo, random)
			require.NoError(t, err)
			assert.Equal(t, None, used)
			assert.Equal(t, random, out)
		})
	}
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 2.0, Ratio(1000, 500))
	assert.Equal(t, 1.0, Ratio(1000, 1000))
	assert.Equal(t, 1.0, Ratio(1000, 1100))
	assert.Equal(t, 1.0, Ratio(1000, 0))
}

func TestDecompressInvalidData(t *testing.T) {
	for _, algo := range algorithms {
		t.Run(algo.String(), func(t *testing.T) {
			_, err := Decompress(algo, []byte("this is not compressed data"))
			assert.Error(t, err)
		})
	}
	_, err := Decompress("brotli", []byte("x"))
	assert.Error(t, err)
}

func BenchmarkCompressChunk(b *testing.B) {
	data := chunkPayload()
	for _, algo := range algorithms {
		b.Run(algo.String(), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			for b.Loop() {
				_, _, _ = CompressIfBeneficial(algo, data)
			}
		})
	}
}
