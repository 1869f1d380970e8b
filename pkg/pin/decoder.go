// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package pin

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

const (
	// SpanSize is the length of the little-endian span prefix of a chunk.
	SpanSize = 8
	// MaxChunkData is the largest payload a single chunk carries after its span.
	MaxChunkData = 4096
)

var ErrMalformedChunk = errors.New("malformed chunk")

// Decoder extracts child references from a chunk payload. A leaf returns no
// children. An error marks the chunk invalid.
type Decoder interface {
	Children(payload []byte) ([]types.Address, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(payload []byte) ([]types.Address, error)

func (f DecoderFunc) Children(payload []byte) ([]types.Address, error) {
	return f(payload)
}

// SwarmDecoder reads the Swarm file chunk layout: an 8-byte little-endian
// span followed by up to 4096 bytes of data. A span larger than 4096 means the
// data is a list of 32-byte child references.
type SwarmDecoder struct{}

func (SwarmDecoder) Children(payload []byte) ([]types.Address, error) {
	if len(payload) < SpanSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the span", ErrMalformedChunk, len(payload))
	}
	span := binary.LittleEndian.Uint64(payload[:SpanSize])
	data := payload[SpanSize:]
	if len(data) > MaxChunkData {
		return nil, fmt.Errorf("%w: %d data bytes", ErrMalformedChunk, len(data))
	}

	if span <= MaxChunkData {
		if uint64(len(data)) != span {
			return nil, fmt.Errorf("%w: span %d but %d data bytes", ErrMalformedChunk, span, len(data))
		}
		return nil, nil
	}

	if len(data) == 0 || len(data)%types.AddressSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a reference list", ErrMalformedChunk, len(data))
	}
	refs := make([]types.Address, 0, len(data)/types.AddressSize)
	for off := 0; off < len(data); off += types.AddressSize {
		var a types.Address
		copy(a[:], data[off:off+types.AddressSize])
		refs = append(refs, a)
	}
	return refs, nil
}

// LeafChunk builds a payload holding data under a span prefix.
func LeafChunk(data []byte) []byte {
	out := make([]byte, SpanSize+len(data))
	binary.LittleEndian.PutUint64(out, uint64(len(data)))
	copy(out[SpanSize:], data)
	return out
}

// IntermediateChunk builds a payload referencing children that together
// span the given number of bytes.
func IntermediateChunk(span uint64, children ...types.Address) []byte {
	out := make([]byte, SpanSize, SpanSize+len(children)*types.AddressSize)
	binary.LittleEndian.PutUint64(out, span)
	for _, c := range children {
		out = append(out, c[:]...)
	}
	return out
}
