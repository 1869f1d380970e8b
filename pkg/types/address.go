// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/LeeDigitalWorks/beegate/pkg/utils"
)

// AddressSize is the length of a chunk address in bytes.
const AddressSize = 32

// Address is the content digest of a chunk.
type Address [AddressSize]byte

// ZeroAddress is never a valid chunk address.
var ZeroAddress Address

// AddressOf hashes payload into its content address.
func AddressOf(payload []byte) Address {
	h := utils.Sha256PoolGetHasher()
	defer utils.Sha256PoolPutHasher(h)
	h.Write(payload)
	var a Address
	h.Sum(a[:0])
	return a
}

// ParseAddress decodes a 64 character hex string, with or without a 0x prefix.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(s) != AddressSize*2 {
		return a, NewValidationError("invalid chunk address %q: want %d hex characters", s, AddressSize*2)
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return a, NewValidationError("invalid chunk address %q: %v", s, err)
	}
	return a, nil
}

// AddressFromBytes copies b into an Address. b must be AddressSize bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressSize {
		return a, NewValidationError("invalid chunk address length %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

func (a Address) Bytes() []byte {
	return a[:]
}

// Compare orders addresses bytewise.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
