// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	t.Parallel()

	addr := AddressOf([]byte("hello"))

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "plain hex", input: addr.String()},
		{name: "0x prefix", input: "0x" + addr.String()},
		{name: "upper case", input: fmt.Sprintf("%X", addr[:])},
		{name: "too short", input: "abcd", wantErr: true},
		{name: "not hex", input: fmt.Sprintf("%064d", 0)[:63] + "z", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsCode(err, ErrCodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, addr, got)
		})
	}
}

func TestAddressOfIsDeterministic(t *testing.T) {
	t.Parallel()

	a := AddressOf([]byte("payload"))
	b := AddressOf([]byte("payload"))
	c := AddressOf([]byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsZero())
}

func TestErrorCodes(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("loading pin: %w", NewNotFoundError("pin", "p1"))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrPersistence))
	assert.Equal(t, ErrCodeNotFound, CodeOf(wrapped))
	assert.Equal(t, "loading pin: pin p1 not found", wrapped.Error())

	cause := errors.New("connection reset")
	perr := NewPersistenceError("update pin", cause)
	assert.True(t, errors.Is(perr, cause))
	assert.True(t, errors.Is(perr, ErrPersistence))

	assert.Equal(t, ErrCodeNone, CodeOf(cause))
	assert.False(t, IsCode(nil, ErrCodeNone))
}

func TestChunkAddPinIsIdempotent(t *testing.T) {
	t.Parallel()

	c := NewChunk([]byte("data"))
	assert.True(t, c.AddPin("p1"))
	assert.False(t, c.AddPin("p1"))
	assert.True(t, c.AddPin("p2"))
	assert.Equal(t, []string{"p1", "p2"}, c.Pins)
}

func TestResourceLockExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	l := ResourceLock{ResourceID: "r", Owner: "o", ExpiresAt: now}
	assert.True(t, l.Expired(now))
	assert.False(t, l.Expired(now.Add(-time.Nanosecond)))
}
