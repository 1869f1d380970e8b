// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCtxFallsBackToGlobal(t *testing.T) {
	assert.Same(t, &globalLogger, Ctx(context.Background()))
	assert.Same(t, &globalLogger, Ctx(nil)) //nolint:staticcheck

	var buf bytes.Buffer
	l := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), &l)
	Ctx(ctx).Info().Msg("scoped")
	assert.Contains(t, buf.String(), "scoped")
}
