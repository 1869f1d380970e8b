// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

// StatusCode maps an error to the HTTP status reported to clients. An
// upstream call that ran out of time is a 504, not a 502.
func StatusCode(err error) int {
	switch types.CodeOf(err) {
	case types.ErrCodeValidation:
		return http.StatusBadRequest
	case types.ErrCodeNotFound:
		return http.StatusNotFound
	case types.ErrCodeConflict:
		return http.StatusConflict
	case types.ErrCodeLockConflict, types.ErrCodeLockTimeout:
		return http.StatusLocked
	case types.ErrCodeNodeUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrCodeUpstream:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes err as a JSON error response. Internal errors are not
// echoed to the client.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	body := errorBody{Code: types.CodeOf(err).String(), Message: err.Error()}
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("gateway: internal error")
		body.Code, body.Message = "internal", http.StatusText(status)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("gateway: failed to write response")
	}
}
