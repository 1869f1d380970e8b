// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package pin

import "github.com/LeeDigitalWorks/beegate/pkg/types"

// Validator decides whether a fetched payload really is the chunk at addr.
type Validator interface {
	Validate(addr types.Address, payload []byte) bool
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(addr types.Address, payload []byte) bool

func (f ValidatorFunc) Validate(addr types.Address, payload []byte) bool {
	return f(addr, payload)
}

// ContentAddressValidator accepts a payload whose content address is addr.
var ContentAddressValidator = ValidatorFunc(func(addr types.Address, payload []byte) bool {
	return types.AddressOf(payload) == addr
})

// AcceptancePolicy maps the outcome of a run to the pin's next state.
type AcceptancePolicy struct {
	// MaxMissing is how many unresolved chunks a pin may have and still
	// succeed. Zero requires a complete DAG.
	MaxMissing int `mapstructure:"max_missing"`

	// MaxAttempts marks a pin failed once it has been reconciled this many
	// times without succeeding. Zero retries forever.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// Decide returns the state after a run with the given number of missing
// chunks, where attempts already counts this run.
func (p AcceptancePolicy) Decide(missing, attempts int) types.PinState {
	if missing <= p.MaxMissing {
		return types.PinSucceeded
	}
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return types.PinFailed
	}
	return types.PinPending
}
