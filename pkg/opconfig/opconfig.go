// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package opconfig implements the "one config struct per operation"
// re-architecture called for in spec.md §9: every provider operation
// declares a Go struct enumerating its recognized options, and Parse
// rejects any input field that struct does not name.
package opconfig

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes raw into a T, rejecting unrecognized fields and
// running struct-tag validation (github.com/go-playground/validator)
// on the result.
func Parse[T any](raw map[string]any) (T, error) {
	var cfg T

	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("opconfig: marshal input: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("opconfig: unrecognized or malformed option: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("opconfig: invalid config: %w", err)
	}

	return cfg, nil
}
