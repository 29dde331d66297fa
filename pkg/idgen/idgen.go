// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package idgen provides an injectable source of entity IDs.
//
// Every entity in the record store (spec.md §3) is identified by an
// opaque string of the form "<prefix>-<suffix>". Production code draws
// the suffix from a UUID; tests draw it from a deterministic counter so
// that scenarios like S1-S6 in spec.md §8 produce reproducible IDs.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Source generates entity IDs of the form "<prefix>-<suffix>".
type Source interface {
	// New returns a fresh, collision-free ID prefixed with prefix.
	New(prefix string) string
}

// uuidSource is the production Source, backed by google/uuid.
type uuidSource struct{}

// NewUUIDSource returns a Source that suffixes IDs with a random UUIDv4.
func NewUUIDSource() Source {
	return uuidSource{}
}

func (uuidSource) New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// counterSource is a deterministic Source for tests: it returns
// "<prefix>-<n>" for a monotonically increasing n, independent of
// wall-clock time or randomness.
type counterSource struct {
	n *atomic.Uint64
}

// NewCounterSource returns a deterministic Source seeded at start.
// Repeated runs constructed the same way produce the same ID sequence.
func NewCounterSource(start uint64) Source {
	n := &atomic.Uint64{}
	n.Store(start)
	return &counterSource{n: n}
}

func (c *counterSource) New(prefix string) string {
	v := c.n.Add(1)
	return fmt.Sprintf("%s-%d", prefix, v)
}
