// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{ id string }

func (f fakeProvider) ID() string { return f.id }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New[fakeProvider]()
	r.Register(fakeProvider{id: "lambda"})

	p, ok := r.Get("lambda")
	require.True(t, ok)
	assert.Equal(t, "lambda", p.ID())

	assert.True(t, r.Has("lambda"))
	assert.False(t, r.Has("cloudrun"))
}

func TestRegistry_PanicsOnEmptyID(t *testing.T) {
	r := New[fakeProvider]()
	assert.Panics(t, func() { r.Register(fakeProvider{id: ""}) })
}

func TestRegistry_PanicsOnDuplicate(t *testing.T) {
	r := New[fakeProvider]()
	r.Register(fakeProvider{id: "k8s"})
	assert.Panics(t, func() { r.Register(fakeProvider{id: "k8s"}) })
}

func TestRegistry_IDsSorted(t *testing.T) {
	r := New[fakeProvider]()
	r.Register(fakeProvider{id: "vercel"})
	r.Register(fakeProvider{id: "lambda"})
	r.Register(fakeProvider{id: "k8s"})

	assert.Equal(t, []string{"k8s", "lambda", "vercel"}, r.IDs())
}

func TestRegistry_ListSortedByID(t *testing.T) {
	r := New[fakeProvider]()
	r.Register(fakeProvider{id: "vercel"})
	r.Register(fakeProvider{id: "lambda"})

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "lambda", list[0].ID())
	assert.Equal(t, "vercel", list[1].ID())
}
