// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package dockercomposeiac implements the IaC contract (spec.md §4.3)
// against a Docker Compose file: generate renders a compose document
// from a plan's nodes, preview lists the services in the file on disk, and
// apply/teardown shell out to the compose CLI via executil.
package dockercomposeiac

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrComposeNotFound is returned when the compose file does not exist.
var ErrComposeNotFound = errors.New("compose file not found")

// ComposeFile is a parsed Docker Compose document.
type ComposeFile struct {
	data map[string]any
	path string
}

// NewComposeFile constructs a ComposeFile from an in-memory document,
// for generate() call sites building a compose file from scratch.
func NewComposeFile(data map[string]any) *ComposeFile {
	return &ComposeFile{data: data}
}

// Loader loads and parses Compose files from disk.
type Loader struct{}

// NewLoader creates a new Compose file loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load loads a Compose file from the given path.
func (l *Loader) Load(path string) (*ComposeFile, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving compose file path: %w", err)
	}

	if _, err := os.Stat(absPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrComposeNotFound, absPath)
		}
		return nil, fmt.Errorf("checking compose file: %w", err)
	}

	//nolint:gosec // G304: reading compose file from a caller-resolved plan path is expected behavior
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading compose file: %w", err)
	}

	var composeData map[string]any
	if err := yaml.Unmarshal(data, &composeData); err != nil {
		return nil, fmt.Errorf("parsing compose file: %w", err)
	}

	return &ComposeFile{data: composeData, path: absPath}, nil
}

// GetServices returns all service names, lexicographically sorted for
// determinism.
func (c *ComposeFile) GetServices() []string {
	services, ok := c.data["services"].(map[string]any)
	if !ok {
		return []string{}
	}
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetServiceData returns the service data for the given service name,
// or nil if it does not exist.
func (c *ComposeFile) GetServiceData(serviceName string) map[string]any {
	services, ok := c.data["services"].(map[string]any)
	if !ok {
		return nil
	}
	data, _ := services[serviceName].(map[string]any)
	return data
}

// Mutate applies fn to the underlying document in place.
func (c *ComposeFile) Mutate(fn func(data map[string]any) error) error {
	if c.data == nil {
		return fmt.Errorf("compose file data is nil")
	}
	return fn(c.data)
}

type composeYAML struct {
	Version  string         `yaml:"version,omitempty"`
	Services map[string]any `yaml:"services,omitempty"`
	Networks map[string]any `yaml:"networks,omitempty"`
	Volumes  map[string]any `yaml:"volumes,omitempty"`
}

// ToYAML serializes the ComposeFile with deterministic key ordering:
// version, services, networks, volumes, then sorted x-* extensions.
func (c *ComposeFile) ToYAML() ([]byte, error) {
	yml := composeYAML{}
	if v, ok := c.data["version"].(string); ok {
		yml.Version = v
	}
	if s, ok := c.data["services"].(map[string]any); ok {
		yml.Services = s
	}
	if n, ok := c.data["networks"].(map[string]any); ok {
		yml.Networks = n
	}
	if v, ok := c.data["volumes"].(map[string]any); ok {
		yml.Volumes = v
	}

	var extKeys []string
	extValues := make(map[string]any)
	for k, v := range c.data {
		if strings.HasPrefix(k, "x-") {
			extKeys = append(extKeys, k)
			extValues[k] = v
		}
	}
	sort.Strings(extKeys)

	if len(extKeys) == 0 {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(yml); err != nil {
			return nil, fmt.Errorf("encoding YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("closing YAML encoder: %w", err)
		}
		return buf.Bytes(), nil
	}

	var doc yaml.Node
	if err := doc.Encode(yml); err != nil {
		return nil, fmt.Errorf("encoding YAML node: %w", err)
	}
	var mapping *yaml.Node
	switch {
	case doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 && doc.Content[0].Kind == yaml.MappingNode:
		mapping = doc.Content[0]
	case doc.Kind == yaml.MappingNode:
		mapping = &doc
	default:
		return nil, fmt.Errorf("unexpected YAML structure encoding compose document")
	}

	for _, extKey := range extKeys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: extKey}
		var vdoc yaml.Node
		if err := vdoc.Encode(extValues[extKey]); err != nil {
			return nil, fmt.Errorf("encoding extension %q: %w", extKey, err)
		}
		if len(vdoc.Content) == 0 {
			return nil, fmt.Errorf("unexpected YAML node for extension %q", extKey)
		}
		mapping.Content = append(mapping.Content, keyNode, vdoc.Content[0])
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(mapping); err != nil {
		return nil, fmt.Errorf("encoding YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing YAML encoder: %w", err)
	}
	return buf.Bytes(), nil
}
