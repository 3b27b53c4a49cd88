/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/tandem/internal/models"
)

type document struct {
	Tracks []models.Track `yaml:"tracks"`
}

// Parse builds a catalog from a YAML document with a top-level tracks list.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(doc.Tracks)
}

// LoadFile reads and validates a YAML catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Marshal encodes the catalog back into the YAML document format.
func Marshal(c *Catalog) ([]byte, error) {
	return yaml.Marshal(document{Tracks: c.Tracks()})
}
