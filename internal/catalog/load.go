package catalog

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk catalog layout:
//
//	sections:
//	  - name: scdl
//	    title: Socle commun des données locales
//	    catalog:
//	      schemas:
//	        - name: scdl/subventions
//	          url: https://example.org/subventions/schema.json
//	schemas:
//	  - name: standalone
//	    url: https://example.org/standalone/schema.json
type File struct {
	Sections []Section `yaml:"sections"`
	Schemas  []Entry   `yaml:"schemas"`
}

// Section groups catalog entries under a heading.
type Section struct {
	Name    string `yaml:"name"`
	Title   string `yaml:"title"`
	Catalog struct {
		Schemas []Entry `yaml:"schemas"`
	} `yaml:"catalog"`
}

// Load reads a YAML catalog file and builds a registry snapshot.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return r, nil
}

// Parse builds a registry from YAML catalog content.
func Parse(data []byte) (*Registry, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	var entries []Entry
	for _, s := range f.Sections {
		for _, e := range s.Catalog.Schemas {
			e.Section = s.Name
			entries = append(entries, e)
		}
	}
	entries = append(entries, f.Schemas...)

	return NewRegistry(entries)
}
