// Package catalog maps well-known schema names to schema URLs.
//
// A Registry is an immutable snapshot. Callers receive one per validation
// run and never mutate it; reloading the catalog builds a new snapshot and
// swaps it in a Holder.
package catalog

import (
	"fmt"
	"sort"
)

// Entry is one named schema in the catalog.
type Entry struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Title   string `yaml:"title,omitempty"`
	Section string `yaml:"-"`
}

// Registry is a read-only name to schema URL mapping.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry builds a snapshot from entries.
// Returns an error on duplicate names or entries without a URL.
func NewRegistry(entries []Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("catalog entry with URL %q has no name", e.URL)
		}
		if e.URL == "" {
			return nil, fmt.Errorf("catalog entry %q has no url", e.Name)
		}
		if _, exists := r.entries[e.Name]; exists {
			return nil, fmt.Errorf("catalog entry already registered: %s", e.Name)
		}
		r.entries[e.Name] = e
	}
	return r, nil
}

// Empty returns a registry with no entries.
func Empty() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// Lookup returns the schema URL registered under name.
func (r *Registry) Lookup(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	e, ok := r.entries[name]
	return e.URL, ok
}

// Get returns the full entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	e, ok := r.entries[name]
	return e, ok
}

// All returns all entries sorted by section then by name.
func (r *Registry) All() []Entry {
	if r == nil {
		return nil
	}
	result := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Section != result[j].Section {
			return result[i].Section < result[j].Section
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// BySection returns the entries of one section, sorted by name.
func (r *Registry) BySection(section string) []Entry {
	var result []Entry
	for _, e := range r.All() {
		if e.Section == section {
			result = append(result, e)
		}
	}
	return result
}

// Sections returns all unique section names, sorted.
func (r *Registry) Sections() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, e := range r.entries {
		seen[e.Section] = true
	}

	sections := make([]string, 0, len(seen))
	for s := range seen {
		sections = append(sections, s)
	}

	sort.Strings(sections)
	return sections
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
