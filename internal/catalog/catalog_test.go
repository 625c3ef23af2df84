package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleCatalog = `
sections:
  - name: scdl
    title: Données locales
    catalog:
      schemas:
        - name: scdl/subventions
          url: https://example.org/subventions/schema.json
        - name: scdl/deliberations
          url: https://example.org/deliberations/schema.json
schemas:
  - name: siret
    url: https://example.org/siret.json
`

func TestParse(t *testing.T) {
	reg, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if reg.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", reg.Len())
	}

	url, ok := reg.Lookup("scdl/subventions")
	if !ok || url != "https://example.org/subventions/schema.json" {
		t.Errorf("Lookup(scdl/subventions) = %q, %v", url, ok)
	}
	if _, ok := reg.Lookup("nope"); ok {
		t.Error("Lookup(nope) should fail")
	}

	e, _ := reg.Get("scdl/deliberations")
	if e.Section != "scdl" {
		t.Errorf("Section = %q, want scdl", e.Section)
	}

	got := reg.BySection("scdl")
	if len(got) != 2 || got[0].Name != "scdl/deliberations" {
		t.Errorf("BySection(scdl) = %+v", got)
	}
	if s := reg.Sections(); len(s) != 2 || s[0] != "" || s[1] != "scdl" {
		t.Errorf("Sections() = %v", s)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"duplicate", "schemas:\n  - {name: a, url: u1}\n  - {name: a, url: u2}\n", "already registered"},
		{"no url", "schemas:\n  - {name: a}\n", "no url"},
		{"unknown key", "schemaz: []\n", "parse catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	if _, ok := r.Lookup("x"); ok {
		t.Error("nil registry Lookup should fail")
	}
	if r.Len() != 0 || r.All() != nil {
		t.Error("nil registry should be empty")
	}
}

func TestHolder_ReloadKeepsSnapshots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yml")
	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("schemas:\n  - {name: a, url: https://a}\n")

	h, err := NewHolder(path)
	if err != nil {
		t.Fatalf("NewHolder: %v", err)
	}
	defer h.Stop()

	before := h.Snapshot()

	changed := make(chan int, 1)
	h.OnChange(func(r *Registry) { changed <- r.Len() })

	write("schemas:\n  - {name: a, url: https://a}\n  - {name: b, url: https://b}\n")
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	select {
	case n := <-changed:
		if n != 2 {
			t.Errorf("listener saw %d entries, want 2", n)
		}
	case <-time.After(time.Second):
		t.Fatal("OnChange listener not called")
	}

	if before.Len() != 1 {
		t.Errorf("old snapshot mutated: Len() = %d", before.Len())
	}
	if h.Snapshot().Len() != 2 {
		t.Errorf("new snapshot Len() = %d, want 2", h.Snapshot().Len())
	}

	// A broken file keeps the previous snapshot.
	write("schemas: [")
	if err := h.Reload(); err == nil {
		t.Error("Reload() of invalid file should fail")
	}
	if h.Snapshot().Len() != 2 {
		t.Error("failed reload replaced snapshot")
	}
}

func TestStaticHolder(t *testing.T) {
	h := StaticHolder(nil)
	if h.Snapshot().Len() != 0 {
		t.Error("StaticHolder(nil) should be empty")
	}
	if err := h.Reload(); err != nil {
		t.Errorf("Reload() on static holder: %v", err)
	}
}
