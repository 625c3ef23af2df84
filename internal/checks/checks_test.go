package checks

import (
	"errors"
	"reflect"
	"testing"

	"github.com/JonMunkholm/validata/internal/schema"
)

// mapRow is a row whose absent keys are absent columns and whose empty
// values are missing cells.
type mapRow map[string]string

func (r mapRow) Value(column string) (string, bool) {
	v, ok := r[column]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func declaredAll(string) bool { return true }

func mustCompile(t *testing.T, name string, p map[string]any) Check {
	t.Helper()
	c, err := Compile(schema.CustomCheck{Name: name, Params: p}, declaredAll)
	if err != nil {
		t.Fatalf("Compile(%s): %v", name, err)
	}
	return c
}

// ----------------------------------------------------------------------------
// Identifier checks
// ----------------------------------------------------------------------------

func TestFrenchIdentifiers(t *testing.T) {
	tests := []struct {
		name  string
		check string
		value string
		ok    bool
	}{
		{"valid siren", "french-siren-value", "552008443", true},
		{"siren with spaces", "french-siren-value", "552 008 443", true},
		{"bad siren checksum", "french-siren-value", "552008442", false},
		{"short siren", "french-siren-value", "55200844", false},
		{"siren letters", "french-siren-value", "55200844A", false},
		{"valid siret", "french-siret-value", "73282932000074", true},
		{"siret with dots", "french-siret-value", "732.829.320.00074", true},
		{"bad siret checksum", "french-siret-value", "73282932000075", false},
		{"la poste head office", "french-siret-value", "35600000000048", true},
		{"la poste establishment", "french-siret-value", "35600000049837", true},
		{"la poste bad sum", "french-siret-value", "35600000049838", false},
		{"siret too short", "french-siret-value", "7328293200007", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustCompile(t, tt.check, map[string]any{"column": "id"})
			got := c.Validate(mapRow{"id": tt.value})
			if (len(got) == 0) != tt.ok {
				t.Errorf("Validate(%q) = %v, want ok=%v", tt.value, got, tt.ok)
			}
		})
	}
}

func TestFrenchIdentifiers_SkipEmpty(t *testing.T) {
	c := mustCompile(t, "french-siret-value", map[string]any{"column": "id"})
	if got := c.Validate(mapRow{"id": ""}); len(got) != 0 {
		t.Errorf("empty cell produced %v", got)
	}
}

// ----------------------------------------------------------------------------
// Single-column checks
// ----------------------------------------------------------------------------

func TestYearInterval(t *testing.T) {
	tests := []struct {
		name      string
		yearOnly  any
		value     string
		wantCause string
	}{
		{"interval", nil, "2017/2018", ""},
		{"same year", nil, "2017/2017", "same-year"},
		{"reversed", nil, "2018/2017", "order"},
		{"year refused", nil, "2017", "format"},
		{"year allowed as string", "yes", "2017", ""},
		{"year allowed as bool", true, "2017", ""},
		{"garbage", true, "toto", "format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := map[string]any{"column": "period"}
			if tt.yearOnly != nil {
				p["allow-year-only"] = tt.yearOnly
			}
			c := mustCompile(t, "year-interval-value", p)
			got := c.Validate(mapRow{"period": tt.value})
			if tt.wantCause == "" {
				if len(got) != 0 {
					t.Errorf("unexpected findings %v", got)
				}
				return
			}
			if len(got) != 1 || got[0].Context["reason"] != tt.wantCause {
				t.Errorf("findings = %v, want reason %q", got, tt.wantCause)
			}
		})
	}
}

func TestFrenchGPS(t *testing.T) {
	c := mustCompile(t, "french-gps-coordinates", map[string]any{"column": "pos"})
	tests := []struct {
		value  string
		reason string
	}{
		{"2.35, 48.85", ""},
		{"55.45,-21.11", ""},
		{"48.85, 2.35", "reversed"},
		{"-74.0, 40.7", "outside"},
		{"not a point", ""},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := c.Validate(mapRow{"pos": tt.value})
			if tt.reason == "" {
				if len(got) != 0 {
					t.Errorf("unexpected findings %v", got)
				}
				return
			}
			if len(got) != 1 || got[0].Context["reason"] != tt.reason {
				t.Errorf("findings = %v, want %q", got, tt.reason)
			}
		})
	}
}

func TestNomenclatureActes(t *testing.T) {
	c := mustCompile(t, "nomenclature-actes-value", map[string]any{"column": "acte"})
	tests := []struct {
		value  string
		reason string
	}{
		{"Urbanisme/Permis", ""},
		{"libertes publiques et pouvoirs de police/Arrêtés", ""},
		{"FINANCES LOCALES/Budget", ""},
		{"Urbanisme", "missing-slash"},
		{"Urbanisme / Permis", "space-around-slash"},
		{"Cuisine/Recettes", "unknown-prefix"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := c.Validate(mapRow{"acte": tt.value})
			if tt.reason == "" {
				if len(got) != 0 {
					t.Errorf("unexpected findings %v", got)
				}
				return
			}
			if len(got) != 1 || got[0].Context["reason"] != tt.reason {
				t.Errorf("findings = %v, want %q", got, tt.reason)
			}
		})
	}
}

func TestPhoneNumber(t *testing.T) {
	c := mustCompile(t, "phone-number-value", map[string]any{"column": "tel"})
	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"french spaced", "02 61 91 13 45", true},
		{"french compact", "0261911345", true},
		{"french padded", "  026  191  13  45  ", true},
		{"french international", "+33 2 61 91 13 45", true},
		{"french short number", "115", true},
		{"foreign international", "+1 650 253 0000", true},
		{"missing digit", "619 13 45", false},
		{"truncated", "0261911", false},
		{"text", "not a number", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Validate(mapRow{"tel": tt.value})
			if (len(got) == 0) != tt.ok {
				t.Errorf("Validate(%q) = %v, want ok=%v", tt.value, got, tt.ok)
			}
		})
	}

	if got := c.Validate(mapRow{"tel": ""}); len(got) != 0 {
		t.Errorf("empty cell produced %v", got)
	}
}

func TestOpeningHours(t *testing.T) {
	c := mustCompile(t, "opening-hours-value", map[string]any{"column": "hours"})
	tests := []struct {
		value string
		ok    bool
	}{
		{"24/7", true},
		{"Mo-Fr", true},
		{"Mo-Fr 08:00-12:00,13:30-17:30; Sa 09:00-12:00; PH off", true},
		{"Mo,We,Fr 10:00-18:00", true},
		{"Mo-Fr 08:00-12:00, Sa 09:00-12:00", true},
		{"Fr-Sa 22:00-02:00", true},
		{"Mo-Su 10:00+", true},
		{"Mo-Su sunrise-sunset", true},
		{"Sa (sunrise+01:00)-(sunset-01:00)", true},
		{"Su[1] 10:00-12:00", true},
		{"Sa[-1] -1 day 08:00-12:00", true},
		{"Jan-Mar Mo-Fr 09:00-17:00", true},
		{"Dec 24-26 off", true},
		{"Dec 24-Jan 02: closed", true},
		{"2025 Jul-Aug: Mo-Fr 10:00-16:00", true},
		{"week 01-26/2 Mo 08:00-10:00", true},
		{"Mo-Fr 09:00-17:00 || \"sur rendez-vous\"", true},
		{"PH,SH off \"fermeture annuelle\"", true},
		{"Lu-Ve", false},
		{"mo-fr", false},
		{"Mon-Fri", false},
		{"Mo-Fr 25:00-26:00", false},
		{"Mo-Fr 08:60-12:00", false},
		{"Mo-Fr 8:00-12:00", false},
		{"Feb 30", false},
		{"Mo-Fr 08:00-12:00;", false},
		{"Mo-Fr \"unterminated", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := c.Validate(mapRow{"hours": tt.value})
			if (len(got) == 0) != tt.ok {
				t.Errorf("Validate(%q) = %v, want ok=%v", tt.value, got, tt.ok)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Multi-column checks
// ----------------------------------------------------------------------------

func TestCompareColumns(t *testing.T) {
	tests := []struct {
		name   string
		op     string
		a, b   string
		reason string
	}{
		{"numbers hold", ">", "10", "9.5", ""},
		{"numbers fail", ">", "2", "10", "comparison"},
		{"equal numbers", "==", "1.0", "1", ""},
		{"text lexicographic", "<", "abc", "abd", ""},
		{"text fail", ">=", "a", "b", "comparison"},
		{"mixed", "<", "1", "abc", "not-comparable"},
		{"one empty", "<", "", "abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustCompile(t, "compare-columns-value", map[string]any{"column": "a", "column2": "b", "op": tt.op})
			got := c.Validate(mapRow{"a": tt.a, "b": tt.b})
			if tt.reason == "" {
				if len(got) != 0 {
					t.Errorf("unexpected findings %v", got)
				}
				return
			}
			if len(got) != 1 || got[0].Context["reason"] != tt.reason || got[0].Column != "a" {
				t.Errorf("findings = %v, want %q on a", got, tt.reason)
			}
		})
	}
}

func TestSumColumns(t *testing.T) {
	c := mustCompile(t, "sum-columns-value", map[string]any{"column": "total", "columns": []any{"x", "y"}})

	if got := c.Validate(mapRow{"total": "5", "x": "2", "y": "3"}); len(got) != 0 {
		t.Errorf("correct sum flagged: %v", got)
	}
	got := c.Validate(mapRow{"total": "6", "x": "2", "y": "3"})
	if len(got) != 1 || got[0].Context["sum"] != "5" {
		t.Errorf("findings = %v, want sum 5", got)
	}
	if got := c.Validate(mapRow{"total": "6", "x": "2", "y": ""}); len(got) != 0 {
		t.Errorf("incomplete row flagged: %v", got)
	}
	if got := c.Validate(mapRow{"total": "6", "x": "2.5", "y": "3"}); len(got) != 0 {
		t.Errorf("non-integer row flagged: %v", got)
	}
}

func TestOneOfRequired(t *testing.T) {
	c := mustCompile(t, "one-of-required", map[string]any{"column1": "email", "column2": "phone"})

	t.Run("both absent from data", func(t *testing.T) {
		ok, f := c.Prepare(func(string) bool { return false })
		if ok || f == nil || f.Context["reason"] != "missing-columns" {
			t.Errorf("Prepare = %v, %v", ok, f)
		}
	})

	t.Run("one present", func(t *testing.T) {
		ok, f := c.Prepare(func(col string) bool { return col == "email" })
		if !ok || f != nil {
			t.Errorf("Prepare = %v, %v", ok, f)
		}
		if got := c.Validate(mapRow{"email": ""}); len(got) != 1 {
			t.Errorf("empty email without phone column: %v", got)
		}
	})

	rows := []struct {
		row  mapRow
		want int
	}{
		{mapRow{"email": "a@b.fr", "phone": ""}, 0},
		{mapRow{"email": "", "phone": "0102030405"}, 0},
		{mapRow{"email": "a@b.fr", "phone": "0102030405"}, 0},
		{mapRow{"email": "", "phone": ""}, 1},
	}
	for _, tt := range rows {
		if got := c.Validate(tt.row); len(got) != tt.want {
			t.Errorf("Validate(%v) = %v, want %d findings", tt.row, got, tt.want)
		}
	}
}

func TestCohesiveColumns(t *testing.T) {
	c := mustCompile(t, "cohesive-columns-value", map[string]any{"column": "a", "othercolumns": []any{"b", "c"}})
	tests := []struct {
		row  mapRow
		want int
	}{
		{mapRow{"a": "1", "b": "2", "c": "3"}, 0},
		{mapRow{"a": "", "b": "", "c": ""}, 0},
		{mapRow{"a": "1", "b": "", "c": "3"}, 1},
		{mapRow{"a": "", "b": "2", "c": ""}, 1},
	}
	for _, tt := range tests {
		if got := c.Validate(tt.row); len(got) != tt.want {
			t.Errorf("Validate(%v) = %v, want %d findings", tt.row, got, tt.want)
		}
	}

	if ok, _ := c.Prepare(func(col string) bool { return col != "c" }); ok {
		t.Error("Prepare should disable the check when a column is absent")
	}
}

// ----------------------------------------------------------------------------
// Compilation
// ----------------------------------------------------------------------------

func TestCompile_Errors(t *testing.T) {
	declared := func(col string) bool { return col == "a" || col == "b" }
	tests := []struct {
		name  string
		check schema.CustomCheck
	}{
		{"unknown check", schema.CustomCheck{Name: "astrology"}},
		{"missing column", schema.CustomCheck{Name: "french-siren-value"}},
		{"undeclared column", schema.CustomCheck{Name: "french-siren-value", Params: map[string]any{"column": "zz"}}},
		{"bad operator", schema.CustomCheck{Name: "compare-columns-value", Params: map[string]any{"column": "a", "column2": "b", "op": "!="}}},
		{"sum needs two", schema.CustomCheck{Name: "sum-columns-value", Params: map[string]any{"column": "a", "columns": []any{"b"}}}},
		{"columns not a list", schema.CustomCheck{Name: "sum-columns-value", Params: map[string]any{"column": "a", "columns": "b"}}},
		{"empty othercolumns", schema.CustomCheck{Name: "cohesive-columns-value", Params: map[string]any{"column": "a", "othercolumns": []any{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.check, declared)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if ce.Check != tt.check.Name {
				t.Errorf("Check = %q", ce.Check)
			}
		})
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != len(registry) {
		t.Fatalf("Names() = %v", names)
	}
	if !reflect.DeepEqual(names[:2], []string{"cohesive-columns-value", "compare-columns-value"}) {
		t.Errorf("Names() not sorted: %v", names)
	}
}
