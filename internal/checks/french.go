package checks

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// La Poste establishments share one SIREN and do not follow the Luhn
// rule; their digits sum to a multiple of 5 instead. The head office is
// the exception and uses Luhn like everybody else.
const (
	laPostePrefix     = "356000000"
	laPosteHeadOffice = "35600000000048"
)

type sirenCheck struct{ singleColumn }

func newSiren(p params) (Check, error) {
	s, err := newSingle(p)
	if err != nil {
		return nil, err
	}
	return sirenCheck{s}, nil
}

func (c sirenCheck) Validate(row Row) []Finding {
	v, ok := row.Value(c.column)
	if !ok {
		return nil
	}
	if !validSIREN(compactID(v)) {
		return c.finding(v, nil)
	}
	return nil
}

type siretCheck struct{ singleColumn }

func newSiret(p params) (Check, error) {
	s, err := newSingle(p)
	if err != nil {
		return nil, err
	}
	return siretCheck{s}, nil
}

func (c siretCheck) Validate(row Row) []Finding {
	v, ok := row.Value(c.column)
	if !ok {
		return nil
	}
	if !validSIRET(compactID(v)) {
		return c.finding(v, nil)
	}
	return nil
}

// compactID removes the separators people type inside identifiers.
func compactID(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '.' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func validSIREN(s string) bool {
	return len(s) == 9 && allDigits(s) && luhn(s)
}

func validSIRET(s string) bool {
	if len(s) != 14 || !allDigits(s) {
		return false
	}
	if strings.HasPrefix(s, laPostePrefix) && s != laPosteHeadOffice {
		return digitSum(s)%5 == 0
	}
	return luhn(s) && validSIREN(s[:9])
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func digitSum(s string) int {
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += int(s[i] - '0')
	}
	return sum
}

func luhn(s string) bool {
	sum := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		d := int(s[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// box is a lon/lat bounding box.
type box struct {
	name           string
	minLon, minLat float64
	maxLon, maxLat float64
}

func (b box) contains(lon, lat float64) bool {
	return lon >= b.minLon && lon <= b.maxLon && lat >= b.minLat && lat <= b.maxLat
}

// franceBoxes covers metropolitan France and the overseas departments,
// with a small margin.
var franceBoxes = []box{
	{"Guadeloupe", -61.809839, 15.832041, -61.001959, 16.514488},
	{"Martinique", -61.229033, 14.388646, -60.809655, 14.878723},
	{"Guyane", -54.60239, 2.111055, -51.619041, 5.748138},
	{"La Réunion", 55.216526, -21.389631, 55.836654, -20.8718},
	{"Mayotte", 45.01833, -13.005254, 45.299985, -12.63659},
	{"France", -5.141277, 41.333571, 9.560091, 51.088989},
}

func inFrance(lon, lat float64) bool {
	for _, b := range franceBoxes {
		if b.contains(lon, lat) {
			return true
		}
	}
	return false
}

type frenchGPSCheck struct{ singleColumn }

func newFrenchGPS(p params) (Check, error) {
	s, err := newSingle(p)
	if err != nil {
		return nil, err
	}
	return frenchGPSCheck{s}, nil
}

// Validate reads the cell as "lon, lat". A cell that is not a point is
// left to the field type check.
func (c frenchGPSCheck) Validate(row Row) []Finding {
	v, ok := row.Value(c.column)
	if !ok {
		return nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return nil
	}
	lon, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lat, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	if inFrance(lon, lat) {
		return nil
	}
	if inFrance(lat, lon) {
		return c.finding(v, map[string]string{"reason": "reversed"})
	}
	return c.finding(v, map[string]string{"reason": "outside"})
}

// actesNomenclatures are the first-level entries of the French
// administrative acts nomenclature.
var actesNomenclatures = []string{
	"Commande publique",
	"Urbanisme",
	"Domaine et patrimoine",
	"Fonction publique",
	"Institutions et vie politique",
	"Libertés publiques et pouvoirs de police",
	"Finances locales",
	"Domaines de compétences par thèmes",
	"Autres domaines de compétences",
}

type nomenclatureActesCheck struct {
	singleColumn
	known map[string]bool
}

func newNomenclatureActes(p params) (Check, error) {
	s, err := newSingle(p)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(actesNomenclatures))
	for _, n := range actesNomenclatures {
		known[foldAccents(n)] = true
	}
	return nomenclatureActesCheck{singleColumn: s, known: known}, nil
}

// Validate accepts "<nomenclature>/<detail>" where the prefix matches a
// known entry regardless of case and accents, with no space around the
// slash.
func (c nomenclatureActesCheck) Validate(row Row) []Finding {
	v, ok := row.Value(c.column)
	if !ok {
		return nil
	}
	i := strings.Index(v, "/")
	if i < 0 {
		return c.finding(v, map[string]string{"reason": "missing-slash"})
	}
	prefix := v[:i]
	spaced := strings.Contains(v, "/ ")
	if c.known[foldAccents(prefix)] && !spaced {
		return nil
	}
	if c.known[foldAccents(strings.TrimRight(prefix, " "))] || spaced {
		return c.finding(v, map[string]string{"reason": "space-around-slash"})
	}
	return c.finding(v, map[string]string{"reason": "unknown-prefix", "prefix": prefix})
}

// foldAccents lowercases s and strips combining marks.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}
