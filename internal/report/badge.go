package report

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Badge grades.
const (
	GradeOK   = "OK"
	GradeWarn = "WARN"
	GradeKO   = "KO"
)

// Badge is a compact quality grade of a report.
type Badge struct {
	Structure  string   `json:"structure"`
	Body       string   `json:"body,omitempty"`
	ErrorRatio *float64 `json:"errorRatio,omitempty"`
}

// BadgeConfig weights body errors when computing the error ratio.
type BadgeConfig struct {
	Body struct {
		AcceptabilityThreshold float64          `yaml:"acceptability-threshold"`
		ErrorsWeight           map[Kind]float64 `yaml:"errors-weight"`
	} `yaml:"body"`
}

// LoadBadgeConfig reads a YAML badge configuration.
func LoadBadgeConfig(path string) (*BadgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read badge config: %w", err)
	}
	var cfg BadgeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse badge config %s: %w", path, err)
	}
	if cfg.Body.AcceptabilityThreshold <= 0 {
		return nil, fmt.Errorf("badge config %s: acceptability-threshold must be positive", path)
	}
	return &cfg, nil
}

// ComputeBadge grades a report. Any structural error makes the structure
// KO and stops there; structural warnings make it WARN. The body grade
// compares the weighted share of erroneous cells against the threshold.
// Reports with StatusError get no badge.
func ComputeBadge(r *Report, cfg *BadgeConfig) *Badge {
	if r.Status == StatusError || cfg == nil {
		return nil
	}

	structure := GradeOK
	var body []Error
	for _, e := range r.Errors {
		if e.Severity == SeverityInfo {
			continue
		}
		if e.Kind.Structural() {
			if e.Severity == SeverityError {
				return &Badge{Structure: GradeKO}
			}
			structure = GradeWarn
			continue
		}
		if e.Severity == SeverityError && e.Row > 0 {
			body = append(body, e)
		}
	}

	zero := 0.0
	if len(body) == 0 {
		return &Badge{Structure: structure, Body: GradeOK, ErrorRatio: &zero}
	}

	cells := len(r.Schema.Fields) * r.Counts.Rows
	if cells == 0 {
		return &Badge{Structure: structure, Body: GradeKO}
	}

	var weighted float64
	for _, e := range body {
		w, ok := cfg.Body.ErrorsWeight[e.Kind]
		if !ok {
			w = 1.0
		}
		weighted += w
	}
	ratio := weighted / float64(cells)

	grade := GradeKO
	if ratio < cfg.Body.AcceptabilityThreshold {
		grade = GradeWarn
	}
	return &Badge{Structure: structure, Body: grade, ErrorRatio: &ratio}
}
