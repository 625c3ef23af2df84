package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// loadStruct walks v and fills every field carrying an env tag. Nested
// structs are walked recursively.
func loadStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if sf.Type.Kind() == reflect.Struct && sf.Type != timeType {
			if err := loadStruct(fv); err != nil {
				return err
			}
			continue
		}

		name, value, err := lookup(sf)
		if err != nil {
			return err
		}
		if value == "" {
			continue
		}
		if err := setField(fv, value, sf.Tag.Get("unit")); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, value, err)
		}
	}
	return nil
}

// lookup returns the env var name and the value to apply for a field: the
// primary variable, then the alternate, then the default.
func lookup(sf reflect.StructField) (string, string, error) {
	name := sf.Tag.Get("env")
	if name == "" {
		return "", "", nil
	}
	if v := os.Getenv(name); v != "" {
		return name, v, nil
	}
	if alt := sf.Tag.Get("envAlt"); alt != "" {
		if v := os.Getenv(alt); v != "" {
			return alt, v, nil
		}
	}
	if sf.Tag.Get("required") == "true" {
		return name, "", fmt.Errorf("required environment variable %s is not set", name)
	}
	return name, sf.Tag.Get("default"), nil
}

// setField parses value into field according to its kind. unit "bytes"
// accepts sizes such as 64KB or 100MB on integer fields.
func setField(field reflect.Value, value, unit string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	case unit == "bytes" && field.CanInt():
		n, err := parseBytes(value)
		if err != nil {
			return err
		}
		field.SetInt(n)
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		var items []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// parseBytes reads a plain byte count or a count with a binary suffix
// (KB, MB, GB; KiB, MiB, GiB are accepted as synonyms).
func parseBytes(value string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(value))
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
		{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			s, mult = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	return n * mult, nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Fetch validation
	if c.Fetch.MaxBytes <= 0 {
		errs = append(errs, "FETCH_MAX_BYTES must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, "FETCH_TIMEOUT must be positive")
	}
	if c.Fetch.SniffBytes < 512 {
		errs = append(errs, fmt.Sprintf("SNIFF_BYTES (%d) must be at least 512", c.Fetch.SniffBytes))
	}

	// Validation run limits
	if c.Validation.MaxRows < 0 {
		errs = append(errs, "VALIDATA_MAX_ROWS must be non-negative")
	}
	if c.Validation.MaxConcurrent <= 0 {
		errs = append(errs, "VALIDATION_MAX_CONCURRENT must be positive")
	}
	if c.Validation.MaxWaitTime <= 0 {
		errs = append(errs, "VALIDATION_MAX_WAIT_TIME must be positive")
	}

	// Cache validation
	validBackends := map[string]bool{"none": true, "memory": true, "redis": true, "sqlite": true}
	if !validBackends[strings.ToLower(c.Cache.Backend)] {
		errs = append(errs, fmt.Sprintf("CACHE_BACKEND (%q) must be one of: none, memory, redis, sqlite", c.Cache.Backend))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, "CACHE_TTL must be non-negative")
	}
	if strings.EqualFold(c.Cache.Backend, "sqlite") && c.Cache.SQLitePath == "" {
		errs = append(errs, "CACHE_SQLITE_PATH is required when CACHE_BACKEND is sqlite")
	}

	// S3 validation
	if c.S3.Enabled() && (c.S3.AccessKeyID == "" || c.S3.SecretAccessKey == "") {
		errs = append(errs, "S3_ENDPOINT is set but S3 credentials are missing")
	}

	// Catalog validation
	if c.Catalog.Watch && c.Catalog.File == "" {
		errs = append(errs, "CATALOG_WATCH requires CATALOG_FILE")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Credentials and connection URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Fetch: {MaxBytes: %d, Timeout: %s}, ", c.Fetch.MaxBytes, c.Fetch.Timeout))
	b.WriteString(fmt.Sprintf("Validation: {MaxRows: %d, StrictHeaderOrder: %v, IgnoreHeaderCase: %v, MaxConcurrent: %d}, ",
		c.Validation.MaxRows, c.Validation.StrictHeaderOrder, c.Validation.IgnoreHeaderCase, c.Validation.MaxConcurrent))
	b.WriteString(fmt.Sprintf("Catalog: {File: %q, Watch: %v}, ", c.Catalog.File, c.Catalog.Watch))
	b.WriteString(fmt.Sprintf("Cache: {Backend: %q, TTL: %s, RedisURL: [MASKED]}, ", c.Cache.Backend, c.Cache.TTL))
	if c.S3.Enabled() {
		b.WriteString(fmt.Sprintf("S3: {Endpoint: %q, Credentials: [MASKED]}, ", c.S3.Endpoint))
	}
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
