// Package settings provides layered application configuration: defaults,
// YAML files in order, then environment variables with a service prefix.
// Later layers win. Lookups use lowercase dot-separated keys ("tls.cert_file").
package settings

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFiles are read when Options.Files is empty. Missing files are
// skipped so a service can ship without a secrets file.
var DefaultFiles = []string{"settings.yaml", "secrets.yaml"}

// Options controls how settings are loaded.
type Options struct {
	// Prefix is the environment variable prefix. Empty means the value of
	// APP_NAME (uppercased), falling back to "APP".
	Prefix string
	// Files are YAML files applied in order. Empty means DefaultFiles.
	Files []string
	// Defaults seed the bottom layer, keyed by dot path.
	Defaults map[string]any
}

// Settings is an immutable snapshot of the layered configuration.
type Settings struct {
	prefix string
	files  []string
	values map[string]any
}

// Load builds a snapshot from defaults, files and environment overrides.
func Load(opts Options) (*Settings, error) {
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = os.Getenv("APP_NAME")
	}
	if prefix == "" {
		prefix = "app"
	}
	prefix = strings.ToUpper(prefix)

	files := opts.Files
	if len(files) == 0 {
		files = DefaultFiles
	}

	values := make(map[string]any, len(opts.Defaults))
	for key, val := range opts.Defaults {
		values[strings.ToLower(key)] = val
	}

	for _, file := range files {
		//nolint:gosec // settings paths are operator-controlled
		data, err := os.ReadFile(file)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read settings file %s: %w", file, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse settings file %s: %w", file, err)
		}
		flatten("", doc, values)
	}

	applyEnv(prefix, values)

	return &Settings{prefix: prefix, files: files, values: values}, nil
}

// flatten merges a nested YAML document into dot-separated keys.
func flatten(parent string, doc map[string]any, out map[string]any) {
	for key, val := range doc {
		full := strings.ToLower(key)
		if parent != "" {
			full = parent + "." + full
		}
		if nested, ok := val.(map[string]any); ok {
			flatten(full, nested, out)
			continue
		}
		out[full] = val
	}
}

// applyEnv overlays PREFIX_KEY variables. Double underscores nest:
// APP_TLS__CERT_FILE overrides "tls.cert_file".
func applyEnv(prefix string, out map[string]any) {
	envPrefix := prefix + "_"
	for _, pair := range os.Environ() {
		name, val, ok := strings.Cut(pair, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		key := strings.TrimPrefix(name, envPrefix)
		key = strings.ReplaceAll(key, "__", ".")
		out[strings.ToLower(key)] = val
	}
}

// Prefix returns the environment variable prefix in effect.
func (s *Settings) Prefix() string { return s.prefix }

// Files returns the file list the snapshot was loaded from.
func (s *Settings) Files() []string { return append([]string(nil), s.files...) }

// Keys returns the sorted-insensitive set of known keys. Intended for
// diagnostics output, not programmatic use.
func (s *Settings) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// Get returns the raw value for key and whether it is present.
func (s *Settings) Get(key string) (any, bool) {
	v, ok := s.values[strings.ToLower(key)]
	return v, ok
}

// String returns the value for key as a string, or def when absent.
func (s *Settings) String(key, def string) string {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	return asString(v)
}

// Int returns the value for key as an int, or def when absent or unparsable.
func (s *Settings) Int(key string, def int) int {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return def
}

// Bool returns the value for key as a bool, or def when absent or unparsable.
func (s *Settings) Bool(key string, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed
		}
	}
	return def
}

// Duration returns the value for key as a time.Duration, or def when absent
// or unparsable. Accepts Go duration strings and integer seconds.
func (s *Settings) Duration(key string, def time.Duration) time.Duration {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case int:
		return time.Duration(d) * time.Second
	case int64:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d) * time.Second
	case string:
		if parsed, err := time.ParseDuration(strings.TrimSpace(d)); err == nil {
			return parsed
		}
	}
	return def
}

// StringSlice returns the value for key as a list of strings. YAML sequences
// and comma-separated strings are both accepted.
func (s *Settings) StringSlice(key string, def []string) []string {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, asString(item))
		}
		return out
	case []string:
		return list
	case string:
		if strings.TrimSpace(list) == "" {
			return def
		}
		parts := strings.Split(list, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			out = append(out, strings.TrimSpace(part))
		}
		return out
	}
	return def
}

// Require returns the value for key or a remediation error when absent.
func (s *Settings) Require(key string) (any, error) {
	v, ok := s.Get(key)
	if !ok {
		return nil, &MissingKeyError{Key: key, Prefix: s.prefix, Files: s.files}
	}
	return v, nil
}

// RequireString is Require with a string conversion.
func (s *Settings) RequireString(key string) (string, error) {
	v, err := s.Require(key)
	if err != nil {
		return "", err
	}
	return asString(v), nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
