package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "settings.yaml", `
version: "1.4.0"
debug: false
listen_addr: ":8080"
tls:
  cert_file: /etc/certs/app.pem
  min_version: "1.2"
allowed_origins:
  - https://app.example.com
  - https://admin.example.com
`)
	secrets := writeFile(t, dir, "secrets.yaml", `
api_key: super-secret
debug: true
`)

	t.Setenv("TESTSVC_LISTEN_ADDR", ":9090")
	t.Setenv("TESTSVC_TLS__MIN_VERSION", "1.3")

	cfg, err := Load(Options{
		Prefix:   "testsvc",
		Files:    []string{base, secrets},
		Defaults: map[string]any{"shutdown_timeout": "10s", "version": "0.0.0"},
	})
	require.NoError(t, err)

	// files override defaults
	assert.Equal(t, "1.4.0", cfg.String("version", ""))
	// later files override earlier ones
	assert.True(t, cfg.Bool("debug", false))
	// env overrides files, including nested keys
	assert.Equal(t, ":9090", cfg.String("listen_addr", ""))
	assert.Equal(t, "1.3", cfg.String("tls.min_version", ""))
	// untouched layers survive
	assert.Equal(t, "/etc/certs/app.pem", cfg.String("tls.cert_file", ""))
	assert.Equal(t, "super-secret", cfg.String("api_key", ""))
	assert.Equal(t, 10*time.Second, cfg.Duration("shutdown_timeout", 0))
	assert.Equal(t,
		[]string{"https://app.example.com", "https://admin.example.com"},
		cfg.StringSlice("allowed_origins", nil))
}

func TestLoadSkipsMissingFilesButRejectsMalformed(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(Options{
		Prefix: "testsvc",
		Files:  []string{filepath.Join(dir, "nope.yaml")},
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", cfg.String("anything", "fallback"))

	bad := writeFile(t, dir, "bad.yaml", "listen_addr: [unclosed")
	_, err = Load(Options{Prefix: "testsvc", Files: []string{bad}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse settings file")
}

func TestTypedAccessors(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "settings.yaml", `
port: 8080
ratio: 2
enabled: "true"
timeout: 30
window: 1m30s
csv: "a, b ,c"
`)
	cfg, err := Load(Options{Prefix: "testsvc", Files: []string{file}})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Int("port", 0))
	assert.Equal(t, 2, cfg.Int("ratio", 0))
	assert.Equal(t, 7, cfg.Int("absent", 7))
	assert.True(t, cfg.Bool("enabled", false))
	assert.Equal(t, 30*time.Second, cfg.Duration("timeout", 0))
	assert.Equal(t, 90*time.Second, cfg.Duration("window", 0))
	assert.Equal(t, []string{"a", "b", "c"}, cfg.StringSlice("csv", nil))
}

func TestRequireMissingKeyError(t *testing.T) {
	cfg, err := Load(Options{Prefix: "testsvc", Files: []string{"absent.yaml"}})
	require.NoError(t, err)

	_, err = cfg.RequireString("database.url")
	require.Error(t, err)

	var missing *MissingKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "database.url", missing.Key)
	assert.Contains(t, err.Error(), "TESTSVC_DATABASE__URL")
	assert.Contains(t, err.Error(), "absent.yaml")
}

func TestPrefixDefaultsToAppName(t *testing.T) {
	t.Setenv("APP_NAME", "billing")
	t.Setenv("BILLING_REGION", "eu-west-1")

	cfg, err := Load(Options{Files: []string{"absent.yaml"}})
	require.NoError(t, err)
	assert.Equal(t, "BILLING", cfg.Prefix())
	assert.Equal(t, "eu-west-1", cfg.String("region", ""))
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "settings.yaml", "listen_addr: \":8080\"\n")

	w, err := Watch(Options{Prefix: "testsvc", Files: []string{file}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	updates := w.Subscribe()
	first := <-updates
	assert.Equal(t, ":8080", first.String("listen_addr", ""))

	writeFile(t, dir, "settings.yaml", "listen_addr: \":9090\"\n")

	select {
	case next := <-updates:
		assert.Equal(t, ":9090", next.String("listen_addr", ""))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for settings reload")
	}
	assert.Equal(t, ":9090", w.Current().String("listen_addr", ""))
}

func TestWatcherKeepsLastGoodSnapshotOnMalformedReload(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "settings.yaml", "listen_addr: \":8080\"\n")

	w, err := Watch(Options{Prefix: "testsvc", Files: []string{file}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	writeFile(t, dir, "settings.yaml", "listen_addr: [broken")

	// Give the debounce a chance to fire; the snapshot must not change.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, ":8080", w.Current().String("listen_addr", ""))
}
