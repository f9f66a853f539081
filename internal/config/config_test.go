package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, "http://localhost:9130", c.OkapiURL)
	assert.Equal(t, 3, c.TryCount)
	assert.Equal(t, time.Second, c.Backoff)
	assert.Equal(t, []string{"perms.all"}, c.Admin().Permissions)

	p := c.Policies()
	assert.Equal(t, 3, p.Modules.Enable.MaxAttempts)
	assert.Equal(t, "login", p.Users.Login.Name)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty url", func(c *Config) { c.OkapiURL = "" }},
		{"relative url", func(c *Config) { c.OkapiURL = "okapi:9130" }},
		{"zero tries", func(c *Config) { c.TryCount = 0 }},
		{"negative backoff", func(c *Config) { c.Backoff = -time.Second }},
		{"no tenant", func(c *Config) { c.TenantID = " " }},
		{"bad admin id", func(c *Config) { c.AdminID = "admin" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func newTestCommand(c *Config) (*cobra.Command, []Opt) {
	opts := append(append(GlobalOpts(c), TenantOpts(c)...), AdminOpts(c)...)
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	BindOptions(cmd, opts)
	return cmd, opts
}

func TestResolvePrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "autoconfig.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
okapi-url: http://from-file:9130
try-count: 7
tenant-id: filetenant
user-permissions: [perms.all, users.all]
log-level: debug
`), 0o644))

	t.Setenv("OKAPI_URL", "http://legacy-env:9130")
	t.Setenv("AUTOCONFIG_TRY_COUNT", "5")
	t.Setenv("ADMIN_USERNAME", "diku_admin")

	var c Config
	cmd, opts := newTestCommand(&c)
	require.NoError(t, cmd.ParseFlags([]string{"--tenant-id", "flagtenant", "--backoff", "2s"}))
	require.NoError(t, Resolve(cmd, opts, file))

	assert.Equal(t, "http://legacy-env:9130", c.OkapiURL)
	assert.Equal(t, 5, c.TryCount)
	assert.Equal(t, 2*time.Second, c.Backoff)
	assert.Equal(t, "flagtenant", c.TenantID)
	assert.Equal(t, "diku_admin", c.AdminUsername)
	assert.Equal(t, "adminpw", c.AdminPassword)
	assert.Equal(t, []string{"perms.all", "users.all"}, c.AdminPermissions)
	assert.Equal(t, zapcore.DebugLevel, c.LogLevel)
	require.NoError(t, c.Validate())
}

func TestResolveDefaultsAndSliceEnv(t *testing.T) {
	t.Setenv("AUTOCONFIG_USER_PERMISSIONS", "users.all, perms.all")

	var c Config
	cmd, opts := newTestCommand(&c)
	require.NoError(t, cmd.ParseFlags(nil))
	require.NoError(t, Resolve(cmd, opts, ""))

	want := Default()
	want.AdminPermissions = []string{"users.all", "perms.all"}
	assert.Equal(t, want, c)
}

func TestResolvePrefixedEnvBeatsLegacy(t *testing.T) {
	t.Setenv("TENANT_ID", "legacy")
	t.Setenv("AUTOCONFIG_TENANT_ID", "prefixed")

	var c Config
	cmd, opts := newTestCommand(&c)
	require.NoError(t, cmd.ParseFlags(nil))
	require.NoError(t, Resolve(cmd, opts, ""))
	assert.Equal(t, "prefixed", c.TenantID)
}

func TestLoadFileKeysAreFlagNames(t *testing.T) {
	file := filepath.Join(t.TempDir(), "autoconfig.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
okapi-url: http://okapi:9130
try-count: 5
user-permissions: [perms.all]
`), 0o644))

	var c Config
	cmd, opts := newTestCommand(&c)
	require.NoError(t, cmd.ParseFlags(nil))
	require.NoError(t, Resolve(cmd, opts, file))

	assert.Equal(t, "http://okapi:9130", c.OkapiURL)
	assert.Equal(t, 5, c.TryCount)
	assert.Equal(t, []string{"perms.all"}, c.AdminPermissions)
	for _, o := range opts {
		assert.NotEqual(t, "admin-permissions", o.Flag)
	}
}

func TestLoadFileRejectsGarbage(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("okapi-url: [unterminated"), 0o644))

	var c Config
	cmd, opts := newTestCommand(&c)
	require.NoError(t, cmd.ParseFlags(nil))
	assert.ErrorIs(t, Resolve(cmd, opts, file), ErrInvalidConfig)
}

func TestResolveBadLogLevel(t *testing.T) {
	t.Setenv("AUTOCONFIG_LOG_LEVEL", "loud")

	var c Config
	cmd, opts := newTestCommand(&c)
	require.NoError(t, cmd.ParseFlags(nil))
	assert.ErrorIs(t, Resolve(cmd, opts, ""), ErrInvalidConfig)
}

func TestDataOptions(t *testing.T) {
	var c Config
	cmd := &cobra.Command{Use: "load-data"}
	opts := DataOpts(&c)
	BindOptions(cmd, opts)
	require.NoError(t, cmd.ParseFlags([]string{"--sort", "users,groups/*", "--custom-method", "loan-rules-storage=put", "--only"}))
	require.NoError(t, Resolve(cmd, opts, ""))

	d, err := c.DataOptions()
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "groups/*"}, d.Sort)
	require.Len(t, d.Overrides, 1)
	assert.Equal(t, "PUT", d.Overrides[0].Method)
	assert.True(t, d.Only)

	c.DataMethods = "users=DELETE"
	_, err = c.DataOptions()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
