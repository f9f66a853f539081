package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoconfig.org/internal/config"
	"autoconfig.org/internal/gateway/gatewaytest"
	"autoconfig.org/internal/workflow"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func gatewayArgs(url string, args ...string) []string {
	return append(args, "--okapi-url", url, "--backoff", "1ms", "--log-level", "error")
}

func TestListModules(t *testing.T) {
	fake := gatewaytest.New()
	fake.AddModule("mod-users-1.0")
	fake.AddModule("mod-perms-1.0")
	url := fake.Start(t)

	out, err := execute(t, "", gatewayArgs(url, "folio", "list-modules")...)
	require.NoError(t, err)
	assert.Contains(t, out, "mod-users-1.0\n")
	assert.Contains(t, out, "mod-perms-1.0\n")
	for _, r := range fake.Requests() {
		assert.Equal(t, "autoconfig/"+version, r.Agent)
	}

	out, err = execute(t, "", gatewayArgs(url, "folio", "list-modules", "mod-other-1.0")...)
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestIntroduceModuleFromStdin(t *testing.T) {
	fake := gatewaytest.New()
	url := fake.Start(t)

	out, err := execute(t, `{"id":"mod-inventory-2.0"}`, gatewayArgs(url, "folio", "introduce-module", "--from-file", "-")...)
	require.NoError(t, err)
	assert.Equal(t, "mod-inventory-2.0\n", out)
	assert.Contains(t, fake.Modules, "mod-inventory-2.0")

	_, err = execute(t, "", gatewayArgs(url, "folio", "introduce-module", "--from-file", "a.json", "--from-folder", "mods")...)
	require.ErrorIs(t, err, workflow.ErrConflictingArgs)
}

func TestRegisterTenant(t *testing.T) {
	fake := gatewaytest.New()
	fake.AddModule("mod-users-1.0")
	fake.AddModule("mod-authtoken-1.0", gatewaytest.AuthInterface)
	fake.Catalog = []gatewaytest.Permission{{PermissionName: "perms.all"}, {PermissionName: "users.all"}}
	url := fake.Start(t)

	out, err := execute(t, "", gatewayArgs(url, "folio", "register-tenant",
		"--tenant-id", "diku",
		"--install-backend-modules", "mod-users-1.0,mod-authtoken-1.0",
	)...)
	require.NoError(t, err)
	assert.Contains(t, out, "tenant_created: true")
	assert.Contains(t, out, "auth_module: mod-authtoken-1.0")
	assert.Contains(t, fake.Tenants, "diku")
	assert.Contains(t, fake.Users, config.DefaultAdminID)
}

func TestGatewayDown(t *testing.T) {
	_, err := execute(t, "", "folio", "list-modules",
		"--okapi-url", "http://127.0.0.1:1", "--backoff", "1ms", "--try-count", "2", "--log-level", "error")
	require.Error(t, err)
}

func TestInvalidArguments(t *testing.T) {
	_, err := execute(t, "", "folio", "load-data", "--log-level", "error")
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, "", "site", "create-db", "--site", "ubl", "--db-url", "mysql://u:p@db/ubl", "--reuse-db", "--drop-db", "--log-level", "error")
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, "", "folio", "list-modules", "--try-count", "0")
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, "", "site", "build", "--steps", "make", "--log-level", "error")
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestDeployConfig(t *testing.T) {
	base := t.TempDir()
	parent := filepath.Join(base, "ubl", "config", "vufind", "config.ini")
	require.NoError(t, os.MkdirAll(filepath.Dir(parent), 0o755))
	require.NoError(t, os.WriteFile(parent, []byte("[Site]\ntitle = UBL\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "ubl", "languages"), 0o755))
	settings := filepath.Join(base, "settings")

	out, err := execute(t, "", "site", "deploy-config",
		"--basedir", base, "--site", "ubl", "--instance", "alpha",
		"--settings-dir", settings, "--url", "http://alpha.local", "--update-settings",
		"--log-level", "error")
	require.NoError(t, err)
	generated := filepath.Join(base, "ubl", "alpha", "config", "vufind", "config.ini")
	assert.Equal(t, generated+"\n", out)

	raw, err := os.ReadFile(generated)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "relative_path = ../../../config/vufind/config.ini")
	assert.Contains(t, string(raw), "http://alpha.local")
	assert.FileExists(t, filepath.Join(settings, "ubl.json"))

	// The database url written above is what the database commands use.
	_, err = execute(t, "", "site", "create-db", "--basedir", base, "--site", "ubl", "--instance", "alpha",
		"--reuse-db", "--drop-db", "--log-level", "error")
	require.True(t, errors.Is(err, config.ErrInvalidConfig), "got %v", err)
}

func TestPrintErrorNamesStepOnce(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, fmt.Errorf("register-tenant: %w", &workflow.StepError{Step: workflow.StepLogin, Err: errors.New("bad credentials")}))
	assert.Equal(t, "Error: register-tenant: step login: bad credentials\n", buf.String())
	assert.Equal(t, 1, strings.Count(buf.String(), "step "))
}
