package modules

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoconfig.org/internal/gateway"
	"autoconfig.org/internal/gateway/gatewaytest"
	"autoconfig.org/internal/retry"
)

func fastPolicies() Policies {
	p := retry.Policy{MaxAttempts: 3, Backoff: time.Millisecond}
	return Policies{
		Gateway:    p.Named("wait-gateway"),
		Introduce:  p.Named("introduce-module"),
		WaitModule: p.Named("wait-module"),
		Enable:     p.Named("enable-modules"),
		Disable:    p.Named("disable-modules"),
	}
}

func newService(t *testing.T, fake *gatewaytest.Fake, opts ...Option) *Service {
	t.Helper()
	c, err := gateway.New(fake.Start(t))
	require.NoError(t, err)
	return NewService(c, fastPolicies(), opts...)
}

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor([]byte(` {"id":"mod-users-1.0","name":"users"} `))
	require.NoError(t, err)
	assert.Equal(t, "mod-users-1.0", d.ID)
	assert.JSONEq(t, `{"id":"mod-users-1.0","name":"users"}`, string(d.Raw))

	for _, bad := range []string{``, `[]`, `{"name":"x"}`, `{"id":"  "}`, `{"id":`} {
		_, err := ParseDescriptor([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalidDescriptor, bad)
	}
}

func TestReadDescriptorFromStdin(t *testing.T) {
	d, err := ReadDescriptor("-", strings.NewReader(`{"id":"folio_users-2.1"}`))
	require.NoError(t, err)
	assert.Equal(t, "folio_users-2.1", d.ID)
}

func TestWaitForGateway(t *testing.T) {
	fake := gatewaytest.New()
	fake.Fail(http.MethodGet, "/_/proxy/modules", 2, http.StatusBadGateway)
	s := newService(t, fake)

	require.NoError(t, s.WaitForGateway(context.Background()))
	assert.Equal(t, 3, fake.Count(http.MethodGet, "/_/proxy/modules"))
}

func TestWaitForGatewayUnreachable(t *testing.T) {
	c, err := gateway.New("http://127.0.0.1:1", gateway.WithTimeout(100*time.Millisecond))
	require.NoError(t, err)
	s := NewService(c, fastPolicies())

	err = s.WaitForGateway(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGatewayUnreachable)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestIntroduceNewModule(t *testing.T) {
	fake := gatewaytest.New()
	s := newService(t, fake)

	d, err := ParseDescriptor([]byte(`{"id":"mod-users-1.0"}`))
	require.NoError(t, err)
	require.NoError(t, s.Introduce(context.Background(), d))

	assert.Contains(t, fake.Modules, "mod-users-1.0")
	assert.Zero(t, fake.Count(http.MethodDelete, "/_/proxy/modules/mod-users-1.0"))
}

func TestIntroduceReplacesExisting(t *testing.T) {
	fake := gatewaytest.New()
	fake.AddModule("mod-users-1.0")
	s := newService(t, fake)

	d, err := ParseDescriptor([]byte(`{"id":"mod-users-1.0","name":"replaced"}`))
	require.NoError(t, err)
	require.NoError(t, s.Introduce(context.Background(), d))

	assert.Equal(t, 1, fake.Count(http.MethodDelete, "/_/proxy/modules/mod-users-1.0"))
	assert.JSONEq(t, `{"id":"mod-users-1.0","name":"replaced"}`, string(fake.Modules["mod-users-1.0"]))

	var methods []string
	for _, r := range fake.Requests() {
		methods = append(methods, r.Method)
	}
	assert.Equal(t, []string{http.MethodGet, http.MethodDelete, http.MethodPost}, methods)
}

func TestIntroduceRetriesPost(t *testing.T) {
	fake := gatewaytest.New()
	fake.Fail(http.MethodPost, "/_/proxy/modules", 2, http.StatusInternalServerError)
	s := newService(t, fake)

	d, _ := ParseDescriptor([]byte(`{"id":"mod-x-1.0"}`))
	require.NoError(t, s.Introduce(context.Background(), d))
	assert.Equal(t, 3, fake.Count(http.MethodPost, "/_/proxy/modules"))
}

func TestIntroduceDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"id":"mod-a-1.0"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"id":"mod-b-1.0"}`), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "c.json"), []byte(`{"id":"mod-c-1.0"}`), 0o644))

	fake := gatewaytest.New()
	s := newService(t, fake)

	ids, err := s.IntroduceDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"mod-a-1.0", "mod-b-1.0"}, ids)
	assert.NotContains(t, fake.Modules, "mod-c-1.0")
}

func TestIntroduceDirStopsOnInvalidDescriptor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"id":"mod-a-1.0"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`not json`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.json"), []byte(`{"id":"mod-c-1.0"}`), 0o644))

	fake := gatewaytest.New()
	s := newService(t, fake)

	ids, err := s.IntroduceDir(context.Background(), dir)
	require.ErrorIs(t, err, ErrInvalidDescriptor)
	assert.Equal(t, []string{"mod-a-1.0"}, ids)
	assert.NotContains(t, fake.Modules, "mod-c-1.0")
}

func TestIntroduceDirUnreadable(t *testing.T) {
	fake := gatewaytest.New()
	s := newService(t, fake)

	_, err := s.IntroduceDir(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Empty(t, fake.Requests())
}

func TestWaitForBackendModules(t *testing.T) {
	fake := gatewaytest.New()
	fake.AddModule("mod-users-1.0")
	fake.AddModule("mod-permissions-1.0")
	fake.Fail(http.MethodGet, "/_/proxy/modules/mod-users-1.0", 1, http.StatusNotFound)
	s := newService(t, fake)

	require.NoError(t, s.WaitForBackendModules(context.Background(), []string{"mod-users-1.0", "mod-permissions-1.0"}))

	err := s.WaitForBackendModules(context.Background(), []string{"mod-users-1.0", "mod-missing-1.0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mod-missing-1.0")
	assert.True(t, gateway.IsNotFound(err))
}

func TestEnableSingleBatchIncludesDependencies(t *testing.T) {
	fake := gatewaytest.New()
	fake.Tenants["diku"] = []byte(`{"id":"diku"}`)
	fake.AddModule("mod-users-1.0")
	fake.AddModule("mod-authtoken-1.0", gatewaytest.AuthInterface)
	fake.AddModule("folio_users-2.0")
	fake.Requires["mod-users-1.0"] = []string{"mod-authtoken-1.0"}
	s := newService(t, fake)

	res, err := s.Enable(context.Background(), "diku", []string{"mod-users-1.0", "folio_users-2.0"})
	require.NoError(t, err)
	assert.Equal(t, []InstallAction{
		{ID: "mod-authtoken-1.0", Action: ActionEnable},
		{ID: "mod-users-1.0", Action: ActionEnable},
		{ID: "folio_users-2.0", Action: ActionEnable},
	}, res)
	assert.Equal(t, 1, fake.Count(http.MethodPost, "/_/proxy/tenants/diku/install"))

	mod, err := s.FindByInterface(context.Background(), "diku", gatewaytest.AuthInterface)
	require.NoError(t, err)
	assert.Equal(t, "mod-authtoken-1.0", mod)

	res, err = s.Disable(context.Background(), "diku", []string{mod})
	require.NoError(t, err)
	assert.Equal(t, []InstallAction{{ID: mod, Action: ActionDisable}}, res)
	assert.False(t, fake.Enabled["diku"][mod])
}

func TestEnableEmptyIsNoop(t *testing.T) {
	fake := gatewaytest.New()
	s := newService(t, fake)

	res, err := s.Enable(context.Background(), "diku", nil)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, fake.Requests())
}

func TestFindByInterfaceErrors(t *testing.T) {
	fake := gatewaytest.New()
	fake.Tenants["diku"] = []byte(`{"id":"diku"}`)
	fake.AddModule("mod-authtoken-1.0", "authtoken")
	fake.AddModule("mod-authtoken-2.0", "authtoken")
	s := newService(t, fake)

	_, err := s.FindByInterface(context.Background(), "diku", "authtoken")
	require.ErrorIs(t, err, ErrNoModuleForInterface)
	assert.True(t, IsFatal(err))

	fake.Enabled["diku"] = map[string]bool{"mod-authtoken-1.0": true, "mod-authtoken-2.0": true}
	_, err = s.FindByInterface(context.Background(), "diku", "authtoken")
	require.ErrorIs(t, err, ErrAmbiguousInterface)
	assert.True(t, IsFatal(err))
	assert.False(t, IsFatal(errors.New("boom")))
}

func TestListAndExists(t *testing.T) {
	fake := gatewaytest.New()
	fake.AddModule("mod-b-1.0")
	fake.AddModule("mod-a-1.0")
	s := newService(t, fake)

	mods, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, "mod-a-1.0", mods[0].ID)

	assert.True(t, s.Exists(context.Background(), "mod-a-1.0"))
	assert.False(t, s.Exists(context.Background(), "mod-c-1.0"))
}
