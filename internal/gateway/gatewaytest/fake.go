// Package gatewaytest provides an in-memory Okapi gateway for tests. It
// records every request so tests can assert on ordering and batching.
package gatewaytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthInterface is the interface whose provider enforces tokens on a tenant.
const AuthInterface = "authtoken"

// Request is one recorded call.
type Request struct {
	Method string
	Path   string
	Query  string
	Tenant string
	Token  string
	Agent  string
	Body   []byte
}

// Permission is a catalog entry.
type Permission struct {
	PermissionName string   `json:"permissionName"`
	ChildOf        []string `json:"childOf"`
}

type credential struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type permSet struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	Permissions []string `json:"permissions"`
}

type failure struct {
	method string
	prefix string
	status int
	left   int
}

// Fake is an httptest-backed Okapi. Exported maps may be seeded before Start
// and inspected after the test; hold no references across concurrent calls.
type Fake struct {
	mu sync.Mutex

	Modules   map[string]json.RawMessage
	Tenants   map[string]json.RawMessage
	Enabled   map[string]map[string]bool
	Provides  map[string][]string
	Requires  map[string][]string
	Users     map[string]map[string]any
	Catalog   []Permission
	Documents map[string][]json.RawMessage
	// Reject lets a test refuse data documents: return a non-zero status.
	Reject func(path string, body []byte) int

	credentials map[string]credential
	permSets    map[string]permSet
	tokens      map[string]string
	failures    []*failure
	requests    []Request
	secret      []byte
}

// New returns an empty gateway.
func New() *Fake {
	return &Fake{
		Modules:     make(map[string]json.RawMessage),
		Tenants:     make(map[string]json.RawMessage),
		Enabled:     make(map[string]map[string]bool),
		Provides:    make(map[string][]string),
		Requires:    make(map[string][]string),
		Users:       make(map[string]map[string]any),
		Documents:   make(map[string][]json.RawMessage),
		credentials: make(map[string]credential),
		permSets:    make(map[string]permSet),
		tokens:      make(map[string]string),
		secret:      []byte("gatewaytest"),
	}
}

// Start serves the fake until the test ends and returns its base URL.
func (f *Fake) Start(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return srv.URL
}

// AddModule registers a module descriptor providing the given interfaces.
func (f *Fake) AddModule(id string, provides ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Modules[id] = json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))
	if len(provides) > 0 {
		f.Provides[id] = provides
	}
}

// Fail makes the next n requests whose method matches and whose path starts
// with prefix fail with status.
func (f *Fake) Fail(method, prefix string, n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, &failure{method: method, prefix: prefix, status: status, left: n})
}

// Requests returns a copy of the recorded calls.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Count returns how many recorded calls match method and exact path.
func (f *Fake) Count(method, path string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// HasCredentials reports whether credentials exist for userID.
func (f *Fake) HasCredentials(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.credentials {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// PermissionsOf returns the permission names granted to userID, or nil.
func (f *Fake) PermissionsOf(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ps := range f.permSets {
		if ps.UserID == userID {
			return append([]string(nil), ps.Permissions...)
		}
	}
	return nil
}

// SeedCredentials stores credentials for a user and returns their id.
func (f *Fake) SeedCredentials(userID, username, password string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.credentials[id] = credential{ID: id, UserID: userID, Username: username, Password: password}
	return id
}

// SeedPermissions stores a permission set for a user and returns its id.
func (f *Fake) SeedPermissions(userID string, perms ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.permSets[id] = permSet{ID: id, UserID: userID, Permissions: append([]string{}, perms...)}
	return id
}

func (f *Fake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Tenant: r.Header.Get("X-Okapi-Tenant"),
		Token:  r.Header.Get("X-Okapi-Token"),
		Agent:  r.UserAgent(),
		Body:   body,
	})

	for _, fl := range f.failures {
		if fl.left > 0 && fl.method == r.Method && strings.HasPrefix(r.URL.Path, fl.prefix) {
			fl.left--
			http.Error(w, "injected failure", fl.status)
			return
		}
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")

	if strings.HasPrefix(path, "/_/proxy/") {
		f.serveProxy(w, r, segs[2:], body)
		return
	}

	tenant := r.Header.Get("X-Okapi-Tenant")
	if tenant == "" {
		http.Error(w, "missing tenant header", http.StatusBadRequest)
		return
	}
	if _, ok := f.Tenants[tenant]; !ok {
		http.Error(w, "no such tenant "+tenant, http.StatusBadRequest)
		return
	}
	if path == "/bl-users/login" && r.Method == http.MethodPost {
		f.login(w, tenant, body)
		return
	}
	if f.authEnforced(tenant) {
		tok := r.Header.Get("X-Okapi-Token")
		if tok == "" || f.tokens[tok] != tenant {
			http.Error(w, "missing or invalid token", http.StatusUnauthorized)
			return
		}
	}

	switch {
	case segs[0] == "users":
		f.serveUsers(w, r, segs, body)
	case segs[0] == "authn" && len(segs) > 1 && segs[1] == "credentials":
		f.serveCredentials(w, r, segs, body)
	case segs[0] == "perms" && len(segs) > 1 && segs[1] == "users":
		f.servePermSets(w, r, segs, body)
	case segs[0] == "perms" && len(segs) > 1 && segs[1] == "permissions":
		f.serveCatalog(w, r)
	default:
		f.serveDocument(w, r, path, body)
	}
}

func (f *Fake) authEnforced(tenant string) bool {
	for id, on := range f.Enabled[tenant] {
		if !on {
			continue
		}
		for _, iface := range f.Provides[id] {
			if iface == AuthInterface {
				return true
			}
		}
	}
	return false
}

func (f *Fake) serveProxy(w http.ResponseWriter, r *http.Request, segs []string, body []byte) {
	switch {
	case segs[0] == "modules" && len(segs) == 1 && r.Method == http.MethodGet:
		ids := make([]string, 0, len(f.Modules))
		for id := range f.Modules {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out := make([]map[string]string, 0, len(ids))
		for _, id := range ids {
			out = append(out, map[string]string{"id": id})
		}
		writeJSON(w, http.StatusOK, out)
	case segs[0] == "modules" && len(segs) == 1 && r.Method == http.MethodPost:
		var d struct {
			ID       string `json:"id"`
			Provides []struct {
				ID string `json:"id"`
			} `json:"provides"`
		}
		if err := json.Unmarshal(body, &d); err != nil || d.ID == "" {
			http.Error(w, "invalid module descriptor", http.StatusBadRequest)
			return
		}
		if _, ok := f.Modules[d.ID]; ok {
			http.Error(w, "module "+d.ID+" already exists", http.StatusBadRequest)
			return
		}
		f.Modules[d.ID] = append(json.RawMessage(nil), body...)
		for _, p := range d.Provides {
			f.Provides[d.ID] = append(f.Provides[d.ID], p.ID)
		}
		writeRaw(w, http.StatusCreated, body)
	case segs[0] == "modules" && len(segs) == 2:
		id := segs[1]
		desc, ok := f.Modules[id]
		if !ok {
			http.Error(w, "module "+id+" not found", http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeRaw(w, http.StatusOK, desc)
		case http.MethodDelete:
			delete(f.Modules, id)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case segs[0] == "tenants" && len(segs) == 1 && r.Method == http.MethodPost:
		var t struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &t); err != nil || t.ID == "" {
			http.Error(w, "invalid tenant", http.StatusBadRequest)
			return
		}
		if _, ok := f.Tenants[t.ID]; ok {
			http.Error(w, "duplicate tenant id "+t.ID, http.StatusBadRequest)
			return
		}
		f.Tenants[t.ID] = append(json.RawMessage(nil), body...)
		writeRaw(w, http.StatusCreated, body)
	case segs[0] == "tenants" && len(segs) >= 2:
		tenant := segs[1]
		desc, ok := f.Tenants[tenant]
		if !ok {
			http.Error(w, "tenant "+tenant+" not found", http.StatusNotFound)
			return
		}
		switch {
		case len(segs) == 2 && r.Method == http.MethodGet:
			writeRaw(w, http.StatusOK, desc)
		case len(segs) == 3 && segs[2] == "install" && r.Method == http.MethodPost:
			f.install(w, tenant, body)
		case len(segs) == 4 && segs[2] == "interfaces" && r.Method == http.MethodGet:
			out := []map[string]string{}
			for _, id := range f.enabledIDs(tenant) {
				for _, iface := range f.Provides[id] {
					if iface == segs[3] {
						out = append(out, map[string]string{"id": id})
					}
				}
			}
			writeJSON(w, http.StatusOK, out)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *Fake) enabledIDs(tenant string) []string {
	var ids []string
	for id, on := range f.Enabled[tenant] {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *Fake) install(w http.ResponseWriter, tenant string, body []byte) {
	var actions []struct {
		ID     string `json:"id"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &actions); err != nil {
		http.Error(w, "invalid install body", http.StatusBadRequest)
		return
	}
	type action struct {
		ID     string `json:"id"`
		Action string `json:"action"`
	}
	var out []action
	seen := map[string]bool{}
	var enable func(id string) bool
	enable = func(id string) bool {
		if seen[id] {
			return true
		}
		seen[id] = true
		if _, ok := f.Modules[id]; !ok {
			return false
		}
		for _, dep := range f.Requires[id] {
			if !enable(dep) {
				return false
			}
		}
		out = append(out, action{ID: id, Action: "enable"})
		return true
	}
	for _, a := range actions {
		switch a.Action {
		case "enable":
			if !enable(a.ID) {
				http.Error(w, "module "+a.ID+" or a dependency is not registered", http.StatusBadRequest)
				return
			}
		case "disable":
			if !f.Enabled[tenant][a.ID] {
				http.Error(w, "module "+a.ID+" is not enabled", http.StatusBadRequest)
				return
			}
			out = append(out, action{ID: a.ID, Action: "disable"})
		default:
			http.Error(w, "unknown action "+a.Action, http.StatusBadRequest)
			return
		}
	}
	if f.Enabled[tenant] == nil {
		f.Enabled[tenant] = make(map[string]bool)
	}
	for _, a := range out {
		f.Enabled[tenant][a.ID] = a.Action == "enable"
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *Fake) login(w http.ResponseWriter, tenant string, body []byte) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		http.Error(w, "invalid login body", http.StatusBadRequest)
		return
	}
	var user map[string]any
	for _, u := range f.Users {
		if u["username"] == in.Username {
			user = u
		}
	}
	if user == nil {
		http.Error(w, "unknown user", http.StatusUnprocessableEntity)
		return
	}
	userID, _ := user["id"].(string)
	ok := false
	for _, c := range f.credentials {
		if c.UserID == userID && c.Password == in.Password {
			ok = true
		}
	}
	if !ok {
		http.Error(w, "wrong password", http.StatusUnprocessableEntity)
		return
	}
	claims := jwt.MapClaims{
		"sub":     in.Username,
		"user_id": userID,
		"tenant":  tenant,
		"iat":     time.Now().Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.secret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	f.tokens[tok] = tenant
	var perms permSet
	for _, ps := range f.permSets {
		if ps.UserID == userID {
			perms = ps
		}
	}
	w.Header().Set("X-Okapi-Token", tok)
	writeJSON(w, http.StatusCreated, map[string]any{"user": user, "permissions": perms})
}

func (f *Fake) serveUsers(w http.ResponseWriter, r *http.Request, segs []string, body []byte) {
	switch {
	case len(segs) == 1 && r.Method == http.MethodPost:
		var u map[string]any
		if err := json.Unmarshal(body, &u); err != nil {
			http.Error(w, "invalid user", http.StatusBadRequest)
			return
		}
		id, _ := u["id"].(string)
		if id == "" {
			id = uuid.NewString()
			u["id"] = id
		}
		if _, ok := f.Users[id]; ok {
			http.Error(w, "user "+id+" already exists", http.StatusUnprocessableEntity)
			return
		}
		f.Users[id] = u
		writeJSON(w, http.StatusCreated, u)
	case len(segs) == 2:
		u, ok := f.Users[segs[1]]
		if !ok {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, u)
		case http.MethodDelete:
			delete(f.Users, segs[1])
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *Fake) serveCredentials(w http.ResponseWriter, r *http.Request, segs []string, body []byte) {
	switch {
	case len(segs) == 2 && r.Method == http.MethodPost:
		var c credential
		if err := json.Unmarshal(body, &c); err != nil || c.UserID == "" {
			http.Error(w, "invalid credentials", http.StatusBadRequest)
			return
		}
		for _, existing := range f.credentials {
			if existing.UserID == c.UserID {
				http.Error(w, "credentials already exist", http.StatusUnprocessableEntity)
				return
			}
		}
		c.ID = uuid.NewString()
		f.credentials[c.ID] = c
		writeJSON(w, http.StatusCreated, credential{ID: c.ID, UserID: c.UserID, Username: c.Username})
	case len(segs) == 2 && r.Method == http.MethodGet:
		userID := strings.TrimPrefix(r.URL.Query().Get("query"), "userId==")
		out := []credential{}
		for _, c := range f.credentials {
			if c.UserID == userID {
				out = append(out, credential{ID: c.ID, UserID: c.UserID, Username: c.Username})
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"credentials": out, "totalRecords": len(out)})
	case len(segs) == 3 && r.Method == http.MethodDelete:
		if _, ok := f.credentials[segs[2]]; !ok {
			http.Error(w, "credentials not found", http.StatusNotFound)
			return
		}
		delete(f.credentials, segs[2])
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *Fake) servePermSets(w http.ResponseWriter, r *http.Request, segs []string, body []byte) {
	switch {
	case len(segs) == 2 && r.Method == http.MethodPost:
		var ps permSet
		if err := json.Unmarshal(body, &ps); err != nil || ps.UserID == "" {
			http.Error(w, "invalid permission set", http.StatusBadRequest)
			return
		}
		for _, existing := range f.permSets {
			if existing.UserID == ps.UserID {
				http.Error(w, "permission set already exists", http.StatusUnprocessableEntity)
				return
			}
		}
		ps.ID = uuid.NewString()
		if ps.Permissions == nil {
			ps.Permissions = []string{}
		}
		f.permSets[ps.ID] = ps
		writeJSON(w, http.StatusCreated, ps)
	case len(segs) == 3 && r.Method == http.MethodGet:
		if r.URL.Query().Get("indexField") == "userId" {
			for _, ps := range f.permSets {
				if ps.UserID == segs[2] {
					writeJSON(w, http.StatusOK, ps)
					return
				}
			}
		} else if ps, ok := f.permSets[segs[2]]; ok {
			writeJSON(w, http.StatusOK, ps)
			return
		}
		http.Error(w, "permission set not found", http.StatusNotFound)
	case len(segs) == 3 && r.Method == http.MethodDelete:
		if _, ok := f.permSets[segs[2]]; !ok {
			http.Error(w, "permission set not found", http.StatusNotFound)
			return
		}
		delete(f.permSets, segs[2])
		w.WriteHeader(http.StatusNoContent)
	case len(segs) == 4 && segs[3] == "permissions" && r.Method == http.MethodPost:
		ps, ok := f.permSets[segs[2]]
		if !ok {
			http.Error(w, "permission set not found", http.StatusNotFound)
			return
		}
		var in struct {
			PermissionName string `json:"permissionName"`
		}
		if err := json.Unmarshal(body, &in); err != nil || in.PermissionName == "" {
			http.Error(w, "invalid permission", http.StatusBadRequest)
			return
		}
		for _, p := range ps.Permissions {
			if p == in.PermissionName {
				http.Error(w, "permission already assigned", http.StatusUnprocessableEntity)
				return
			}
		}
		ps.Permissions = append(ps.Permissions, in.PermissionName)
		f.permSets[ps.ID] = ps
		writeJSON(w, http.StatusOK, in)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *Fake) serveCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rootOnly := r.URL.Query().Get("query") == "childOf==[]"
	out := []Permission{}
	for _, p := range f.Catalog {
		if rootOnly && len(p.ChildOf) > 0 {
			continue
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": out, "totalRecords": len(out)})
}

func (f *Fake) serveDocument(w http.ResponseWriter, r *http.Request, path string, body []byte) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if f.Reject != nil {
		if status := f.Reject(path, body); status != 0 {
			http.Error(w, "rejected "+path, status)
			return
		}
	}
	f.Documents[path] = append(f.Documents[path], append(json.RawMessage(nil), body...))
	writeRaw(w, http.StatusCreated, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
