// Package users manages users, their credentials and their permission sets
// on a tenant. Existence checks are advisory: any failure reads as absent
// and is only logged at debug level.
package users

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"autoconfig.org/internal/gateway"
	"autoconfig.org/internal/retry"
)

const (
	usersPath       = "/users"
	credentialsPath = "/authn/credentials"
	permSetsPath    = "/perms/users"
	catalogPath     = "/perms/permissions"
	loginPath       = "/bl-users/login"

	// catalogPageSize approximates "every root permission".
	catalogPageSize = "99999"
)

// Policies holds the retry policy of each retried operation.
type Policies struct {
	Login  retry.Policy
	Assign retry.Policy
}

// DefaultPolicies uses three attempts one second apart.
func DefaultPolicies() Policies {
	return Policies{
		Login:  retry.DefaultPolicy("login"),
		Assign: retry.DefaultPolicy("assign-permission"),
	}
}

// Service performs user operations against the gateway.
type Service struct {
	client   *gateway.Client
	policies Policies
	logger   *zap.Logger
}

// NewService constructs a Service. A nil logger discards output.
func NewService(client *gateway.Client, policies Policies, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, policies: policies, logger: logger}
}

// NewUser returns an active user with a fresh id when id is empty.
func NewUser(id, username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return User{}, fmt.Errorf("%w: user id %q: %v", ErrInvalidInput, id, err)
	}
	return User{ID: id, Username: username, Active: true}, nil
}

// UserExists reports whether the user record exists.
func (s *Service) UserExists(ctx context.Context, tenant, token, userID string) bool {
	_, err := s.client.Get(ctx, usersPath+"/"+gateway.PathEscape(userID), gateway.Headers(tenant, token))
	if err != nil {
		s.logger.Debug("user existence check negative", zap.String("tenant", tenant), zap.String("user", userID), zap.Error(err))
		return false
	}
	return true
}

// GetUser fetches a user record.
func (s *Service) GetUser(ctx context.Context, tenant, token, userID string) (User, error) {
	resp, err := s.client.Get(ctx, usersPath+"/"+gateway.PathEscape(userID), gateway.Headers(tenant, token))
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", userID, err)
	}
	var u User
	if err := resp.Decode(&u); err != nil {
		return User{}, err
	}
	return u, nil
}

// CreateUser posts u and returns the stored record.
func (s *Service) CreateUser(ctx context.Context, tenant, token string, u User) (User, error) {
	resp, err := s.client.Post(ctx, usersPath, u, gateway.Headers(tenant, token))
	if err != nil {
		return User{}, fmt.Errorf("create user %s: %w", u.Username, err)
	}
	out := u
	if err := resp.Decode(&out); err != nil {
		return User{}, err
	}
	s.logger.Info("user created", zap.String("tenant", tenant), zap.String("user", out.ID), zap.String("username", out.Username))
	return out, nil
}

// DeleteUser removes the user record only.
func (s *Service) DeleteUser(ctx context.Context, tenant, token, userID string) error {
	if _, err := s.client.Delete(ctx, usersPath+"/"+gateway.PathEscape(userID), gateway.Headers(tenant, token)); err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	return nil
}

// CreateCredentials stores the login password of u.
func (s *Service) CreateCredentials(ctx context.Context, tenant, token string, u User, password string) error {
	c := Credentials{UserID: u.ID, Username: u.Username, Password: password}
	if _, err := s.client.Post(ctx, credentialsPath, c, gateway.Headers(tenant, token)); err != nil {
		return fmt.Errorf("create credentials for %s: %w", u.ID, err)
	}
	return nil
}

// CredentialsExist returns the id of the user's credentials record, or ""
// when there is none or the lookup failed.
func (s *Service) CredentialsExist(ctx context.Context, tenant, token, userID string) string {
	path := gateway.Query(credentialsPath, url.Values{"query": {"userId==" + userID}})
	resp, err := s.client.Get(ctx, path, gateway.Headers(tenant, token))
	if err != nil {
		s.logger.Debug("credentials existence check negative", zap.String("tenant", tenant), zap.String("user", userID), zap.Error(err))
		return ""
	}
	var page struct {
		Credentials []Credentials `json:"credentials"`
	}
	if err := resp.Decode(&page); err != nil || len(page.Credentials) == 0 {
		return ""
	}
	return page.Credentials[0].ID
}

// DeleteCredentials removes a credentials record by its own id.
func (s *Service) DeleteCredentials(ctx context.Context, tenant, token, credentialsID string) error {
	if _, err := s.client.Delete(ctx, credentialsPath+"/"+gateway.PathEscape(credentialsID), gateway.Headers(tenant, token)); err != nil {
		return fmt.Errorf("delete credentials %s: %w", credentialsID, err)
	}
	return nil
}

// CreatePermissions creates the user's permission set holding perms.
func (s *Service) CreatePermissions(ctx context.Context, tenant, token string, u User, perms []string) (PermissionSet, error) {
	if perms == nil {
		perms = []string{}
	}
	in := PermissionSet{UserID: u.ID, Permissions: perms}
	resp, err := s.client.Post(ctx, permSetsPath, in, gateway.Headers(tenant, token))
	if err != nil {
		return PermissionSet{}, fmt.Errorf("create permissions for %s: %w", u.ID, err)
	}
	out := in
	if err := resp.Decode(&out); err != nil {
		return PermissionSet{}, err
	}
	return out, nil
}

// GetPermissions fetches the permission set of userID.
func (s *Service) GetPermissions(ctx context.Context, tenant, token, userID string) (PermissionSet, error) {
	resp, err := s.client.Get(ctx, permSetPathByUser(userID), gateway.Headers(tenant, token))
	if err != nil {
		return PermissionSet{}, fmt.Errorf("get permissions of %s: %w", userID, err)
	}
	var ps PermissionSet
	if err := resp.Decode(&ps); err != nil {
		return PermissionSet{}, err
	}
	return ps, nil
}

// PermissionsExist returns the id of the user's permission set, or "" when
// there is none or the lookup failed.
func (s *Service) PermissionsExist(ctx context.Context, tenant, token, userID string) string {
	ps, err := s.GetPermissions(ctx, tenant, token, userID)
	if err != nil {
		s.logger.Debug("permissions existence check negative", zap.String("tenant", tenant), zap.String("user", userID), zap.Error(err))
		return ""
	}
	return ps.ID
}

// DeletePermissions removes a permission set by its own id.
func (s *Service) DeletePermissions(ctx context.Context, tenant, token, permSetID string) error {
	if _, err := s.client.Delete(ctx, permSetsPath+"/"+gateway.PathEscape(permSetID), gateway.Headers(tenant, token)); err != nil {
		return fmt.Errorf("delete permissions %s: %w", permSetID, err)
	}
	return nil
}

// Login authenticates and returns a session. The token is read from the
// X-Okapi-Token response header.
func (s *Service) Login(ctx context.Context, tenant, username, password string) (Session, error) {
	body := map[string]string{"username": username, "password": password}
	sess, err := retry.Do(ctx, s.policies.Login, func(ctx context.Context) (Session, error) {
		resp, err := s.client.Post(ctx, loginPath, body, gateway.Headers(tenant, ""))
		if err != nil {
			return Session{}, err
		}
		token := resp.Header.Get(gateway.HeaderToken)
		if token == "" {
			return Session{}, retry.Permanent(ErrNoToken)
		}
		var payload struct {
			User        User          `json:"user"`
			Permissions PermissionSet `json:"permissions"`
		}
		if len(resp.Body) > 0 {
			if err := resp.Decode(&payload); err != nil {
				return Session{}, retry.Permanent(err)
			}
		}
		return Session{Tenant: tenant, Token: token, User: payload.User, Permissions: payload.Permissions}, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("login %s@%s: %w", username, tenant, err)
	}
	if sess.User.ID == "" {
		// Some login modules return only the token; its claims carry the user.
		claims, err := sess.Claims()
		if err != nil {
			s.logger.Warn("login returned no user record", zap.String("tenant", tenant), zap.Error(err))
		} else {
			sess.User.ID = claims.UserID
			if sess.User.Username == "" {
				sess.User.Username = claims.Subject
			}
		}
	}
	s.logger.Info("logged in", zap.String("tenant", tenant), zap.String("username", username))
	return sess, nil
}

// RootPermissions lists catalog permissions that have no parent.
func (s *Service) RootPermissions(ctx context.Context, sess Session) ([]Permission, error) {
	path := gateway.Query(catalogPath, url.Values{"query": {"childOf==[]"}, "length": {catalogPageSize}})
	resp, err := s.client.Get(ctx, path, gateway.Headers(sess.Tenant, sess.Token))
	if err != nil {
		return nil, fmt.Errorf("list root permissions: %w", err)
	}
	var page struct {
		Permissions []Permission `json:"permissions"`
	}
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}
	roots := page.Permissions[:0]
	for _, p := range page.Permissions {
		if p.Root() {
			roots = append(roots, p)
		}
	}
	return roots, nil
}

// AssignPermission grants one permission to a permission set.
func (s *Service) AssignPermission(ctx context.Context, sess Session, permSetID, name string) error {
	path := permSetsPath + "/" + gateway.PathEscape(permSetID) + "/permissions"
	err := retry.Run(ctx, s.policies.Assign, func(ctx context.Context) error {
		_, err := s.client.Post(ctx, path, map[string]string{"permissionName": name}, gateway.Headers(sess.Tenant, sess.Token))
		return err
	})
	if err != nil {
		return fmt.Errorf("assign permission %s: %w", name, err)
	}
	return nil
}

// AssignPermissions grants names one call at a time. A failure stops the
// loop; the names assigned so far are returned and stay assigned.
func (s *Service) AssignPermissions(ctx context.Context, sess Session, permSetID string, names []string) ([]string, error) {
	done := make([]string, 0, len(names))
	for _, name := range names {
		if err := s.AssignPermission(ctx, sess, permSetID, name); err != nil {
			return done, err
		}
		done = append(done, name)
		s.logger.Debug("permission assigned", zap.String("tenant", sess.Tenant), zap.String("permission", name))
	}
	return done, nil
}

func permSetPathByUser(userID string) string {
	return gateway.Query(permSetsPath+"/"+gateway.PathEscape(userID), url.Values{"indexField": {"userId"}})
}
