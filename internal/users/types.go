package users

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// User is the user record. Credentials and the permission set exist
// independently of it and are never removed along with it.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

// Credentials are the login secrets of a user. Password is write-only.
type Credentials struct {
	ID       string `json:"id,omitempty"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// PermissionSet is the per-user permission record. ID is distinct from UserID.
type PermissionSet struct {
	ID          string   `json:"id,omitempty"`
	UserID      string   `json:"userId"`
	Permissions []string `json:"permissions"`
}

// Has reports whether name is granted.
func (p PermissionSet) Has(name string) bool {
	for _, n := range p.Permissions {
		if n == name {
			return true
		}
	}
	return false
}

// Permission is a catalog entry. Root permissions have no parents.
type Permission struct {
	PermissionName string   `json:"permissionName"`
	ChildOf        []string `json:"childOf"`
}

// Root reports whether p is a top-level permission.
func (p Permission) Root() bool { return len(p.ChildOf) == 0 }

// Session is the result of a login. It only lives for one workflow run.
type Session struct {
	Tenant      string
	Token       string
	User        User
	Permissions PermissionSet
}

// SessionClaims are the token claims this tool looks at.
type SessionClaims struct {
	Subject string
	UserID  string
	Tenant  string
}

// Claims decodes the token payload without verifying the signature; the
// gateway is the only party that validates tokens.
func (s Session) Claims() (SessionClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token, claims); err != nil {
		return SessionClaims{}, fmt.Errorf("parse session token: %w", err)
	}
	out := SessionClaims{}
	out.Subject, _ = claims.GetSubject()
	out.UserID, _ = claims["user_id"].(string)
	out.Tenant, _ = claims["tenant"].(string)
	return out, nil
}

// HasPermission reports whether the logged in user holds name.
func (s Session) HasPermission(name string) bool {
	return s.Permissions.Has(strings.TrimSpace(name))
}
