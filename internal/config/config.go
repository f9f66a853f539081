// Package config holds the settings shared by every autoconfig command.
// Values come from defaults, an optional YAML file, the environment and
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"

	"autoconfig.org/internal/dataload"
	"autoconfig.org/internal/modules"
	"autoconfig.org/internal/retry"
	"autoconfig.org/internal/users"
	"autoconfig.org/internal/workflow"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

const (
	DefaultOkapiURL      = "http://localhost:9130"
	DefaultTenant        = "diku"
	DefaultAdminID       = "99999999-9999-9999-9999-999999999999"
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "adminpw"
	DefaultHTTPTimeout   = 30 * time.Second
)

// Config is the resolved configuration of one invocation.
type Config struct {
	OkapiURL    string
	TryCount    int
	Backoff     time.Duration
	HTTPTimeout time.Duration
	// RateLimit caps gateway requests per second; zero disables it.
	RateLimit float64

	TenantID          string
	TenantName        string
	TenantDescription string

	AdminID          string
	AdminUsername    string
	AdminPassword    string
	AdminPermissions []string

	// DataSort and DataMethods are the raw --sort and --custom-method lists.
	DataSort    string
	DataMethods string
	DataOnly    bool

	LogLevel    zapcore.Level
	LogFormat   string
	MetricsAddr string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OkapiURL:         DefaultOkapiURL,
		TryCount:         retry.DefaultAttempts,
		Backoff:          retry.DefaultBackoff,
		HTTPTimeout:      DefaultHTTPTimeout,
		TenantID:         DefaultTenant,
		AdminID:          DefaultAdminID,
		AdminUsername:    DefaultAdminUsername,
		AdminPassword:    DefaultAdminPassword,
		AdminPermissions: []string{"perms.all"},
		LogLevel:         zapcore.InfoLevel,
		LogFormat:        "json",
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.OkapiURL))
	switch {
	case c.OkapiURL == "":
		return fmt.Errorf("%w: okapi url is required", ErrInvalidConfig)
	case err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "":
		return fmt.Errorf("%w: okapi url %q must be an absolute http(s) url", ErrInvalidConfig, c.OkapiURL)
	case c.TryCount <= 0:
		return fmt.Errorf("%w: try count must be positive, got %d", ErrInvalidConfig, c.TryCount)
	case c.Backoff < 0:
		return fmt.Errorf("%w: backoff must not be negative", ErrInvalidConfig)
	case c.RateLimit < 0:
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	case strings.TrimSpace(c.TenantID) == "":
		return fmt.Errorf("%w: tenant id is required", ErrInvalidConfig)
	case strings.TrimSpace(c.AdminUsername) == "":
		return fmt.Errorf("%w: admin username is required", ErrInvalidConfig)
	}
	if _, err := uuid.Parse(c.AdminID); err != nil {
		return fmt.Errorf("%w: admin id %q: %v", ErrInvalidConfig, c.AdminID, err)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log format %q, want json or console", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// Policy returns the retry policy for op.
func (c Config) Policy(op string) retry.Policy {
	return retry.Policy{Name: op, MaxAttempts: c.TryCount, Backoff: c.Backoff}
}

// Policies returns the retry policies of every workflow operation.
func (c Config) Policies() workflow.Policies {
	return workflow.Policies{
		Modules: modules.Policies{
			Gateway:    c.Policy("wait-gateway"),
			Introduce:  c.Policy("introduce-module"),
			WaitModule: c.Policy("wait-module"),
			Enable:     c.Policy("enable-modules"),
			Disable:    c.Policy("disable-modules"),
		},
		Users: users.Policies{
			Login:  c.Policy("login"),
			Assign: c.Policy("assign-permission"),
		},
	}
}

// Admin returns the configured administrative user.
func (c Config) Admin() workflow.Admin {
	return workflow.Admin{
		ID:          c.AdminID,
		Username:    c.AdminUsername,
		Password:    c.AdminPassword,
		Permissions: append([]string(nil), c.AdminPermissions...),
	}
}

// Login returns the admin credentials for workflows that log in.
func (c Config) Login() workflow.Login {
	return workflow.Login{Tenant: c.TenantID, Username: c.AdminUsername, Password: c.AdminPassword}
}

// DataOptions parses the data loading patterns.
func (c Config) DataOptions() (dataload.Options, error) {
	overrides, err := dataload.ParseMethodOverrides(c.DataMethods)
	if err != nil {
		return dataload.Options{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return dataload.Options{
		Sort:      dataload.ParseSortPatterns(c.DataSort),
		Overrides: overrides,
		Only:      c.DataOnly,
	}, nil
}
