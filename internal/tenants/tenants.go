// Package tenants creates and probes tenants on the gateway.
package tenants

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"autoconfig.org/internal/gateway"
)

const tenantsPath = "/_/proxy/tenants"

var ErrInvalidTenant = errors.New("tenants: tenant id is required")

// Tenant is the tenant descriptor posted to the gateway.
type Tenant struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Service operates on tenants.
type Service struct {
	client *gateway.Client
	logger *zap.Logger
}

// NewService constructs a Service. A nil logger discards output.
func NewService(client *gateway.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, logger: logger}
}

// Exists reports whether the tenant is known to the gateway. It never fails:
// a transport error or server failure reads as "does not exist", and the
// swallowed error is only logged at debug level.
func (s *Service) Exists(ctx context.Context, id string) bool {
	_, err := s.client.Get(ctx, tenantsPath+"/"+gateway.PathEscape(id), nil)
	if err != nil {
		s.logger.Debug("tenant existence check negative", zap.String("tenant", id), zap.Error(err))
		return false
	}
	return true
}

// Create registers t. It is not retried: a duplicate id is a hard failure.
func (s *Service) Create(ctx context.Context, t Tenant) error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrInvalidTenant
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if _, err := s.client.Post(ctx, tenantsPath, t, nil); err != nil {
		return fmt.Errorf("create tenant %s: %w", t.ID, err)
	}
	s.logger.Info("tenant created", zap.String("tenant", t.ID))
	return nil
}

// EnsureExists creates t unless Exists reports it. It returns whether a
// tenant was created.
func (s *Service) EnsureExists(ctx context.Context, t Tenant) (bool, error) {
	if s.Exists(ctx, t.ID) {
		s.logger.Info("tenant already exists", zap.String("tenant", t.ID))
		return false, nil
	}
	if err := s.Create(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}
