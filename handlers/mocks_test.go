package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/upb/routeguard/internal/access"
	"github.com/upb/routeguard/models"
	"github.com/upb/routeguard/repositories"
	"github.com/upb/routeguard/services/routes"
)

type MockAccessChecker struct {
	mock.Mock
}

func (m *MockAccessChecker) Check(ctx context.Context, p access.Principal, route string, navigation bool) (access.Decision, error) {
	args := m.Called(ctx, p, route, navigation)
	return args.Get(0).(access.Decision), args.Error(1)
}

func (m *MockAccessChecker) Evaluate(ctx context.Context, p access.Principal, route string, navigation bool) (access.Decision, error) {
	args := m.Called(ctx, p, route, navigation)
	return args.Get(0).(access.Decision), args.Error(1)
}

type MockRouteCatalog struct {
	mock.Mock
}

func (m *MockRouteCatalog) List(ctx context.Context) ([]routes.Entry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]routes.Entry), args.Error(1)
}

func (m *MockRouteCatalog) Get(ctx context.Context, name string) (*routes.Entry, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*routes.Entry), args.Error(1)
}

func (m *MockRouteCatalog) Put(ctx context.Context, def access.RouteDefinition) (bool, error) {
	args := m.Called(ctx, def)
	return args.Bool(0), args.Error(1)
}

func (m *MockRouteCatalog) Delete(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockRouteCatalog) Validate(ctx context.Context) ([]routes.Problem, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]routes.Problem), args.Error(1)
}

type MockAuditLogReader struct {
	mock.Mock
}

func (m *MockAuditLogReader) ListLogs(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditLog), args.Error(1)
}

func (m *MockAuditLogReader) GetLog(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditLog), args.Error(1)
}
