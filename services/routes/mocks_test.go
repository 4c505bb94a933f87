package routes

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/upb/routeguard/internal/access"
	"github.com/upb/routeguard/models"
	"github.com/upb/routeguard/repositories"
)

// MockRouteRepository is a mock implementation of RouteRepository
type MockRouteRepository struct {
	mock.Mock
}

func (m *MockRouteRepository) Create(ctx context.Context, route *models.Route) error {
	args := m.Called(ctx, route)
	return args.Error(0)
}

func (m *MockRouteRepository) GetByName(ctx context.Context, name string) (*models.Route, error) {
	args := m.Called(ctx, name)
	if route := args.Get(0); route != nil {
		return route.(*models.Route), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRouteRepository) List(ctx context.Context) ([]*models.Route, error) {
	args := m.Called(ctx)
	if routes := args.Get(0); routes != nil {
		return routes.([]*models.Route), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRouteRepository) ListDependents(ctx context.Context, name string) ([]string, error) {
	args := m.Called(ctx, name)
	if names := args.Get(0); names != nil {
		return names.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRouteRepository) Update(ctx context.Context, route *models.Route) error {
	args := m.Called(ctx, route)
	return args.Error(0)
}

func (m *MockRouteRepository) Upsert(ctx context.Context, route *models.Route) (bool, error) {
	args := m.Called(ctx, route)
	return args.Bool(0), args.Error(1)
}

func (m *MockRouteRepository) Delete(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockRouteRepository) WithTx(tx repositories.Transaction) repositories.RouteRepository {
	return m
}

// fakeTxManager hands out transactions that record how they ended
type fakeTxManager struct {
	txs []*fakeTx
}

func (f *fakeTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	tx := &fakeTx{ctx: ctx}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakeTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, _ := f.Begin(ctx)
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (f *fakeTxManager) last() *fakeTx {
	if len(f.txs) == 0 {
		return nil
	}
	return f.txs[len(f.txs)-1]
}

type fakeTx struct {
	ctx        context.Context
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit() error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	t.rolledBack = true
	return nil
}

func (t *fakeTx) Context() context.Context {
	return t.ctx
}

// MockRecorder is a mock implementation of ChangeRecorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) LogRouteChange(ctx context.Context, action models.AuditAction, def access.RouteDefinition) error {
	args := m.Called(ctx, action, def)
	return args.Error(0)
}

func storedRoute(def access.RouteDefinition) *models.Route {
	return models.NewRoute(def)
}

func ruleRef(r access.Rule) *access.Rule {
	return &r
}
