package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/routeguard/models"
)

var (
	// ErrNotFound is wrapped by repositories when a row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is wrapped by repositories on unique key violations
	ErrDuplicate = errors.New("duplicate record")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// RetryClassifier is implemented by transaction managers whose transactions
// can abort because of a concurrent writer
type RetryClassifier interface {
	IsRetryable(err error) bool
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// RouteRepository handles stored route definitions
type RouteRepository interface {
	// Create creates a new route
	Create(ctx context.Context, route *models.Route) error

	// GetByName retrieves a route by name
	GetByName(ctx context.Context, name string) (*models.Route, error)

	// List retrieves all stored routes ordered by name
	List(ctx context.Context) ([]*models.Route, error)

	// ListDependents returns the names of routes that use name as parent or layout
	ListDependents(ctx context.Context, name string) ([]string, error)

	// Update updates a route
	Update(ctx context.Context, route *models.Route) error

	// Upsert creates or replaces a route and reports whether it was created
	Upsert(ctx context.Context, route *models.Route) (bool, error)

	// Delete deletes a route
	Delete(ctx context.Context, name string) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) RouteRepository
}

// AuditFilter narrows audit log queries
type AuditFilter struct {
	Action models.AuditAction
	Route  string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByID retrieves an audit log by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)

	// List retrieves audit logs matching the filter, newest first
	List(ctx context.Context, filter AuditFilter) ([]*models.AuditLog, error)

	// ListByRoute retrieves audit logs for a route with pagination
	ListByRoute(ctx context.Context, route string, limit, offset int) ([]*models.AuditLog, error)

	// GetByRequestID retrieves audit logs by request ID
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditLog, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) AuditRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Routes    RouteRepository
	AuditLogs AuditRepository
}
