package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/upb/routeguard/models"
	"github.com/upb/routeguard/repositories"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// RouteRepository implements the repositories.RouteRepository interface
type RouteRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewRouteRepository creates a new route repository
func NewRouteRepository(db *DB, logger *zap.Logger) repositories.RouteRepository {
	return &RouteRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new route
func (r *RouteRepository) Create(ctx context.Context, route *models.Route) error {
	query := `
		INSERT INTO routes (name, parent, rule_kind, roles, layouts, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := bindExecutor(ctx, r.db, r.tx)
	_, err := executor.ExecContext(ctx, query,
		route.Name,
		route.Parent,
		route.RuleKind,
		pq.Array(route.Roles),
		pq.Array(route.Layouts),
		route.Description,
		route.CreatedAt,
		route.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("route %s: %w", route.Name, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create route: %w", err)
	}

	r.logger.Debug("route created", zap.String("name", route.Name))
	return nil
}

// GetByName retrieves a route by name
func (r *RouteRepository) GetByName(ctx context.Context, name string) (*models.Route, error) {
	query := `
		SELECT name, parent, rule_kind, roles, layouts, description, created_at, updated_at
		FROM routes
		WHERE name = $1
	`

	executor := bindExecutor(ctx, r.db, r.tx)
	route, err := scanRoute(executor.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("route %s: %w", name, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get route: %w", err)
	}

	return route, nil
}

// List retrieves all stored routes ordered by name
func (r *RouteRepository) List(ctx context.Context) ([]*models.Route, error) {
	query := `
		SELECT name, parent, rule_kind, roles, layouts, description, created_at, updated_at
		FROM routes
		ORDER BY name
	`

	executor := bindExecutor(ctx, r.db, r.tx)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var routes []*models.Route
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		routes = append(routes, route)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating routes: %w", err)
	}

	return routes, nil
}

// ListDependents returns the names of routes that use name as parent or layout
func (r *RouteRepository) ListDependents(ctx context.Context, name string) ([]string, error) {
	query := `
		SELECT name
		FROM routes
		WHERE parent = $1 OR $1 = ANY(layouts)
		ORDER BY name
	`

	executor := bindExecutor(ctx, r.db, r.tx)
	rows, err := executor.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependent routes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var dependent string
		if err := rows.Scan(&dependent); err != nil {
			return nil, fmt.Errorf("failed to scan dependent route: %w", err)
		}
		names = append(names, dependent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependent routes: %w", err)
	}

	return names, nil
}

// Update updates a route
func (r *RouteRepository) Update(ctx context.Context, route *models.Route) error {
	query := `
		UPDATE routes
		SET parent = $2, rule_kind = $3, roles = $4, layouts = $5, description = $6, updated_at = $7
		WHERE name = $1
	`

	route.UpdatedAt = time.Now()

	executor := bindExecutor(ctx, r.db, r.tx)
	result, err := executor.ExecContext(ctx, query,
		route.Name,
		route.Parent,
		route.RuleKind,
		pq.Array(route.Roles),
		pq.Array(route.Layouts),
		route.Description,
		route.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update route: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("route %s: %w", route.Name, repositories.ErrNotFound)
	}

	r.logger.Debug("route updated", zap.String("name", route.Name))
	return nil
}

// Upsert creates or replaces a route and reports whether it was created
func (r *RouteRepository) Upsert(ctx context.Context, route *models.Route) (bool, error) {
	query := `
		INSERT INTO routes (name, parent, rule_kind, roles, layouts, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE
		SET parent = EXCLUDED.parent,
			rule_kind = EXCLUDED.rule_kind,
			roles = EXCLUDED.roles,
			layouts = EXCLUDED.layouts,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, (xmax = 0) AS inserted
	`

	now := time.Now()
	if route.CreatedAt.IsZero() {
		route.CreatedAt = now
	}
	route.UpdatedAt = now

	var inserted bool
	executor := bindExecutor(ctx, r.db, r.tx)
	err := executor.QueryRowContext(ctx, query,
		route.Name,
		route.Parent,
		route.RuleKind,
		pq.Array(route.Roles),
		pq.Array(route.Layouts),
		route.Description,
		route.CreatedAt,
		route.UpdatedAt,
	).Scan(&route.CreatedAt, &inserted)

	if err != nil {
		return false, fmt.Errorf("failed to upsert route: %w", err)
	}

	r.logger.Debug("route upserted", zap.String("name", route.Name), zap.Bool("created", inserted))
	return inserted, nil
}

// Delete deletes a route
func (r *RouteRepository) Delete(ctx context.Context, name string) error {
	query := `DELETE FROM routes WHERE name = $1`

	executor := bindExecutor(ctx, r.db, r.tx)
	result, err := executor.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("route %s: %w", name, repositories.ErrNotFound)
	}

	r.logger.Debug("route deleted", zap.String("name", name))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *RouteRepository) WithTx(tx repositories.Transaction) repositories.RouteRepository {
	return &RouteRepository{
		db:     r.db,
		tx:     asTransaction(tx),
		logger: r.logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoute(row rowScanner) (*models.Route, error) {
	route := &models.Route{}
	err := row.Scan(
		&route.Name,
		&route.Parent,
		&route.RuleKind,
		pq.Array(&route.Roles),
		pq.Array(&route.Layouts),
		&route.Description,
		&route.CreatedAt,
		&route.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return route, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
