package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/routeguard/models"
	"github.com/upb/routeguard/repositories"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

const auditColumns = `id, action, route, target, subject, logged_in, roles, reason,
		       details, ip_address, user_agent, request_id, timestamp`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, action, route, target, subject, logged_in, roles, reason,
			details, ip_address, user_agent, request_id, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	var details interface{}
	if len(log.Details) > 0 {
		details = []byte(log.Details)
	}

	executor := bindExecutor(ctx, r.db, r.tx)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.Action,
		log.Route,
		log.Target,
		log.Subject,
		log.LoggedIn,
		pq.Array(log.Roles),
		log.Reason,
		details,
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// GetByID retrieves an audit log by ID
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE id = $1`

	executor := bindExecutor(ctx, r.db, r.tx)
	log, err := scanAuditLog(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("audit log %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}

	return log, nil
}

// List retrieves audit logs matching the filter, newest first
func (r *AuditRepository) List(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	var (
		conditions []string
		args       []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Route != "" {
		add("route = $%d", filter.Route)
	}
	if filter.Since != nil {
		add("timestamp >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		add("timestamp < $%d", *filter.Until)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit, offset := pagination(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return r.queryAuditLogs(ctx, query, args...)
}

// ListByRoute retrieves audit logs for a route with pagination
func (r *AuditRepository) ListByRoute(ctx context.Context, route string, limit, offset int) ([]*models.AuditLog, error) {
	return r.List(ctx, repositories.AuditFilter{Route: route, Limit: limit, Offset: offset})
}

// GetByRequestID retrieves audit logs by request ID
func (r *AuditRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE request_id = $1 ORDER BY timestamp ASC`

	return r.queryAuditLogs(ctx, query, requestID)
}

// WithTx returns a new repository instance bound to the transaction
func (r *AuditRepository) WithTx(tx repositories.Transaction) repositories.AuditRepository {
	return &AuditRepository{
		db:     r.db,
		tx:     asTransaction(tx),
		logger: r.logger,
	}
}

// queryAuditLogs is a helper method to query multiple audit logs
func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := bindExecutor(ctx, r.db, r.tx)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return logs, nil
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	var (
		log       models.AuditLog
		details   []byte
		ipAddress sql.NullString
		userAgent sql.NullString
		requestID sql.NullString
	)
	err := row.Scan(
		&log.ID,
		&log.Action,
		&log.Route,
		&log.Target,
		&log.Subject,
		&log.LoggedIn,
		pq.Array(&log.Roles),
		&log.Reason,
		&details,
		&ipAddress,
		&userAgent,
		&requestID,
		&log.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		log.Details = details
	}
	log.IPAddress = ipAddress.String
	log.UserAgent = userAgent.String
	log.RequestID = requestID.String
	return &log, nil
}

func pagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
