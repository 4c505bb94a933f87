package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/routeguard/models"
	"github.com/upb/routeguard/repositories"
	"github.com/upb/routeguard/utils"
	"go.uber.org/zap"
)

// AuditLogReader defines the audit trail queries exposed over HTTP
type AuditLogReader interface {
	ListLogs(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error)
	GetLog(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)
}

// AuditLogQuery holds the query parameters of GET /api/v1/audit/logs
type AuditLogQuery struct {
	Action string     `json:"action" validate:"omitempty,oneof=access_denied access_misconfigured route_upserted route_deleted"`
	Route  string     `json:"route" validate:"omitempty,routename"`
	Limit  int        `json:"limit" validate:"gte=0,lte=500"`
	Offset int        `json:"offset" validate:"gte=0"`
	Since  *time.Time `validate:"-"`
	Until  *time.Time `validate:"-"`
}

// AuditLogListResponse represents a page of audit entries
type AuditLogListResponse struct {
	Logs   []*models.AuditLog `json:"logs"`
	Count  int                `json:"count"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// AuditHandler handles audit trail requests
type AuditHandler struct {
	audit  AuditLogReader
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit AuditLogReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// HandleListLogs handles GET /api/v1/audit/logs
func (h *AuditHandler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	query, err := parseAuditLogQuery(r)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(query); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	logs, err := h.audit.ListLogs(r.Context(), repositories.AuditFilter{
		Action: models.AuditAction(query.Action),
		Route:  query.Route,
		Since:  query.Since,
		Until:  query.Until,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}

	_ = utils.WriteOK(w, AuditLogListResponse{
		Logs:   logs,
		Count:  len(logs),
		Limit:  query.Limit,
		Offset: query.Offset,
	})
}

// HandleGetLog handles GET /api/v1/audit/logs/{id}
func (h *AuditHandler) HandleGetLog(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ValidateUUID(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid audit log ID", nil)
		return
	}

	log, err := h.audit.GetLog(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, log)
}

func parseAuditLogQuery(r *http.Request) (*AuditLogQuery, error) {
	values := r.URL.Query()
	query := &AuditLogQuery{
		Action: values.Get("action"),
		Route:  values.Get("route"),
	}

	var err error
	if query.Limit, err = intParam(values.Get("limit"), "limit"); err != nil {
		return nil, err
	}
	if query.Offset, err = intParam(values.Get("offset"), "offset"); err != nil {
		return nil, err
	}
	if query.Since, err = timeParam(values.Get("since"), "since"); err != nil {
		return nil, err
	}
	if query.Until, err = timeParam(values.Get("until"), "until"); err != nil {
		return nil, err
	}
	if query.Since != nil && query.Until != nil && query.Until.Before(*query.Since) {
		return nil, &utils.ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{"until": "until must not be before since"},
		}
	}
	return query, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &utils.ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{name: name + " must be an integer"},
		}
	}
	return n, nil
}

func timeParam(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &utils.ValidationError{
			Message: "Validation failed",
			Fields:  map[string]string{name: name + " must be an RFC 3339 timestamp"},
		}
	}
	return &t, nil
}
