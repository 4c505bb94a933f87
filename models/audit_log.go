package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionAccessDenied        AuditAction = "access_denied"
	AuditActionAccessMisconfigured AuditAction = "access_misconfigured"
	AuditActionRouteUpserted       AuditAction = "route_upserted"
	AuditActionRouteDeleted        AuditAction = "route_deleted"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Action    AuditAction     `json:"action" db:"action"`
	Route     string          `json:"route" db:"route"`
	Target    string          `json:"target,omitempty" db:"target"` // layout that failed, empty for the route itself
	Subject   *string         `json:"subject,omitempty" db:"subject"`
	LoggedIn  bool            `json:"logged_in" db:"logged_in"`
	Roles     []string        `json:"roles,omitempty" db:"roles"`
	Reason    string          `json:"reason,omitempty" db:"reason"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress string          `json:"ip_address" db:"ip_address"`
	UserAgent string          `json:"user_agent" db:"user_agent"`
	RequestID string          `json:"request_id" db:"request_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction, route string) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Route:     route,
		Timestamp: time.Now(),
	}
}

// WithTarget sets the route or layout the decision failed on
func (a *AuditLog) WithTarget(target string) *AuditLog {
	a.Target = target
	return a
}

// WithPrincipal sets the caller snapshot
func (a *AuditLog) WithPrincipal(subject string, loggedIn bool, roles []string) *AuditLog {
	if subject != "" {
		a.Subject = &subject
	}
	a.LoggedIn = loggedIn
	a.Roles = roles
	return a
}

// WithReason sets the rejection or misconfiguration message
func (a *AuditLog) WithReason(reason string) *AuditLog {
	a.Reason = reason
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}
