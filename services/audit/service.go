package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/routeguard/internal/access"
	"github.com/upb/routeguard/models"
	"github.com/upb/routeguard/repositories"
	"github.com/upb/routeguard/services"
	"go.uber.org/zap"
)

var (
	errNotStarted = errors.New("audit service not started")
	errStopped    = errors.New("audit service stopped")
	errBufferFull = errors.New("audit event buffer full")
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log *models.AuditLog
}

// AuditService handles asynchronous audit logging
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.RWMutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service
// Waits for all pending events to be processed
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errNotStarted
	}
	if s.stopped {
		s.mu.Unlock()
		return errStopped
	}
	s.stopped = true
	// Senders hold the read lock, so no send can race with close.
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent logs an event asynchronously (non-blocking)
// Returns immediately, event is processed in background
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.acceptingLocked(); err != nil {
		return err
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)),
			zap.String("route", event.Log.Route))
		return errBufferFull
	}
}

// LogEventBlocking logs an event synchronously (blocking)
// Waits until event is queued or context is cancelled
func (s *AuditService) LogEventBlocking(ctx context.Context, event *AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.acceptingLocked(); err != nil {
		return err
	}

	select {
	case s.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errStopped
	}
}

func (s *AuditService) acceptingLocked() error {
	if !s.started {
		return errNotStarted
	}
	if s.stopped {
		return errStopped
	}
	return nil
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Log.Action)),
				zap.String("route", event.Log.Route))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent processes a single audit event
func (s *AuditService) processEvent(event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int  `json:"buffer_size"`
	PendingEvents int  `json:"pending_events"`
	WorkerCount   int  `json:"worker_count"`
	Started       bool `json:"started"`
}

// Queries

// ListLogs returns audit entries matching filter, newest first
func (s *AuditService) ListLogs(ctx context.Context, filter repositories.AuditFilter) ([]*models.AuditLog, error) {
	logs, err := s.auditRepo.List(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to list audit logs", err)
	}
	return logs, nil
}

// GetLog returns a single audit entry
func (s *AuditService) GetLog(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	log, err := s.auditRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrAuditLogNotFound
		}
		return nil, services.WrapInternal("failed to get audit log", err)
	}
	return log, nil
}

// Convenience methods for logging access events

// LogAccessDenied records a rejected access decision
func (s *AuditService) LogAccessDenied(ctx context.Context, p access.Principal, decision access.Decision) error {
	log := models.NewAuditLog(models.AuditActionAccessDenied, decision.Route)
	if decision.Target != decision.Route {
		log.WithTarget(decision.Target)
	}
	log.WithReason(decision.Reason)
	log.WithDetails(map[string]interface{}{
		"rule":        decision.Rule.String(),
		"rule_source": decision.RuleSource,
	})

	return s.LogEvent(&AuditEvent{Log: withRequest(ctx, log, p)})
}

// LogMisconfigured records a route whose access rule could not be resolved
func (s *AuditService) LogMisconfigured(ctx context.Context, p access.Principal, route string, cause error) error {
	log := models.NewAuditLog(models.AuditActionAccessMisconfigured, route)
	log.WithReason(cause.Error())

	return s.LogEvent(&AuditEvent{Log: withRequest(ctx, log, p)})
}

// LogRouteChange records a stored route being created, replaced or deleted.
// It waits for buffer space instead of dropping the record.
func (s *AuditService) LogRouteChange(ctx context.Context, action models.AuditAction, def access.RouteDefinition) error {
	log := models.NewAuditLog(action, def.Name)
	if action != models.AuditActionRouteDeleted {
		log.WithDetails(def)
	}

	info := RequestInfoFromContext(ctx)
	log.WithPrincipal(info.Subject, info.Subject != "", info.Roles)
	log.WithRequest(info.RequestID, info.IPAddress, info.UserAgent)

	return s.LogEventBlocking(ctx, &AuditEvent{Log: log})
}

func withRequest(ctx context.Context, log *models.AuditLog, p access.Principal) *models.AuditLog {
	info := RequestInfoFromContext(ctx)
	log.WithPrincipal(info.Subject, p.LoggedIn, p.Roles)
	log.WithRequest(info.RequestID, info.IPAddress, info.UserAgent)
	return log
}
