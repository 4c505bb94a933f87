package guard

import (
	"context"
	"errors"
	"time"

	"github.com/upb/routeguard/internal/access"
	"github.com/upb/routeguard/internal/observability"
	"github.com/upb/routeguard/services"
	"github.com/upb/routeguard/services/audit"
	"go.uber.org/zap"
)

// unresolvedRoute labels metrics for routes that could not be resolved, so
// arbitrary client-supplied names do not become label values.
const unresolvedRoute = "unresolved"

// ResolverSource builds a resolver able to decide route
type ResolverSource interface {
	Resolver(ctx context.Context, route string) (*access.Resolver, error)
}

// Auditor records denied and misconfigured decisions
type Auditor interface {
	LogAccessDenied(ctx context.Context, p access.Principal, decision access.Decision) error
	LogMisconfigured(ctx context.Context, p access.Principal, route string, cause error) error
}

// DecisionRecorder observes decision outcomes
type DecisionRecorder interface {
	RecordDecision(route, outcome string, elapsed time.Duration)
}

// Service answers access checks for the HTTP layer
type Service struct {
	routes  ResolverSource
	auditor Auditor
	metrics DecisionRecorder
	logger  *zap.Logger
}

// NewService creates a guard service. auditor and metrics may be nil.
func NewService(routes ResolverSource, auditor Auditor, metrics DecisionRecorder, logger *zap.Logger) *Service {
	return &Service{
		routes:  routes,
		auditor: auditor,
		metrics: metrics,
		logger:  logger,
	}
}

// Check decides whether p may access route. With navigation set, the layouts
// wrapping route are checked as well.
//
// The decision is returned in every case where a rule was evaluated. A
// rejection is also returned as an unauthorized (logged out) or forbidden
// DomainError wrapping the *access.RejectedError; an unresolvable route is
// returned as a misconfigured DomainError. Rejections are audited.
func (s *Service) Check(ctx context.Context, p access.Principal, route string, navigation bool) (access.Decision, error) {
	return s.decide(ctx, p, route, navigation, true)
}

// Evaluate answers like Check for a principal described by the caller rather
// than one who is attempting access. Rejections are not audited.
func (s *Service) Evaluate(ctx context.Context, p access.Principal, route string, navigation bool) (access.Decision, error) {
	return s.decide(ctx, p, route, navigation, false)
}

func (s *Service) decide(ctx context.Context, p access.Principal, route string, navigation, auditRejection bool) (access.Decision, error) {
	start := time.Now()

	resolver, err := s.routes.Resolver(ctx, route)
	if err != nil {
		s.logger.Error("failed to load route for access check", zap.String("route", route), zap.Error(err))
		return access.Decision{Route: route, Target: route}, err
	}

	var decision access.Decision
	if navigation {
		decision, err = resolver.EvaluateNavigation(p, route)
	} else {
		decision, err = resolver.Evaluate(p, route)
	}

	if err != nil {
		s.record(unresolvedRoute, observability.OutcomeMisconfigured, start)
		s.logger.Error("route access is misconfigured",
			zap.String("route", route),
			zap.String("request_id", requestID(ctx)),
			zap.Error(err))
		if s.auditor != nil {
			if auditErr := s.auditor.LogMisconfigured(ctx, p, route, err); auditErr != nil {
				s.logger.Warn("failed to audit misconfigured route", zap.Error(auditErr))
			}
		}
		return decision, misconfiguredError(route, err)
	}

	if decision.Allowed {
		s.record(route, observability.OutcomeAllowed, start)
		return decision, nil
	}

	s.record(route, observability.OutcomeRejected, start)
	if !auditRejection {
		return decision, rejectedError(p, decision)
	}

	s.logger.Info("access rejected",
		zap.String("route", route),
		zap.String("target", decision.Target),
		zap.Bool("logged_in", p.LoggedIn),
		zap.Strings("roles", p.Roles),
		zap.String("request_id", requestID(ctx)))
	if s.auditor != nil {
		if auditErr := s.auditor.LogAccessDenied(ctx, p, decision); auditErr != nil {
			s.logger.Warn("failed to audit access rejection", zap.Error(auditErr))
		}
	}
	return decision, rejectedError(p, decision)
}

func (s *Service) record(route, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordDecision(route, outcome, time.Since(start))
	}
}

func rejectedError(p access.Principal, decision access.Decision) error {
	errType := services.ErrorTypeForbidden
	if !p.LoggedIn {
		errType = services.ErrorTypeUnauthorized
	}
	return services.NewDomainError(errType, decision.Reason, decision.Err()).
		WithDetail("route", decision.Route).
		WithDetail("target", decision.Target)
}

func misconfiguredError(route string, err error) error {
	domainErr := services.NewDomainError(services.ErrorTypeMisconfigured, services.ErrRouteMisconfigured.Message, err).
		WithDetail("route", route)
	var mis *access.MisconfiguredError
	if errors.As(err, &mis) {
		domainErr.WithDetail("reason", mis.Reason)
	}
	return domainErr
}

func requestID(ctx context.Context) string {
	return audit.RequestInfoFromContext(ctx).RequestID
}
