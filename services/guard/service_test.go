package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/routeguard/internal/access"
	"github.com/upb/routeguard/internal/observability"
	"github.com/upb/routeguard/services"
	"github.com/upb/routeguard/services/audit"
)

type staticSource struct {
	registry *access.Registry
	err      error
}

func (s staticSource) Resolver(ctx context.Context, route string) (*access.Resolver, error) {
	if s.err != nil {
		return nil, s.err
	}
	return access.NewResolver(s.registry), nil
}

// MockAuditor is a mock implementation of Auditor
type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) LogAccessDenied(ctx context.Context, p access.Principal, decision access.Decision) error {
	args := m.Called(ctx, p, decision)
	return args.Error(0)
}

func (m *MockAuditor) LogMisconfigured(ctx context.Context, p access.Principal, route string, cause error) error {
	args := m.Called(ctx, p, route, cause)
	return args.Error(0)
}

// MockRecorder is a mock implementation of DecisionRecorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordDecision(route, outcome string, elapsed time.Duration) {
	m.Called(route, outcome, elapsed)
}

func ruleRef(r access.Rule) *access.Rule {
	return &r
}

func testSource() staticSource {
	return staticSource{registry: access.MustRegistry(
		access.RouteDefinition{Name: "PublicRoute", Rule: ruleRef(access.AllowAll())},
		access.RouteDefinition{Name: "AdminRoute", Rule: ruleRef(access.AllowRoles("admin"))},
		access.RouteDefinition{Name: "Dashboard", Rule: ruleRef(access.AllowAllUsers()), Layouts: []string{"AdminRoute"}},
		access.RouteDefinition{Name: "Orphan"},
	)}
}

func TestService_CheckAllowed(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("RecordDecision", "PublicRoute", observability.OutcomeAllowed, mock.Anything).Once()
	auditor := new(MockAuditor)

	svc := NewService(testSource(), auditor, recorder, zaptest.NewLogger(t))

	decision, err := svc.Check(context.Background(), access.Anonymous(), "PublicRoute", false)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "PublicRoute", decision.RuleSource)

	recorder.AssertExpectations(t)
	auditor.AssertNotCalled(t, "LogAccessDenied", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_CheckRejected(t *testing.T) {
	tests := []struct {
		name       string
		principal  access.Principal
		wantReason string
		wantType   services.ErrorType
	}{
		{
			name:       "logged out is unauthorized",
			principal:  access.Anonymous(),
			wantReason: "Route AdminRoute: Cannot access AdminRoute, you're not logged in",
			wantType:   services.ErrorTypeUnauthorized,
		},
		{
			name:       "missing role is forbidden",
			principal:  access.User("user"),
			wantReason: "Route AdminRoute: Can not access AdminRoute, you are not admin",
			wantType:   services.ErrorTypeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := audit.WithRequestInfo(context.Background(), audit.RequestInfo{RequestID: "req-1"})
			recorder := new(MockRecorder)
			recorder.On("RecordDecision", "AdminRoute", observability.OutcomeRejected, mock.Anything).Once()
			auditor := new(MockAuditor)
			auditor.On("LogAccessDenied", ctx, tt.principal, mock.MatchedBy(func(d access.Decision) bool {
				return d.Reason == tt.wantReason
			})).Return(nil).Once()

			svc := NewService(testSource(), auditor, recorder, zaptest.NewLogger(t))

			decision, err := svc.Check(ctx, tt.principal, "AdminRoute", false)
			require.Error(t, err)
			assert.False(t, decision.Allowed)
			assert.Equal(t, tt.wantReason, decision.Reason)

			assert.Equal(t, tt.wantType, services.GetErrorType(err))
			assert.True(t, access.IsRejected(err))
			rejected, ok := access.AsRejected(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantReason, rejected.Error())
			assert.Equal(t, "AdminRoute", services.GetErrorDetails(err)["route"])

			recorder.AssertExpectations(t)
			auditor.AssertExpectations(t)
		})
	}
}

func TestService_EvaluateDoesNotAudit(t *testing.T) {
	ctx := context.Background()

	t.Run("rejection is returned but not audited", func(t *testing.T) {
		recorder := new(MockRecorder)
		recorder.On("RecordDecision", "AdminRoute", observability.OutcomeRejected, mock.Anything).Once()
		auditor := new(MockAuditor)

		svc := NewService(testSource(), auditor, recorder, zaptest.NewLogger(t))

		decision, err := svc.Evaluate(ctx, access.Anonymous(), "AdminRoute", false)
		require.Error(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, services.ErrorTypeUnauthorized, services.GetErrorType(err))
		assert.Equal(t, "Route AdminRoute: Cannot access AdminRoute, you're not logged in", decision.Reason)

		recorder.AssertExpectations(t)
		auditor.AssertNotCalled(t, "LogAccessDenied", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("navigation checks layouts", func(t *testing.T) {
		svc := NewService(testSource(), new(MockAuditor), nil, zaptest.NewLogger(t))

		decision, err := svc.Evaluate(ctx, access.User("user"), "Dashboard", true)
		require.Error(t, err)
		assert.Equal(t, "AdminRoute", decision.Target)
		assert.Equal(t, services.ErrorTypeForbidden, services.GetErrorType(err))
	})

	t.Run("misconfigured route is still audited", func(t *testing.T) {
		auditor := new(MockAuditor)
		auditor.On("LogMisconfigured", ctx, access.User("admin"), "Orphan", mock.Anything).Return(nil).Once()

		svc := NewService(testSource(), auditor, nil, zaptest.NewLogger(t))

		_, err := svc.Evaluate(ctx, access.User("admin"), "Orphan", false)
		assert.True(t, services.IsMisconfiguredError(err))
		auditor.AssertExpectations(t)
	})
}

func TestService_CheckNavigation(t *testing.T) {
	svc := NewService(testSource(), nil, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	decision, err := svc.Check(ctx, access.User("user"), "Dashboard", false)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = svc.Check(ctx, access.User("user"), "Dashboard", true)
	require.Error(t, err)
	assert.True(t, services.IsForbiddenError(err))
	assert.Equal(t, "AdminRoute", decision.Target)
	assert.Equal(t, "Route Dashboard: Can not access AdminRoute, you are not admin", decision.Reason)
	assert.Equal(t, "AdminRoute", services.GetErrorDetails(err)["target"])
}

func TestService_CheckMisconfigured(t *testing.T) {
	tests := []struct {
		name  string
		route string
	}{
		{"no rule in ancestry", "Orphan"},
		{"unknown route", "Ghost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := new(MockRecorder)
			recorder.On("RecordDecision", unresolvedRoute, observability.OutcomeMisconfigured, mock.Anything).Once()
			auditor := new(MockAuditor)
			auditor.On("LogMisconfigured", mock.Anything, access.Anonymous(), tt.route, mock.Anything).
				Return(errors.New("audit event buffer full"))

			svc := NewService(testSource(), auditor, recorder, zaptest.NewLogger(t))

			_, err := svc.Check(context.Background(), access.Anonymous(), tt.route, false)
			require.Error(t, err)
			assert.True(t, services.IsMisconfiguredError(err))
			assert.True(t, access.IsMisconfigured(err))
			assert.False(t, access.IsRejected(err))
			assert.Equal(t, tt.route, services.GetErrorDetails(err)["route"])
			assert.NotEmpty(t, services.GetErrorDetails(err)["reason"])

			recorder.AssertExpectations(t)
			auditor.AssertExpectations(t)
		})
	}
}

func TestService_CheckStorageFailure(t *testing.T) {
	boom := services.WrapInternal("failed to load route", errors.New("connection refused"))
	svc := NewService(staticSource{err: boom}, nil, nil, zaptest.NewLogger(t))

	_, err := svc.Check(context.Background(), access.User("admin"), "AdminRoute", false)
	assert.True(t, services.IsInternalError(err))
}

func TestService_CheckWithPrometheus(t *testing.T) {
	metrics := observability.NewMetrics()
	svc := NewService(testSource(), nil, metrics, zaptest.NewLogger(t))

	_, err := svc.Check(context.Background(), access.User("admin"), "AdminRoute", false)
	require.NoError(t, err)
}
