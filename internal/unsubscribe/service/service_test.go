package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"dncproxy/internal/actionlog/models"
	"dncproxy/internal/actionlog/store"
	"dncproxy/internal/mautic"
	"dncproxy/internal/reachability"
	"dncproxy/internal/unsubscribe/service/mocks"
	dErrors "dncproxy/pkg/domain-errors"
	"dncproxy/pkg/platform/sentinel"
	"dncproxy/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

var (
	fixedNow  = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	reachable = reachability.State{Status: reachability.StatusReachable, LastChecked: fixedNow}
)

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	directory *mocks.MockDirectory
	reach     *mocks.MockReachability
	actions   *mocks.MockActionStore
	metrics   *Metrics
	service   *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.directory = mocks.NewMockDirectory(ctrl)
	s.reach = mocks.NewMockReachability(ctrl)
	s.actions = mocks.NewMockActionStore(ctrl)
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.ctx = requestcontext.WithTime(requestcontext.WithRequestID(context.Background(), "req-1"), fixedNow)

	svc, err := New(s.directory, s.reach, s.actions,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ServiceSuite) request(email string) Request {
	return Request{Email: email, Origin: "https://simplify-erp.de", IP: "203.0.113.7"}
}

// expectAppend captures the appended record.
func (s *ServiceSuite) expectAppend() *models.ActionRecord {
	captured := &models.ActionRecord{}
	s.actions.EXPECT().Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r *models.ActionRecord) (int64, error) {
			*captured = *r
			return 42, nil
		})
	return captured
}

func (s *ServiceSuite) TestNewRequiresDependencies() {
	_, err := New(nil, s.reach, s.actions)
	s.Require().Error(err)
	_, err = New(s.directory, nil, s.actions)
	s.Require().Error(err)
	_, err = New(s.directory, s.reach, nil)
	s.Require().Error(err)
}

func (s *ServiceSuite) TestInvalidEmailTouchesNothing() {
	for _, email := range []string{"", "   ", "not-an-email", "a@", "@example.com"} {
		s.Run(fmt.Sprintf("%q", email), func() {
			outcome, err := s.service.Process(s.ctx, s.request(email))
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
			s.Equal(OutcomeInvalid, outcome)
		})
	}
	s.Equal(5.0, testutil.ToFloat64(s.metrics.Outcomes.WithLabelValues("invalid")))
}

func (s *ServiceSuite) TestUnreachableIsAuditedAndUnavailable() {
	s.reach.EXPECT().Check(gomock.Any()).Return(reachability.State{
		Status: reachability.StatusUnreachable,
		Detail: "connection error: timeout",
	})
	record := s.expectAppend()

	outcome, err := s.service.Process(s.ctx, s.request("alice@example.com"))
	s.Require().NoError(err)
	s.Equal(OutcomeUnreachable, outcome)
	s.Equal(PublicServiceUnavailable, outcome.Public())

	s.Equal(models.ResultMauticUnreachable, record.Result)
	s.Nil(record.ContactID)
	s.Nil(record.ErrorDetail)
	s.Equal("alice@example.com", record.Email)
	s.Equal("https://simplify-erp.de", record.SourceOrigin)
	s.Equal("203.0.113.7", record.SourceIP)
	s.Equal(fixedNow, record.Timestamp)
}

func (s *ServiceSuite) TestNotFound() {
	s.reach.EXPECT().Check(gomock.Any()).Return(reachable)
	s.directory.EXPECT().FindContact(gomock.Any(), "a@example.com").
		Return(mautic.ContactRef{}, fmt.Errorf("contact lookup: %w", sentinel.ErrNotFound))
	record := s.expectAppend()

	outcome, err := s.service.Process(s.ctx, s.request(" a@example.com "))
	s.Require().NoError(err)
	s.Equal(OutcomeNotFound, outcome)
	s.Equal(PublicAccepted, outcome.Public())
	s.Equal(models.ResultNotFound, record.Result)
	s.Nil(record.ContactID)
	s.Equal("a@example.com", record.Email)
}

func (s *ServiceSuite) TestPanickingDependencyIsAuditedAsError() {
	s.Run("contact lookup", func() {
		s.reach.EXPECT().Check(gomock.Any()).Return(reachable)
		s.directory.EXPECT().FindContact(gomock.Any(), "a@example.com").
			DoAndReturn(func(context.Context, string) (mautic.ContactRef, error) {
				panic("nil map write")
			})
		record := s.expectAppend()

		outcome, err := s.service.Process(s.ctx, s.request("a@example.com"))
		s.Require().NoError(err)
		s.Equal(OutcomeFailed, outcome)
		s.Equal(PublicAccepted, outcome.Public())
		s.Equal(models.ResultError, record.Result)
		s.Nil(record.ContactID)
		s.Require().NotNil(record.ErrorDetail)
		s.Equal("panic: nil map write", *record.ErrorDetail)
	})

	s.Run("reachability check", func() {
		s.reach.EXPECT().Check(gomock.Any()).DoAndReturn(func(context.Context) reachability.State {
			panic(errors.New("probe exploded"))
		})
		record := s.expectAppend()

		outcome, err := s.service.Process(s.ctx, s.request("a@example.com"))
		s.Require().NoError(err)
		s.Equal(OutcomeFailed, outcome)
		s.Equal(models.ResultError, record.Result)
		s.Equal("panic: probe exploded", *record.ErrorDetail)
	})
	s.Equal(2.0, testutil.ToFloat64(s.metrics.Outcomes.WithLabelValues("failed")))
}

func (s *ServiceSuite) TestSuppressed() {
	ref := mautic.ContactRef{ID: "17"}
	s.reach.EXPECT().Check(gomock.Any()).Return(reachable)
	s.directory.EXPECT().FindContact(gomock.Any(), "bob@example.com").Return(ref, nil)
	s.directory.EXPECT().Suppress(gomock.Any(), ref).Return(nil)
	record := s.expectAppend()

	outcome, err := s.service.Process(s.ctx, s.request("bob@example.com"))
	s.Require().NoError(err)
	s.Equal(OutcomeSuppressed, outcome)
	s.Equal(PublicAccepted, outcome.Public())
	s.Equal(models.ResultOK, record.Result)
	s.Require().NotNil(record.ContactID)
	s.Equal("17", *record.ContactID)
	s.Nil(record.ErrorDetail)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Outcomes.WithLabelValues("suppressed")))
}

func (s *ServiceSuite) TestUpstreamFailuresAreAuditedAsError() {
	s.Run("suppress rejected", func() {
		ref := mautic.ContactRef{ID: "17"}
		s.reach.EXPECT().Check(gomock.Any()).Return(reachable)
		s.directory.EXPECT().FindContact(gomock.Any(), gomock.Any()).Return(ref, nil)
		s.directory.EXPECT().Suppress(gomock.Any(), ref).
			Return(&mautic.SuppressionError{StatusCode: 200, Errors: `[{"message":"locked"}]`})
		record := s.expectAppend()

		outcome, err := s.service.Process(s.ctx, s.request("carol@example.com"))
		s.Require().NoError(err)
		s.Equal(OutcomeFailed, outcome)
		s.Equal(PublicAccepted, outcome.Public())
		s.Equal(models.ResultError, record.Result)
		s.Require().NotNil(record.ErrorDetail)
		s.Equal(`HTTP 200: [{"message":"locked"}]`, *record.ErrorDetail)
		s.Nil(record.ContactID)
	})

	s.Run("lookup breaks after reachable check", func() {
		s.reach.EXPECT().Check(gomock.Any()).Return(reachable)
		s.directory.EXPECT().FindContact(gomock.Any(), gomock.Any()).
			Return(mautic.ContactRef{}, &mautic.StatusError{StatusCode: 500})
		record := s.expectAppend()

		outcome, err := s.service.Process(s.ctx, s.request("dave@example.com"))
		s.Require().NoError(err)
		s.Equal(OutcomeFailed, outcome)
		s.Equal(models.ResultError, record.Result)
		s.Require().NotNil(record.ErrorDetail)
		s.Equal("HTTP 500", *record.ErrorDetail)
	})
}

func (s *ServiceSuite) TestPersistenceFailureIsInternal() {
	s.reach.EXPECT().Check(gomock.Any()).Return(reachable)
	s.directory.EXPECT().FindContact(gomock.Any(), gomock.Any()).
		Return(mautic.ContactRef{}, sentinel.ErrNotFound)
	s.actions.EXPECT().Append(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("disk full"))

	_, err := s.service.Process(s.ctx, s.request("erin@example.com"))
	s.Require().Error(err)
	s.Equal(dErrors.CodeInternal, dErrors.CodeOf(err))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AppendFailures))
}

func (s *ServiceSuite) TestCallerCancellationDoesNotAbortAttempt() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	ref := mautic.ContactRef{ID: "5"}
	s.reach.EXPECT().Check(gomock.Any()).DoAndReturn(func(ctx context.Context) reachability.State {
		s.NoError(ctx.Err())
		return reachable
	})
	s.directory.EXPECT().FindContact(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string) (mautic.ContactRef, error) {
			s.NoError(ctx.Err())
			_, hasDeadline := ctx.Deadline()
			s.True(hasDeadline)
			return ref, nil
		})
	s.directory.EXPECT().Suppress(gomock.Any(), ref).
		DoAndReturn(func(ctx context.Context, _ mautic.ContactRef) error {
			s.NoError(ctx.Err())
			return nil
		})
	s.actions.EXPECT().Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ *models.ActionRecord) (int64, error) {
			s.NoError(ctx.Err())
			s.Equal("req-1", requestcontext.RequestID(ctx))
			return 1, nil
		})

	outcome, err := s.service.Process(ctx, s.request("frank@example.com"))
	s.Require().NoError(err)
	s.Equal(OutcomeSuppressed, outcome)
}

type countingProber struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (p *countingProber) Ping(ctx context.Context) error {
	p.calls.Add(1)
	<-p.gate
	return nil
}

type notFoundDirectory struct{}

func (notFoundDirectory) FindContact(context.Context, string) (mautic.ContactRef, error) {
	return mautic.ContactRef{}, sentinel.ErrNotFound
}

func (notFoundDirectory) Suppress(context.Context, mautic.ContactRef) error {
	return errors.New("unexpected")
}

func TestConcurrentAttemptsShareOneProbe(t *testing.T) {
	prober := &countingProber{gate: make(chan struct{})}
	cache, err := reachability.New(prober, 30*time.Second)
	require.NoError(t, err)
	actions := store.NewInMemoryStore()
	svc, err := New(notFoundDirectory{}, cache, actions, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	const callers = 25
	var wg sync.WaitGroup
	outcomes := make([]Outcome, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], _ = svc.Process(context.Background(), Request{Email: fmt.Sprintf("user%d@example.com", i)})
		}()
	}
	require.Eventually(t, func() bool { return prober.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(prober.gate)
	wg.Wait()

	assert.Equal(t, int32(1), prober.calls.Load())
	for _, o := range outcomes {
		assert.Equal(t, OutcomeNotFound, o)
	}
	_, total, err := actions.Query(context.Background(), models.Filter{Result: models.ResultNotFound}, models.Page{Limit: 1, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, callers, total)
}
