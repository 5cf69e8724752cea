// Package service coordinates one unsubscribe attempt: reachability gate,
// contact lookup, suppression and the audit write.
//
// Process reports a rich Outcome. Callers facing the public must collapse it
// to the two-way contract (accepted or retry later); see Outcome.Public.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	"dncproxy/internal/actionlog/models"
	"dncproxy/internal/mautic"
	"dncproxy/internal/reachability"
	dErrors "dncproxy/pkg/domain-errors"
	"dncproxy/pkg/platform/sentinel"
	"dncproxy/pkg/requestcontext"
)

// Outcome is the internal result of Process.
type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeSuppressed
	OutcomeNotFound
	OutcomeFailed
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFailed:
		return "failed"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "invalid"
	}
}

// PublicOutcome is what a caller may learn about an attempt.
type PublicOutcome int

const (
	PublicAccepted PublicOutcome = iota
	PublicServiceUnavailable
)

// Public collapses the outcome. Only total upstream unavailability is
// distinguishable; every contact-specific branch reads as accepted.
func (o Outcome) Public() PublicOutcome {
	if o == OutcomeUnreachable {
		return PublicServiceUnavailable
	}
	return PublicAccepted
}

// Request is one unsubscribe attempt as delivered by the transport layer.
type Request struct {
	Email  string
	Origin string
	IP     string
}

// ValidateEmail trims the address and checks its syntax.
func ValidateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if !govalidator.StringLength(email, "1", "254") || !govalidator.IsEmail(email) {
		return "", dErrors.New(dErrors.CodeValidation, "invalid email address")
	}
	return email, nil
}

// Directory finds and suppresses contacts upstream.
type Directory interface {
	FindContact(ctx context.Context, email string) (mautic.ContactRef, error)
	Suppress(ctx context.Context, ref mautic.ContactRef) error
}

// Reachability gates upstream calls.
type Reachability interface {
	Check(ctx context.Context) reachability.State
}

// ActionStore persists audit records.
type ActionStore interface {
	Append(ctx context.Context, record *models.ActionRecord) (int64, error)
}

const (
	defaultUpstreamTimeout = 45 * time.Second
	defaultAppendTimeout   = 10 * time.Second
)

// Service is the unsubscribe orchestrator.
type Service struct {
	directory       Directory
	reachability    Reachability
	actions         ActionStore
	logger          *slog.Logger
	metrics         *Metrics
	upstreamTimeout time.Duration
	appendTimeout   time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithUpstreamTimeout bounds lookup plus suppression for one attempt.
func WithUpstreamTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.upstreamTimeout = d
		}
	}
}

func WithAppendTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.appendTimeout = d
		}
	}
}

func New(directory Directory, reach Reachability, actions ActionStore, opts ...Option) (*Service, error) {
	if directory == nil {
		return nil, errors.New("directory is required")
	}
	if reach == nil {
		return nil, errors.New("reachability cache is required")
	}
	if actions == nil {
		return nil, errors.New("action store is required")
	}
	s := &Service{
		directory:       directory,
		reachability:    reach,
		actions:         actions,
		logger:          slog.Default(),
		upstreamTimeout: defaultUpstreamTimeout,
		appendTimeout:   defaultAppendTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Process runs one attempt and writes exactly one audit record for every
// valid email. The upstream calls and the append are detached from ctx
// cancellation: a caller hanging up does not abort a suppression half way.
//
// Errors are a validation error (nothing audited) or an internal error when
// the audit record could not be persisted.
func (s *Service) Process(ctx context.Context, req Request) (Outcome, error) {
	email, err := ValidateEmail(req.Email)
	if err != nil {
		s.metrics.ObserveOutcome(OutcomeInvalid)
		return OutcomeInvalid, err
	}

	work := context.WithoutCancel(ctx)
	record := &models.ActionRecord{
		Timestamp:    requestcontext.Now(ctx).UTC(),
		Email:        email,
		SourceOrigin: req.Origin,
		SourceIP:     req.IP,
	}

	outcome := s.attempt(work, email, record)

	if err := s.persist(work, record); err != nil {
		return outcome, err
	}
	s.metrics.ObserveOutcome(outcome)
	return outcome, nil
}

// attempt fills record with the upstream result. Every failure after the
// reachability gate is audited as error, including a panic in a dependency.
func (s *Service) attempt(ctx context.Context, email string, record *models.ActionRecord) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			record.ContactID = nil
			s.logger.ErrorContext(ctx, "panic during unsubscribe attempt",
				"request_id", requestcontext.RequestID(ctx),
				"stack", string(debug.Stack()),
			)
			outcome = s.failed(ctx, record, "unexpected failure", fmt.Errorf("panic: %v", rec))
		}
	}()

	state := s.reachability.Check(ctx)
	if !state.Reachable() {
		record.Result = models.ResultMauticUnreachable
		s.logger.WarnContext(ctx, "unsubscribe blocked, mautic unreachable",
			"request_id", requestcontext.RequestID(ctx),
			"mautic", state.Label(),
		)
		return OutcomeUnreachable
	}

	ctx, cancel := context.WithTimeout(ctx, s.upstreamTimeout)
	defer cancel()

	ref, err := s.directory.FindContact(ctx, email)
	if errors.Is(err, sentinel.ErrNotFound) {
		record.Result = models.ResultNotFound
		s.logger.InfoContext(ctx, "no mautic contact for email",
			"request_id", requestcontext.RequestID(ctx),
			"email", email,
		)
		return OutcomeNotFound
	}
	if err != nil {
		return s.failed(ctx, record, "contact lookup failed", err)
	}

	if err := s.directory.Suppress(ctx, ref); err != nil {
		return s.failed(ctx, record, "dnc add failed", err)
	}

	record.Result = models.ResultOK
	contactID := ref.ID
	record.ContactID = &contactID
	s.logger.InfoContext(ctx, "contact added to dnc",
		"request_id", requestcontext.RequestID(ctx),
		"contact_id", ref.ID,
	)
	return OutcomeSuppressed
}

func (s *Service) failed(ctx context.Context, record *models.ActionRecord, msg string, err error) Outcome {
	detail := err.Error()
	record.Result = models.ResultError
	record.ErrorDetail = &detail
	s.logger.WarnContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	return OutcomeFailed
}

func (s *Service) persist(ctx context.Context, record *models.ActionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.appendTimeout)
	defer cancel()

	start := time.Now()
	id, err := s.actions.Append(ctx, record)
	s.metrics.ObserveAppend(time.Since(start), err)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record unsubscribe action",
			"request_id", requestcontext.RequestID(ctx),
			"result", string(record.Result),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record action")
	}
	record.ID = id
	return nil
}
