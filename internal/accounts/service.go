package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/14vimal2/polarix/internal/identity"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 200
)

var noOpLogger = zap.NewNop()

// PasswordHasher turns a plaintext secret into the stored local hash.
type PasswordHasher func(secret string) (string, error)

// BcryptHasher hashes secrets with bcrypt at the default cost.
func BcryptHasher(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ServiceConfig describes the collaborators of the account coordinator.
type ServiceConfig struct {
	Store           Store
	Directory       identity.Directory
	Journal         SagaJournal
	Publisher       EventPublisher
	Metrics         Metrics
	IDProvider      IDProvider
	Hasher          PasswordHasher
	Logger          *zap.Logger
	Clock           func() time.Time
	DefaultPageSize int
	MaxPageSize     int
}

// Service reconciles the identity store with the local store and coordinates
// account lifecycle operations across both. It keeps no per-call state and is
// safe for concurrent use.
type Service struct {
	store           Store
	directory       identity.Directory
	journal         SagaJournal
	publisher       EventPublisher
	metrics         Metrics
	idProvider      IDProvider
	hasher          PasswordHasher
	logger          *zap.Logger
	clock           func() time.Time
	defaultPageSize int
	maxPageSize     int
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", nil, errMissingStore)
	}
	if cfg.Directory == nil {
		return nil, newServiceError(opServiceNew, "missing_directory", nil, errMissingDirectory)
	}

	service := &Service{
		store:           cfg.Store,
		directory:       cfg.Directory,
		journal:         cfg.Journal,
		publisher:       cfg.Publisher,
		metrics:         cfg.Metrics,
		idProvider:      cfg.IDProvider,
		hasher:          cfg.Hasher,
		logger:          cfg.Logger,
		clock:           cfg.Clock,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
	}
	if service.publisher == nil {
		service.publisher = noopPublisher{}
	}
	if service.metrics == nil {
		service.metrics = noopMetrics{}
	}
	if service.idProvider == nil {
		service.idProvider = NewUUIDProvider()
	}
	if service.hasher == nil {
		service.hasher = BcryptHasher
	}
	if service.logger == nil {
		service.logger = noOpLogger
	}
	if service.clock == nil {
		service.clock = time.Now
	}
	if service.defaultPageSize <= 0 {
		service.defaultPageSize = DefaultPageSize
	}
	if service.maxPageSize <= 0 {
		service.maxPageSize = MaxPageSize
	}
	if service.defaultPageSize > service.maxPageSize {
		service.defaultPageSize = service.maxPageSize
	}
	return service, nil
}

// Outcome is the result of a lifecycle operation: the account as it stands
// afterwards and the per-store record of what was committed.
type Outcome struct {
	Account MergedAccount
	Saga    Saga
}

func (s *Service) beginSaga(operation string) Saga {
	// A saga without an id is still logged and counted but not journaled.
	id, _ := s.idProvider.NewID()
	return Saga{ID: id, Operation: operation, StartedAt: s.clock().UTC()}
}

// finishSaga journals, counts and logs the saga. Journal failures are logged
// and never surface to the caller.
func (s *Service) finishSaga(ctx context.Context, saga *Saga) {
	saga.FinishedAt = s.clock().UTC()
	outcome := saga.Outcome()
	s.metrics.ObserveSaga(saga.Operation, outcome)

	fields := []zap.Field{
		zap.String("saga_id", saga.ID),
		zap.String("operation", saga.Operation),
		zap.String("outcome", outcome),
		zap.String("local_id", saga.LocalID),
		zap.String("external_id", saga.ExternalID),
	}
	if outcome == OutcomePartial {
		for _, step := range saga.Steps {
			fields = append(fields, zap.String("step."+step.Name, string(step.Status)))
		}
		s.logger.Error("account saga left stores diverged", fields...)
	} else {
		s.logger.Debug("account saga finished", fields...)
	}

	if s.journal == nil || saga.ID == "" {
		return
	}
	if err := s.journal.Record(context.WithoutCancel(ctx), *saga); err != nil {
		s.logError(saga.Operation, "journal_failed", err, zap.String("saga_id", saga.ID))
	}
}

func (s *Service) publish(eventType, outcome string, accountIDs ...string) {
	s.publisher.Publish(Event{
		Type:       eventType,
		AccountIDs: accountIDs,
		Outcome:    outcome,
		OccurredAt: s.clock().UTC(),
	})
}

// identityError classifies an identity-store failure. A missing identity
// behind a linked account is reported with its external id.
func identityError(operation, reason, externalID string, err error) error {
	switch {
	case errors.Is(err, identity.ErrConflict):
		return newServiceError(operation, "identity_conflict", ErrConflict, err)
	case errors.Is(err, identity.ErrNotFound):
		return missingIdentityError(operation, externalID, err)
	default:
		return newServiceError(operation, reason, ErrExternalUnavailable, err)
	}
}

func missingIdentityError(operation, externalID string, cause error) error {
	if cause == nil {
		cause = identity.ErrNotFound
	}
	return newServiceError(operation, "identity_missing", ErrInvariantViolation,
		fmt.Errorf("external id %q: %w", externalID, cause))
}

// localError classifies a local-store failure.
func localError(operation, reason string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return newServiceError(operation, "not_found", ErrNotFound, err)
	case errors.Is(err, ErrConflict):
		return newServiceError(operation, "conflict", ErrConflict, err)
	default:
		return newServiceError(operation, reason, nil, err)
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("accounts service error", attrs...)
}
