package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	domainrepo "github.com/atlas-itam/atlas/domains/asset-tags/be/repo"
	"github.com/atlas-itam/atlas/platform/go/persistence"
	"github.com/atlas-itam/atlas/platform/go/requesttrace"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

// ValidationError captures input validation problems surfaced by the service.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain-level error sentinel values.
var (
	ErrNotFound = errors.New("asset tag settings not found")
	ErrConflict = errors.New("asset tag settings already exist")
	// ErrConfigurationMissing is returned by generation when no active settings row exists.
	ErrConfigurationMissing = errors.New("asset tag settings are not configured")
	// ErrCounterExhausted is returned when the next number would not fit in an int64.
	ErrCounterExhausted = errors.New("asset tag counter is exhausted")
	// ErrTransient is returned once the bounded retry of a contended counter update is exhausted.
	ErrTransient = errors.New("asset tag counter is temporarily unavailable")
)

const (
	// MaxReserve bounds the size of a single Reserve call.
	MaxReserve = 100

	defaultMaxAttempts = 5
)

// Settings is the asset tag counter register.
type Settings struct {
	ID            uuid.UUID
	Prefix        string
	DigitCount    int
	CurrentNumber int64
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateInput defines the payload required to configure the counter.
type CreateInput struct {
	Prefix        string `json:"prefix" validate:"notblank,max=10"`
	DigitCount    int    `json:"digitCount" validate:"min=1,max=10"`
	CurrentNumber int64  `json:"currentNumber" validate:"min=1"`
}

// UpdateInput defines the fields that can be modified; nil fields keep their stored value.
type UpdateInput struct {
	Prefix        *string `json:"prefix" validate:"omitnil,notblank,max=10"`
	DigitCount    *int    `json:"digitCount" validate:"omitnil,min=1,max=10"`
	CurrentNumber *int64  `json:"currentNumber" validate:"omitnil,min=1"`
}

// Service exposes the asset tag domain operations.
type Service interface {
	Get(ctx context.Context, audit requesttrace.AuditInfo) (Settings, error)
	Create(ctx context.Context, audit requesttrace.AuditInfo, input CreateInput) (Settings, error)
	Update(ctx context.Context, audit requesttrace.AuditInfo, id uuid.UUID, input UpdateInput) (Settings, error)
	// Next consumes one number and returns the formatted tag.
	Next(ctx context.Context, audit requesttrace.AuditInfo) (string, error)
	// Reserve consumes count consecutive numbers in one atomic step.
	Reserve(ctx context.Context, audit requesttrace.AuditInfo, count int) ([]string, error)
	// Preview returns the tag Next would issue without consuming it.
	Preview(ctx context.Context, audit requesttrace.AuditInfo) (string, error)
}

// Option customises the service.
type Option func(*service)

// WithRecorder reports generation metrics to r.
func WithRecorder(r Recorder) Option {
	return func(s *service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithBackOff replaces the retry schedule used for contended counter updates.
func WithBackOff(newBackOff func() backoff.BackOff, maxAttempts int) Option {
	return func(s *service) {
		if newBackOff != nil {
			s.newBackOff = newBackOff
		}
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
	}
}

type service struct {
	repo        domainrepo.Repository
	recorder    Recorder
	newBackOff  func() backoff.BackOff
	maxAttempts int
	now         func() time.Time
}

// New builds an asset tag Service backed by the provided repository.
func New(repo domainrepo.Repository, opts ...Option) Service {
	if repo == nil {
		panic("asset tags repo is required")
	}

	s := &service{
		repo:        repo,
		recorder:    noopRecorder{},
		newBackOff:  defaultBackOff,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return b
}

func (s *service) Get(ctx context.Context, _ requesttrace.AuditInfo) (Settings, error) {
	record, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Settings{}, ErrNotFound
		}
		return Settings{}, err
	}

	return mapSettings(record), nil
}

func (s *service) Create(ctx context.Context, _ requesttrace.AuditInfo, input CreateInput) (Settings, error) {
	if validationErr := validateInput(input); validationErr != nil {
		return Settings{}, validationErr
	}

	record, err := s.repo.Create(ctx, persistence.CreateAssetTagSettingsParams{
		ID:            uuid.New(),
		Prefix:        input.Prefix,
		DigitCount:    input.DigitCount,
		CurrentNumber: input.CurrentNumber,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return Settings{}, ErrConflict
		}
		return Settings{}, err
	}

	return mapSettings(record), nil
}

func (s *service) Update(ctx context.Context, _ requesttrace.AuditInfo, id uuid.UUID, input UpdateInput) (Settings, error) {
	if id == uuid.Nil {
		return Settings{}, ErrNotFound
	}

	if input.Prefix == nil && input.DigitCount == nil && input.CurrentNumber == nil {
		return Settings{}, &ValidationError{Fields: FieldErrors{"body": []string{"at least one field must be provided"}}}
	}

	if validationErr := validateInput(input); validationErr != nil {
		return Settings{}, validationErr
	}

	record, err := s.repo.Update(ctx, id, persistence.UpdateAssetTagSettingsParams{
		Prefix:        input.Prefix,
		DigitCount:    input.DigitCount,
		CurrentNumber: input.CurrentNumber,
	})
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Settings{}, ErrNotFound
		}
		return Settings{}, err
	}

	return mapSettings(record), nil
}

func (s *service) Next(ctx context.Context, _ requesttrace.AuditInfo) (string, error) {
	allocation, err := s.advance(ctx, 1)
	if err != nil {
		return "", err
	}

	return FormatTag(allocation.Prefix, allocation.DigitCount, allocation.First), nil
}

func (s *service) Reserve(ctx context.Context, _ requesttrace.AuditInfo, count int) ([]string, error) {
	if count < 1 || count > MaxReserve {
		return nil, &ValidationError{Fields: FieldErrors{"count": []string{fmt.Sprintf("count must be between 1 and %d", MaxReserve)}}}
	}

	allocation, err := s.advance(ctx, int64(count))
	if err != nil {
		return nil, err
	}

	tags := make([]string, 0, count)
	for i := int64(0); i < allocation.Count; i++ {
		tags = append(tags, FormatTag(allocation.Prefix, allocation.DigitCount, allocation.First+i))
	}
	return tags, nil
}

func (s *service) Preview(ctx context.Context, _ requesttrace.AuditInfo) (string, error) {
	record, err := s.repo.Peek(ctx)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return "", ErrConfigurationMissing
		}
		return "", err
	}

	return FormatTag(record.Prefix, record.DigitCount, record.CurrentNumber), nil
}

// advance consumes count numbers, retrying serialization and deadlock failures with
// exponential backoff. Each attempt is its own transaction, so a failed attempt never
// consumes a number.
func (s *service) advance(ctx context.Context, count int64) (persistence.AssetTagAllocation, error) {
	started := s.now()
	defer func() {
		s.recorder.ObserveGeneration(s.now().Sub(started))
	}()

	var allocation persistence.AssetTagAllocation
	operation := func() error {
		result, err := s.repo.Advance(ctx, count)
		if err != nil {
			if persistence.IsRetryable(err) {
				s.recorder.GenerationRetried()
				return err
			}
			return backoff.Permanent(err)
		}
		allocation = result
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxAttempts-1)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		switch {
		case errors.Is(err, persistence.ErrNotFound):
			s.recorder.GenerationFailed(FailureNotConfigured)
			return persistence.AssetTagAllocation{}, ErrConfigurationMissing
		case errors.Is(err, persistence.ErrCounterExhausted):
			s.recorder.GenerationFailed(FailureExhausted)
			return persistence.AssetTagAllocation{}, ErrCounterExhausted
		case persistence.IsRetryable(err):
			s.recorder.GenerationFailed(FailureContention)
			return persistence.AssetTagAllocation{}, fmt.Errorf("%w: %v", ErrTransient, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.recorder.GenerationFailed(FailureCancelled)
			return persistence.AssetTagAllocation{}, err
		default:
			s.recorder.GenerationFailed(FailureInternal)
			return persistence.AssetTagAllocation{}, fmt.Errorf("advance asset tag counter: %w", err)
		}
	}

	s.recorder.TagsIssued(int(allocation.Count))
	return allocation, nil
}

// FormatTag renders prefix followed by n zero-padded to at least digitCount digits.
// Numbers wider than digitCount are written in full.
func FormatTag(prefix string, digitCount int, n int64) string {
	return fmt.Sprintf("%s%0*d", prefix, digitCount, n)
}

func mapSettings(record persistence.AssetTagSettings) Settings {
	return Settings{
		ID:            record.ID,
		Prefix:        record.Prefix,
		DigitCount:    record.DigitCount,
		CurrentNumber: record.CurrentNumber,
		IsActive:      record.IsActive,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

func (f FieldErrors) add(field, message string) {
	if _, ok := f[field]; !ok {
		f[field] = []string{message}
		return
	}
	f[field] = append(f[field], message)
}
