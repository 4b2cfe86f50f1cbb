package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	domainrepo "github.com/atlas-itam/atlas/domains/asset-tags/be/repo"
	"github.com/atlas-itam/atlas/platform/go/persistence"
	"github.com/atlas-itam/atlas/platform/go/requesttrace"
)

type mockRepo struct {
	getFn     func(ctx context.Context) (persistence.AssetTagSettings, error)
	createFn  func(ctx context.Context, params persistence.CreateAssetTagSettingsParams) (persistence.AssetTagSettings, error)
	updateFn  func(ctx context.Context, id uuid.UUID, params persistence.UpdateAssetTagSettingsParams) (persistence.AssetTagSettings, error)
	advanceFn func(ctx context.Context, count int64) (persistence.AssetTagAllocation, error)
	peekFn    func(ctx context.Context) (persistence.AssetTagSettings, error)
}

func (m *mockRepo) Get(ctx context.Context) (persistence.AssetTagSettings, error) {
	if m.getFn == nil {
		panic("getFn not configured")
	}
	return m.getFn(ctx)
}

func (m *mockRepo) Create(ctx context.Context, params persistence.CreateAssetTagSettingsParams) (persistence.AssetTagSettings, error) {
	if m.createFn == nil {
		panic("createFn not configured")
	}
	return m.createFn(ctx, params)
}

func (m *mockRepo) Update(ctx context.Context, id uuid.UUID, params persistence.UpdateAssetTagSettingsParams) (persistence.AssetTagSettings, error) {
	if m.updateFn == nil {
		panic("updateFn not configured")
	}
	return m.updateFn(ctx, id, params)
}

func (m *mockRepo) Advance(ctx context.Context, count int64) (persistence.AssetTagAllocation, error) {
	if m.advanceFn == nil {
		panic("advanceFn not configured")
	}
	return m.advanceFn(ctx, count)
}

func (m *mockRepo) Peek(ctx context.Context) (persistence.AssetTagSettings, error) {
	if m.peekFn == nil {
		panic("peekFn not configured")
	}
	return m.peekFn(ctx)
}

type countingRecorder struct {
	mu       sync.Mutex
	issued   int
	retries  int
	failures []string
}

func (r *countingRecorder) TagsIssued(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued += count
}

func (r *countingRecorder) GenerationRetried() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

func (r *countingRecorder) GenerationFailed(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reason)
}

func (r *countingRecorder) ObserveGeneration(time.Duration) {}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func configured(t *testing.T, svc Service, prefix string, digits int, current int64) Settings {
	t.Helper()

	settings, err := svc.Create(context.Background(), requesttrace.System(""), CreateInput{
		Prefix:        prefix,
		DigitCount:    digits,
		CurrentNumber: current,
	})
	require.NoError(t, err)
	return settings
}

func TestFormatTag(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		prefix string
		digits int
		n      int64
		want   string
	}{
		{prefix: "DEV-", digits: 4, n: 7, want: "DEV-0007"},
		{prefix: "DEV-", digits: 4, n: 10234, want: "DEV-10234"},
		{prefix: "AT", digits: 1, n: 9, want: "AT9"},
		{prefix: "LAP-", digits: 10, n: 42, want: "LAP-0000000042"},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.want, FormatTag(tc.prefix, tc.digits, tc.n))
	}
}

func TestNextFormatsAndAdvances(t *testing.T) {
	t.Parallel()

	repo := domainrepo.NewMemoryRepository()
	svc := New(repo)
	audit := requesttrace.Anonymous("")
	configured(t, svc, "DEV-", 4, 7)

	tag, err := svc.Next(context.Background(), audit)
	require.NoError(t, err)
	require.Equal(t, "DEV-0007", tag)

	tag, err = svc.Next(context.Background(), audit)
	require.NoError(t, err)
	require.Equal(t, "DEV-0008", tag)

	settings, err := svc.Get(context.Background(), audit)
	require.NoError(t, err)
	require.Equal(t, int64(9), settings.CurrentNumber)
}

func TestNextDoesNotTruncateWideNumbers(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())
	configured(t, svc, "DEV-", 4, 10234)

	tag, err := svc.Next(context.Background(), requesttrace.Anonymous(""))
	require.NoError(t, err)
	require.Equal(t, "DEV-10234", tag)
}

func TestNextConcurrentCallsAreUniqueAndContiguous(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())
	configured(t, svc, "AT-", 6, 1)

	const callers = 250
	tags := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			tags[i], errs[i] = svc.Next(context.Background(), requesttrace.Anonymous(""))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, callers)
	for i := range tags {
		require.NoError(t, errs[i])
		_, dup := seen[tags[i]]
		require.False(t, dup, "duplicate tag %s", tags[i])
		seen[tags[i]] = struct{}{}
	}

	for n := int64(1); n <= callers; n++ {
		_, ok := seen[FormatTag("AT-", 6, n)]
		require.True(t, ok, "missing tag for %d", n)
	}
}

func TestNextIsMonotonicForSequentialCallers(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())
	configured(t, svc, "M", 3, 95)

	var previous []string
	for i := 0; i < 10; i++ {
		tag, err := svc.Next(context.Background(), requesttrace.Anonymous(""))
		require.NoError(t, err)
		previous = append(previous, tag)
	}

	require.Equal(t, []string{"M095", "M096", "M097", "M098", "M099", "M100", "M101", "M102", "M103", "M104"}, previous)
}

func TestNextWithoutConfiguration(t *testing.T) {
	t.Parallel()

	repo := domainrepo.NewMemoryRepository()
	recorder := &countingRecorder{}
	svc := New(repo, WithRecorder(recorder))

	_, err := svc.Next(context.Background(), requesttrace.Anonymous(""))
	require.ErrorIs(t, err, ErrConfigurationMissing)

	_, err = svc.Preview(context.Background(), requesttrace.Anonymous(""))
	require.ErrorIs(t, err, ErrConfigurationMissing)

	_, err = repo.Get(context.Background())
	require.ErrorIs(t, err, persistence.ErrNotFound)
	require.Equal(t, []string{FailureNotConfigured}, recorder.failures)
}

func TestNextRetriesSerializationFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	repo := &mockRepo{
		advanceFn: func(ctx context.Context, count int64) (persistence.AssetTagAllocation, error) {
			attempts++
			if attempts < 3 {
				return persistence.AssetTagAllocation{}, &pgconn.PgError{Code: "40001"}
			}
			return persistence.AssetTagAllocation{Prefix: "DEV-", DigitCount: 4, First: 12, Count: count}, nil
		},
	}
	recorder := &countingRecorder{}
	svc := New(repo, WithRecorder(recorder), WithBackOff(zeroBackOff, 5))

	tag, err := svc.Next(context.Background(), requesttrace.Anonymous(""))
	require.NoError(t, err)
	require.Equal(t, "DEV-0012", tag)
	require.Equal(t, 3, attempts)
	require.Equal(t, 2, recorder.retries)
	require.Equal(t, 1, recorder.issued)
}

func TestNextGivesUpAfterBoundedRetries(t *testing.T) {
	t.Parallel()

	attempts := 0
	repo := &mockRepo{
		advanceFn: func(ctx context.Context, count int64) (persistence.AssetTagAllocation, error) {
			attempts++
			return persistence.AssetTagAllocation{}, &pgconn.PgError{Code: "40P01"}
		},
	}
	recorder := &countingRecorder{}
	svc := New(repo, WithRecorder(recorder), WithBackOff(zeroBackOff, 5))

	_, err := svc.Next(context.Background(), requesttrace.Anonymous(""))
	require.ErrorIs(t, err, ErrTransient)
	require.Equal(t, 5, attempts)
	require.Equal(t, []string{FailureContention}, recorder.failures)
}

func TestNextStopsAtInt64Limit(t *testing.T) {
	t.Parallel()

	repo := domainrepo.NewMemoryRepository()
	recorder := &countingRecorder{}
	svc := New(repo, WithRecorder(recorder))
	audit := requesttrace.Anonymous("")

	_, err := svc.Create(context.Background(), audit, CreateInput{Prefix: "DEV-", DigitCount: 4, CurrentNumber: math.MaxInt64 - 1})
	require.NoError(t, err)

	tag, err := svc.Next(context.Background(), audit)
	require.NoError(t, err)
	require.Equal(t, "DEV-9223372036854775806", tag)

	_, err = svc.Next(context.Background(), audit)
	require.ErrorIs(t, err, ErrCounterExhausted)

	_, err = svc.Reserve(context.Background(), audit, 3)
	require.ErrorIs(t, err, ErrCounterExhausted)

	settings, err := svc.Get(context.Background(), audit)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), settings.CurrentNumber)
	require.Equal(t, []string{FailureExhausted, FailureExhausted}, recorder.failures)
}

func TestNextDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	attempts := 0
	repo := &mockRepo{
		advanceFn: func(ctx context.Context, count int64) (persistence.AssetTagAllocation, error) {
			attempts++
			return persistence.AssetTagAllocation{}, boom
		},
	}
	svc := New(repo, WithBackOff(zeroBackOff, 5))

	_, err := svc.Next(context.Background(), requesttrace.Anonymous(""))
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrTransient)
	require.Equal(t, 1, attempts)
}

func TestNextCancelledContextConsumesNothing(t *testing.T) {
	t.Parallel()

	repo := domainrepo.NewMemoryRepository()
	svc := New(repo)
	configured(t, svc, "DEV-", 4, 7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Next(ctx, requesttrace.Anonymous(""))
	require.ErrorIs(t, err, context.Canceled)

	tag, err := svc.Preview(context.Background(), requesttrace.Anonymous(""))
	require.NoError(t, err)
	require.Equal(t, "DEV-0007", tag)
}

func TestReserve(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())
	configured(t, svc, "DEV-", 4, 98)
	audit := requesttrace.Anonymous("")

	tags, err := svc.Reserve(context.Background(), audit, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"DEV-0098", "DEV-0099", "DEV-0100"}, tags)

	next, err := svc.Next(context.Background(), audit)
	require.NoError(t, err)
	require.Equal(t, "DEV-0101", next)

	for _, count := range []int{0, -1, MaxReserve + 1} {
		_, err = svc.Reserve(context.Background(), audit, count)
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		require.Contains(t, validationErr.Fields, "count")
	}
}

func TestPreviewDoesNotConsume(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())
	configured(t, svc, "DEV-", 4, 7)
	audit := requesttrace.Anonymous("")

	for i := 0; i < 3; i++ {
		tag, err := svc.Preview(context.Background(), audit)
		require.NoError(t, err)
		require.Equal(t, "DEV-0007", tag)
	}

	tag, err := svc.Next(context.Background(), audit)
	require.NoError(t, err)
	require.Equal(t, "DEV-0007", tag)
}

func TestCreateRoundTrip(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())
	audit := requesttrace.Anonymous("")

	created := configured(t, svc, "LAP-", 5, 42)

	fetched, err := svc.Get(context.Background(), audit)
	require.NoError(t, err)
	require.Equal(t, created.ID, fetched.ID)
	require.Equal(t, "LAP-", fetched.Prefix)
	require.Equal(t, 5, fetched.DigitCount)
	require.Equal(t, int64(42), fetched.CurrentNumber)
	require.True(t, fetched.IsActive)
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())

	_, err := svc.Get(context.Background(), requesttrace.Anonymous(""))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateConflictLeavesExistingRow(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())
	audit := requesttrace.Anonymous("")
	original := configured(t, svc, "DEV-", 4, 7)

	_, err := svc.Create(context.Background(), audit, CreateInput{Prefix: "X-", DigitCount: 2, CurrentNumber: 1})
	require.ErrorIs(t, err, ErrConflict)

	current, err := svc.Get(context.Background(), audit)
	require.NoError(t, err)
	require.Equal(t, original, current)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepo{})
	audit := requesttrace.Anonymous("")

	testCases := []struct {
		name  string
		input CreateInput
		field string
	}{
		{name: "empty prefix", input: CreateInput{Prefix: "", DigitCount: 4, CurrentNumber: 1}, field: "prefix"},
		{name: "blank prefix", input: CreateInput{Prefix: "   ", DigitCount: 4, CurrentNumber: 1}, field: "prefix"},
		{name: "long prefix", input: CreateInput{Prefix: "ABCDEFGHIJK", DigitCount: 4, CurrentNumber: 1}, field: "prefix"},
		{name: "zero digits", input: CreateInput{Prefix: "DEV-", DigitCount: 0, CurrentNumber: 1}, field: "digitCount"},
		{name: "too many digits", input: CreateInput{Prefix: "DEV-", DigitCount: 11, CurrentNumber: 1}, field: "digitCount"},
		{name: "zero current number", input: CreateInput{Prefix: "DEV-", DigitCount: 4, CurrentNumber: 0}, field: "currentNumber"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), audit, tc.input)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Contains(t, validationErr.Fields, tc.field)
		})
	}
}

func TestCreateAcceptsBoundaryValues(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())

	settings := configured(t, svc, "ABCDEFGHIJ", 10, 1)
	require.Equal(t, "ABCDEFGHIJ", settings.Prefix)
	require.Equal(t, 10, settings.DigitCount)
}

func TestUpdatePreservesUnsetFields(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())
	audit := requesttrace.Anonymous("")
	created := configured(t, svc, "DEV-", 4, 7)

	prefix := "NEW-"
	updated, err := svc.Update(context.Background(), audit, created.ID, UpdateInput{Prefix: &prefix})
	require.NoError(t, err)
	require.Equal(t, "NEW-", updated.Prefix)
	require.Equal(t, 4, updated.DigitCount)
	require.Equal(t, int64(7), updated.CurrentNumber)

	tag, err := svc.Next(context.Background(), audit)
	require.NoError(t, err)
	require.Equal(t, "NEW-0007", tag)
}

func TestUpdateValidation(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepo{})
	audit := requesttrace.Anonymous("")
	id := uuid.New()

	_, err := svc.Update(context.Background(), audit, id, UpdateInput{})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "body")

	digits := 11
	current := int64(0)
	_, err = svc.Update(context.Background(), audit, id, UpdateInput{DigitCount: &digits, CurrentNumber: &current})
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "digitCount")
	require.Contains(t, validationErr.Fields, "currentNumber")
}

func TestUpdateUnknownID(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())
	audit := requesttrace.Anonymous("")
	configured(t, svc, "DEV-", 4, 7)

	prefix := "NEW-"
	_, err := svc.Update(context.Background(), audit, uuid.New(), UpdateInput{Prefix: &prefix})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Update(context.Background(), audit, uuid.Nil, UpdateInput{Prefix: &prefix})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNextSeesAdministrativeUpdates(t *testing.T) {
	t.Parallel()

	svc := New(domainrepo.NewMemoryRepository())
	audit := requesttrace.Anonymous("")
	created := configured(t, svc, "DEV-", 4, 7)

	current := int64(500)
	digits := 6
	_, err := svc.Update(context.Background(), audit, created.ID, UpdateInput{CurrentNumber: &current, DigitCount: &digits})
	require.NoError(t, err)

	tags := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		tag, err := svc.Next(context.Background(), audit)
		require.NoError(t, err)
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	require.Equal(t, []string{"DEV-000500", "DEV-000501"}, tags)
}
