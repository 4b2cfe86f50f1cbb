package repo

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-itam/atlas/platform/go/persistence"
)

// MemoryRepository keeps the settings register in process. A single mutex serializes
// every write, which gives the same allocation guarantees as the Postgres row lock for
// callers sharing one process.
type MemoryRepository struct {
	mu       sync.RWMutex
	settings *persistence.AssetTagSettings
	now      func() time.Time
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

func (r *MemoryRepository) Get(ctx context.Context) (persistence.AssetTagSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.settings == nil {
		return persistence.AssetTagSettings{}, persistence.ErrNotFound
	}
	return *r.settings, nil
}

func (r *MemoryRepository) Create(ctx context.Context, params persistence.CreateAssetTagSettingsParams) (persistence.AssetTagSettings, error) {
	if err := ctx.Err(); err != nil {
		return persistence.AssetTagSettings{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settings != nil {
		return persistence.AssetTagSettings{}, persistence.ErrConflict
	}

	now := r.now().UTC()
	r.settings = &persistence.AssetTagSettings{
		ID:            params.ID,
		Prefix:        params.Prefix,
		DigitCount:    params.DigitCount,
		CurrentNumber: params.CurrentNumber,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return *r.settings, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id uuid.UUID, params persistence.UpdateAssetTagSettingsParams) (persistence.AssetTagSettings, error) {
	if err := ctx.Err(); err != nil {
		return persistence.AssetTagSettings{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settings == nil || r.settings.ID != id {
		return persistence.AssetTagSettings{}, persistence.ErrNotFound
	}

	next := *r.settings
	if params.Prefix != nil {
		next.Prefix = *params.Prefix
	}
	if params.DigitCount != nil {
		next.DigitCount = *params.DigitCount
	}
	if params.CurrentNumber != nil {
		next.CurrentNumber = *params.CurrentNumber
	}
	next.UpdatedAt = r.now().UTC()

	r.settings = &next
	return next, nil
}

func (r *MemoryRepository) Advance(ctx context.Context, count int64) (persistence.AssetTagAllocation, error) {
	if count < 1 {
		return persistence.AssetTagAllocation{}, fmt.Errorf("advance count must be positive, got %d", count)
	}
	if err := ctx.Err(); err != nil {
		return persistence.AssetTagAllocation{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settings == nil || !r.settings.IsActive {
		return persistence.AssetTagAllocation{}, persistence.ErrNotFound
	}

	if r.settings.CurrentNumber > math.MaxInt64-count {
		return persistence.AssetTagAllocation{}, persistence.ErrCounterExhausted
	}

	allocation := persistence.AssetTagAllocation{
		SettingsID: r.settings.ID,
		Prefix:     r.settings.Prefix,
		DigitCount: r.settings.DigitCount,
		First:      r.settings.CurrentNumber,
		Count:      count,
	}
	r.settings.CurrentNumber += count
	r.settings.UpdatedAt = r.now().UTC()

	return allocation, nil
}

func (r *MemoryRepository) Peek(ctx context.Context) (persistence.AssetTagSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.settings == nil || !r.settings.IsActive {
		return persistence.AssetTagSettings{}, persistence.ErrNotFound
	}
	return *r.settings, nil
}

// Ensure interface compliance.
var _ Repository = (*MemoryRepository)(nil)
