package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/atlas-itam/atlas/platform/go/persistence"
)

// Repository exposes persistence operations required by the asset tag service.
type Repository interface {
	Get(ctx context.Context) (persistence.AssetTagSettings, error)
	Create(ctx context.Context, params persistence.CreateAssetTagSettingsParams) (persistence.AssetTagSettings, error)
	Update(ctx context.Context, id uuid.UUID, params persistence.UpdateAssetTagSettingsParams) (persistence.AssetTagSettings, error)
	// Advance consumes count consecutive numbers from the active settings row.
	Advance(ctx context.Context, count int64) (persistence.AssetTagAllocation, error)
	// Peek reads the active settings row without consuming anything.
	Peek(ctx context.Context) (persistence.AssetTagSettings, error)
}

type postgresRepository struct {
	store *persistence.AssetTagStore
}

// NewPostgresRepository builds a Repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.AssetTagStore) Repository {
	if store == nil {
		panic("asset tag store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Get(ctx context.Context) (persistence.AssetTagSettings, error) {
	return r.store.GetSettings(ctx)
}

func (r *postgresRepository) Create(ctx context.Context, params persistence.CreateAssetTagSettingsParams) (persistence.AssetTagSettings, error) {
	return r.store.CreateSettings(ctx, params)
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, params persistence.UpdateAssetTagSettingsParams) (persistence.AssetTagSettings, error) {
	return r.store.UpdateSettings(ctx, id, params)
}

func (r *postgresRepository) Advance(ctx context.Context, count int64) (persistence.AssetTagAllocation, error) {
	return r.store.Advance(ctx, count)
}

func (r *postgresRepository) Peek(ctx context.Context) (persistence.AssetTagSettings, error) {
	return r.store.GetActiveSettings(ctx)
}
