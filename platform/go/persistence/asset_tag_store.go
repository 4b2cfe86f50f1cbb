package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const AssetTagSettingsTable = "asset_tag_settings"

// AssetTagSettings is a row of asset_tag_settings. The db tags carry the storage
// representation and the json tags the API one.
type AssetTagSettings struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Prefix        string    `db:"prefix" json:"prefix"`
	DigitCount    int       `db:"digit_count" json:"digitCount"`
	CurrentNumber int64     `db:"current_number" json:"currentNumber"`
	IsActive      bool      `db:"is_active" json:"isActive"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// AssetTagAllocation describes a block of consumed counter values: First, First+1, ... First+Count-1.
type AssetTagAllocation struct {
	SettingsID uuid.UUID
	Prefix     string
	DigitCount int
	First      int64
	Count      int64
}

// CreateAssetTagSettingsParams captures the fields required to insert the settings row.
type CreateAssetTagSettingsParams struct {
	ID            uuid.UUID
	Prefix        string
	DigitCount    int
	CurrentNumber int64
}

// UpdateAssetTagSettingsParams holds a partial update; nil fields keep their stored value.
type UpdateAssetTagSettingsParams struct {
	Prefix        *string
	DigitCount    *int
	CurrentNumber *int64
}

type pgxDB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AssetTagStore persists the asset-tag counter register.
type AssetTagStore struct {
	db pgxDB
}

func NewAssetTagStore(ctx context.Context, pool *pgxpool.Pool) (*AssetTagStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	return &AssetTagStore{db: pool}, nil
}

const assetTagSettingsColumns = `id, prefix, digit_count, current_number, is_active, created_at, updated_at`

// GetSettings returns the configured row, preferring the active one.
func (s *AssetTagStore) GetSettings(ctx context.Context) (AssetTagSettings, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+assetTagSettingsColumns+`
		FROM asset_tag_settings
		ORDER BY is_active DESC, created_at ASC
		LIMIT 1
	`)

	settings, err := scanAssetTagSettings(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AssetTagSettings{}, ErrNotFound
		}
		return AssetTagSettings{}, fmt.Errorf("get asset tag settings: %w", err)
	}

	return settings, nil
}

// GetActiveSettings returns the row used for generation.
func (s *AssetTagStore) GetActiveSettings(ctx context.Context) (AssetTagSettings, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+assetTagSettingsColumns+`
		FROM asset_tag_settings
		WHERE is_active
		LIMIT 1
	`)

	settings, err := scanAssetTagSettings(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AssetTagSettings{}, ErrNotFound
		}
		return AssetTagSettings{}, fmt.Errorf("get active asset tag settings: %w", err)
	}

	return settings, nil
}

// CreateSettings inserts the settings row. The unique singleton column makes a second
// insert a no-op, reported as ErrConflict without touching the existing row.
func (s *AssetTagStore) CreateSettings(ctx context.Context, params CreateAssetTagSettingsParams) (AssetTagSettings, error) {
	if params.ID == uuid.Nil {
		return AssetTagSettings{}, errors.New("settings id is required")
	}
	if strings.TrimSpace(params.Prefix) == "" {
		return AssetTagSettings{}, errors.New("prefix is required")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return AssetTagSettings{}, fmt.Errorf("begin asset tag settings tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `
		INSERT INTO asset_tag_settings (
			id, prefix, digit_count, current_number, is_active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, TRUE, NOW(), NOW()
		)
		ON CONFLICT (singleton) DO NOTHING
		RETURNING `+assetTagSettingsColumns,
		params.ID, params.Prefix, params.DigitCount, params.CurrentNumber,
	)

	settings, err := scanAssetTagSettings(row)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
			return AssetTagSettings{}, ErrConflict
		default:
			return AssetTagSettings{}, fmt.Errorf("insert asset tag settings: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return AssetTagSettings{}, fmt.Errorf("commit asset tag settings tx: %w", err)
	}

	return settings, nil
}

// UpdateSettings applies a partial update under a row lock so concurrent
// generation calls see either the old or the new values, never a mix.
func (s *AssetTagStore) UpdateSettings(ctx context.Context, id uuid.UUID, params UpdateAssetTagSettingsParams) (AssetTagSettings, error) {
	if id == uuid.Nil {
		return AssetTagSettings{}, ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return AssetTagSettings{}, fmt.Errorf("begin update asset tag settings tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `
		SELECT `+assetTagSettingsColumns+`
		FROM asset_tag_settings
		WHERE id = $1
		FOR UPDATE
	`, id)

	current, err := scanAssetTagSettings(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AssetTagSettings{}, ErrNotFound
		}
		return AssetTagSettings{}, fmt.Errorf("load asset tag settings: %w", err)
	}

	prefix := current.Prefix
	if params.Prefix != nil {
		prefix = *params.Prefix
	}

	digitCount := current.DigitCount
	if params.DigitCount != nil {
		digitCount = *params.DigitCount
	}

	currentNumber := current.CurrentNumber
	if params.CurrentNumber != nil {
		currentNumber = *params.CurrentNumber
	}

	row = tx.QueryRow(ctx, `
		UPDATE asset_tag_settings
		SET prefix = $2,
		    digit_count = $3,
		    current_number = $4,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+assetTagSettingsColumns,
		id, prefix, digitCount, currentNumber,
	)

	updated, err := scanAssetTagSettings(row)
	if err != nil {
		return AssetTagSettings{}, fmt.Errorf("update asset tag settings: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return AssetTagSettings{}, fmt.Errorf("commit update asset tag settings tx: %w", err)
	}

	return updated, nil
}

// Advance consumes count consecutive values from the active counter in one statement.
// The row lock taken by UPDATE serializes concurrent callers, so two transactions can
// never return overlapping blocks. The values are only handed out once the commit has
// succeeded; a rollback leaves the counter untouched.
func (s *AssetTagStore) Advance(ctx context.Context, count int64) (AssetTagAllocation, error) {
	if count < 1 {
		return AssetTagAllocation{}, fmt.Errorf("advance count must be positive, got %d", count)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return AssetTagAllocation{}, fmt.Errorf("begin advance tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var allocation AssetTagAllocation
	err = tx.QueryRow(ctx, `
		UPDATE asset_tag_settings
		SET current_number = current_number + $1::bigint,
		    updated_at = NOW()
		WHERE is_active
		RETURNING id, prefix, digit_count, current_number - $1::bigint
	`, count).Scan(&allocation.SettingsID, &allocation.Prefix, &allocation.DigitCount, &allocation.First)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AssetTagAllocation{}, ErrNotFound
		}
		if isOutOfRange(err) {
			return AssetTagAllocation{}, ErrCounterExhausted
		}
		return AssetTagAllocation{}, fmt.Errorf("advance asset tag counter: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return AssetTagAllocation{}, fmt.Errorf("commit advance tx: %w", err)
	}

	allocation.Count = count
	return allocation, nil
}

func scanAssetTagSettings(scanner rowScanner) (AssetTagSettings, error) {
	var settings AssetTagSettings
	if err := scanner.Scan(
		&settings.ID,
		&settings.Prefix,
		&settings.DigitCount,
		&settings.CurrentNumber,
		&settings.IsActive,
		&settings.CreatedAt,
		&settings.UpdatedAt,
	); err != nil {
		return AssetTagSettings{}, err
	}

	return settings, nil
}
