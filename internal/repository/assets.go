package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

const assetColumns = `id, hostname, ip_addresses, operating_system, owner,
	asset_type, sensitivity_weight, criticality_weight, created_at, updated_at`

// Assets persists the inventory snapshot the engine correlates against.
type Assets struct {
	db DBTX
}

// NewAssets creates the asset repository.
func NewAssets(db DBTX) *Assets {
	return &Assets{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Assets) WithTx(tx pgx.Tx) *Assets {
	return &Assets{db: tx}
}

// Create inserts an asset and its installed products.
func (r *Assets) Create(ctx context.Context, asset *models.Asset) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO assets (hostname, ip_addresses, operating_system, owner,
			asset_type, sensitivity_weight, criticality_weight)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, asset.Hostname, asset.IPAddresses, asset.OperatingSystem, asset.Owner,
		asset.AssetType, asset.SensitivityWeight, asset.CriticalityWeight,
	).Scan(&asset.ID, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return err
	}
	return r.replaceProducts(ctx, asset.ID, asset.Products)
}

// Update rewrites an asset and replaces its product list.
func (r *Assets) Update(ctx context.Context, asset *models.Asset) error {
	err := r.db.QueryRow(ctx, `
		UPDATE assets SET
			hostname = $2, ip_addresses = $3, operating_system = $4, owner = $5,
			asset_type = $6, sensitivity_weight = $7, criticality_weight = $8,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, asset.ID, asset.Hostname, asset.IPAddresses, asset.OperatingSystem, asset.Owner,
		asset.AssetType, asset.SensitivityWeight, asset.CriticalityWeight,
	).Scan(&asset.UpdatedAt)
	if err != nil {
		return wrapNotFound(err)
	}
	return r.replaceProducts(ctx, asset.ID, asset.Products)
}

// GetByID retrieves one asset with its products.
func (r *Assets) GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	asset, err := scanAsset(r.db.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	products, err := r.loadProducts(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	asset.Products = products[id]
	return asset, nil
}

// List returns the whole inventory with products attached.
func (r *Assets) List(ctx context.Context) ([]models.Asset, error) {
	rows, err := r.db.Query(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY hostname`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []models.Asset
	var ids []uuid.UUID
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
		ids = append(ids, asset.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	products, err := r.loadProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range assets {
		assets[i].Products = products[assets[i].ID]
	}
	return assets, nil
}

// Delete removes an asset. Its associations cascade at the schema level.
func (r *Assets) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *Assets) replaceProducts(ctx context.Context, assetID uuid.UUID, products []models.AssetProduct) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM asset_products WHERE asset_id = $1`, assetID); err != nil {
		return err
	}
	for i := range products {
		p := &products[i]
		p.AssetID = assetID
		err := r.db.QueryRow(ctx, `
			INSERT INTO asset_products (asset_id, name, version)
			VALUES ($1, $2, $3)
			RETURNING id
		`, assetID, p.Name, p.Version).Scan(&p.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Assets) loadProducts(ctx context.Context, assetIDs []uuid.UUID) (map[uuid.UUID][]models.AssetProduct, error) {
	byAsset := make(map[uuid.UUID][]models.AssetProduct)
	if len(assetIDs) == 0 {
		return byAsset, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, asset_id, name, version
		FROM asset_products WHERE asset_id = ANY($1) ORDER BY name
	`, assetIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p models.AssetProduct
		if err := rows.Scan(&p.ID, &p.AssetID, &p.Name, &p.Version); err != nil {
			return nil, err
		}
		byAsset[p.AssetID] = append(byAsset[p.AssetID], p)
	}
	return byAsset, rows.Err()
}

func scanAsset(row pgx.Row) (*models.Asset, error) {
	var a models.Asset
	err := row.Scan(
		&a.ID, &a.Hostname, &a.IPAddresses, &a.OperatingSystem, &a.Owner,
		&a.AssetType, &a.SensitivityWeight, &a.CriticalityWeight, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
