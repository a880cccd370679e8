package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

const threatColumns = `id, feed_id, cve_id, title, description, cvss_score,
	cvss_vector, severity, threat_type, published_at, collected_at,
	source_url, status, raw_payload, ttps, iocs, created_at, updated_at`

// Threats persists normalized advisories and their extracted products.
type Threats struct {
	db DBTX
}

// NewThreats creates the threat repository.
func NewThreats(db DBTX) *Threats {
	return &Threats{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Threats) WithTx(tx pgx.Tx) *Threats {
	return &Threats{db: tx}
}

// Upsert inserts or refreshes a threat keyed on its dedup identity: the CVE
// id when present, else the (feed, source URL, title) tuple. Products are
// replaced wholesale on update.
func (r *Threats) Upsert(ctx context.Context, threat *models.Threat) (bool, error) {
	dedupKey := threat.DedupKey()

	var existingID uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM threats WHERE dedup_key = $1`, dedupKey).Scan(&existingID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	created := existingID == uuid.Nil

	iocs, err := threat.IOCs.Value()
	if err != nil {
		return false, fmt.Errorf("encoding iocs: %w", err)
	}
	if threat.Status == "" {
		threat.Status = models.ThreatStatusNew
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO threats (feed_id, cve_id, title, description, cvss_score,
			cvss_vector, severity, threat_type, published_at, collected_at,
			source_url, status, raw_payload, ttps, iocs, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (dedup_key) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			cvss_score = EXCLUDED.cvss_score,
			cvss_vector = EXCLUDED.cvss_vector,
			severity = EXCLUDED.severity,
			threat_type = EXCLUDED.threat_type,
			published_at = EXCLUDED.published_at,
			collected_at = EXCLUDED.collected_at,
			source_url = EXCLUDED.source_url,
			raw_payload = EXCLUDED.raw_payload,
			ttps = EXCLUDED.ttps,
			iocs = EXCLUDED.iocs,
			updated_at = NOW()
		RETURNING id, status, created_at, updated_at
	`, threat.FeedID, threat.CVEID, threat.Title, threat.Description, threat.CVSSScore,
		threat.CVSSVector, threat.Severity, threat.ThreatType, threat.PublishedAt, threat.CollectedAt,
		threat.SourceURL, threat.Status, threat.RawPayload, threat.TTPs, iocs, dedupKey,
	).Scan(&threat.ID, &threat.Status, &threat.CreatedAt, &threat.UpdatedAt)
	if err != nil {
		return false, err
	}

	if err := r.replaceProducts(ctx, threat.ID, threat.Products); err != nil {
		return false, err
	}
	for i := range threat.Products {
		threat.Products[i].ThreatID = threat.ID
	}
	return created, nil
}

// GetByID retrieves one threat with its products.
func (r *Threats) GetByID(ctx context.Context, id uuid.UUID) (*models.Threat, error) {
	threat, err := scanThreat(r.db.QueryRow(ctx, `SELECT `+threatColumns+` FROM threats WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	products, err := r.loadProducts(ctx, id)
	if err != nil {
		return nil, err
	}
	threat.Products = products
	return threat, nil
}

// GetByCVE retrieves one threat by its CVE identifier.
func (r *Threats) GetByCVE(ctx context.Context, cveID string) (*models.Threat, error) {
	threat, err := scanThreat(r.db.QueryRow(ctx, `SELECT `+threatColumns+` FROM threats WHERE cve_id = $1`, cveID))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	products, err := r.loadProducts(ctx, threat.ID)
	if err != nil {
		return nil, err
	}
	threat.Products = products
	return threat, nil
}

// UpdateStatus moves a threat along its lifecycle.
func (r *Threats) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ThreatStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE threats SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListByStatus returns threats in one lifecycle state, newest first.
func (r *Threats) ListByStatus(ctx context.Context, status models.ThreatStatus, limit int) ([]models.Threat, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+threatColumns+` FROM threats
		WHERE status = $1 ORDER BY collected_at DESC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threats []models.Threat
	for rows.Next() {
		threat, err := scanThreat(rows)
		if err != nil {
			return nil, err
		}
		threats = append(threats, *threat)
	}
	return threats, rows.Err()
}

func (r *Threats) replaceProducts(ctx context.Context, threatID uuid.UUID, products []models.ThreatProduct) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM threat_products WHERE threat_id = $1`, threatID); err != nil {
		return err
	}
	for i := range products {
		p := &products[i]
		err := r.db.QueryRow(ctx, `
			INSERT INTO threat_products (threat_id, name, version, type, original_text)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, threatID, p.Name, p.Version, p.Type, p.OriginalText).Scan(&p.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Threats) loadProducts(ctx context.Context, threatID uuid.UUID) ([]models.ThreatProduct, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, threat_id, name, version, type, original_text
		FROM threat_products WHERE threat_id = $1 ORDER BY name
	`, threatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.ThreatProduct
	for rows.Next() {
		var p models.ThreatProduct
		if err := rows.Scan(&p.ID, &p.ThreatID, &p.Name, &p.Version, &p.Type, &p.OriginalText); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanThreat(row pgx.Row) (*models.Threat, error) {
	var t models.Threat
	var iocs []byte
	err := row.Scan(
		&t.ID, &t.FeedID, &t.CVEID, &t.Title, &t.Description, &t.CVSSScore,
		&t.CVSSVector, &t.Severity, &t.ThreatType, &t.PublishedAt, &t.CollectedAt,
		&t.SourceURL, &t.Status, &t.RawPayload, &t.TTPs, &iocs, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(iocs) > 0 {
		if err := json.Unmarshal(iocs, &t.IOCs); err != nil {
			return nil, fmt.Errorf("decoding iocs: %w", err)
		}
	}
	return &t, nil
}
