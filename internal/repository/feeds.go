package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

const feedColumns = `id, name, feed_type, url, priority, enabled, cadence,
	credential_ref, last_run_at, last_run_status, last_run_error,
	created_at, updated_at`

// Feeds persists threat intelligence feed configurations.
type Feeds struct {
	db DBTX
}

// NewFeeds creates the feed repository.
func NewFeeds(db DBTX) *Feeds {
	return &Feeds{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Feeds) WithTx(tx pgx.Tx) *Feeds {
	return &Feeds{db: tx}
}

// Create inserts a feed and fills its generated fields.
func (r *Feeds) Create(ctx context.Context, feed *models.Feed) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO feeds (name, feed_type, url, priority, enabled, cadence, credential_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, last_run_status, created_at, updated_at
	`, feed.Name, feed.FeedType, feed.URL, feed.Priority, feed.Enabled, feed.Cadence, feed.CredentialRef,
	).Scan(&feed.ID, &feed.LastRunStatus, &feed.CreatedAt, &feed.UpdatedAt)
}

// GetByID retrieves one feed.
func (r *Feeds) GetByID(ctx context.Context, id uuid.UUID) (*models.Feed, error) {
	feed, err := scanFeed(r.db.QueryRow(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return feed, nil
}

// GetByName retrieves one feed by its unique display name.
func (r *Feeds) GetByName(ctx context.Context, name string) (*models.Feed, error) {
	feed, err := scanFeed(r.db.QueryRow(ctx, `SELECT `+feedColumns+` FROM feeds WHERE name = $1`, name))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return feed, nil
}

// List returns every feed ordered by priority tier then name.
func (r *Feeds) List(ctx context.Context) ([]models.Feed, error) {
	return r.list(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY priority, name`)
}

// ListEnabled returns the feeds eligible for scheduling.
func (r *Feeds) ListEnabled(ctx context.Context) ([]models.Feed, error) {
	return r.list(ctx, `SELECT `+feedColumns+` FROM feeds WHERE enabled ORDER BY priority, name`)
}

func (r *Feeds) list(ctx context.Context, sql string, args ...any) ([]models.Feed, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *feed)
	}
	return feeds, rows.Err()
}

// Update rewrites the configurable fields of a feed.
func (r *Feeds) Update(ctx context.Context, feed *models.Feed) error {
	err := r.db.QueryRow(ctx, `
		UPDATE feeds SET
			name = $2, feed_type = $3, url = $4, priority = $5,
			enabled = $6, cadence = $7, credential_ref = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, feed.ID, feed.Name, feed.FeedType, feed.URL, feed.Priority,
		feed.Enabled, feed.Cadence, feed.CredentialRef,
	).Scan(&feed.UpdatedAt)
	return wrapNotFound(err)
}

// UpdateLastRun records the outcome of the most recent collection run.
func (r *Feeds) UpdateLastRun(ctx context.Context, id uuid.UUID, status models.RunStatus, errText *string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE feeds SET
			last_run_at = $2, last_run_status = $3, last_run_error = $4, updated_at = NOW()
		WHERE id = $1
	`, id, at, status, errText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Delete removes a feed. Its threats cascade at the schema level.
func (r *Feeds) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanFeed(row pgx.Row) (*models.Feed, error) {
	var f models.Feed
	err := row.Scan(
		&f.ID, &f.Name, &f.FeedType, &f.URL, &f.Priority, &f.Enabled, &f.Cadence,
		&f.CredentialRef, &f.LastRunAt, &f.LastRunStatus, &f.LastRunError,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
