// Package repository provides PostgreSQL persistence for the engine. Each
// entity gets its own repository so the pipeline packages can depend on
// narrow store interfaces.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

// DBTX represents a database connection or transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// wrapNotFound maps the driver's no-rows sentinel onto the domain one.
func wrapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}
