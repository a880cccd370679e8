package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/audit"
	"github.com/quantumlayerhq/aetim/pkg/authz"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

func validateAsset(asset *models.Asset) error {
	if asset.Hostname == "" {
		return &models.ValidationError{Field: "hostname", Message: "must not be empty"}
	}
	if asset.SensitivityWeight <= 0 || asset.CriticalityWeight <= 0 {
		return &models.ValidationError{Field: "weights", Message: "sensitivity and criticality weights must be positive"}
	}
	return nil
}

// ImportAssets ingests an inventory snapshot from the asset-management
// collaborator and re-correlates every touched asset.
func (s *Service) ImportAssets(ctx context.Context, assets []models.Asset) error {
	p, err := s.authorize(ctx, authz.ResourceAssets, authz.ActionImport, nil)
	if err != nil {
		return err
	}

	for i := range assets {
		if err := validateAsset(&assets[i]); err != nil {
			return err
		}
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		repo := s.assets.WithTx(tx)
		for i := range assets {
			if err := repo.Create(ctx, &assets[i]); err != nil {
				return err
			}
		}
		return nil
	})
	s.record(ctx, p, audit.VerbImport, authz.ResourceAssets, nil, err,
		map[string]interface{}{"count": len(assets)})
	if err != nil {
		return err
	}

	for i := range assets {
		if err := s.correlator.RecorrelateAsset(ctx, &assets[i]); err != nil {
			s.log.Error("re-correlation after import failed", "asset_id", assets[i].ID, "error", err)
		}
	}
	return nil
}

// UpdateAsset rewrites an asset and re-correlates it.
func (s *Service) UpdateAsset(ctx context.Context, asset *models.Asset) error {
	p, err := s.authorize(ctx, authz.ResourceAssets, authz.ActionUpdate, idStr(asset.ID))
	if err != nil {
		return err
	}
	if err := validateAsset(asset); err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.assets.WithTx(tx).Update(ctx, asset)
	})
	s.record(ctx, p, audit.VerbUpdate, authz.ResourceAssets, idStr(asset.ID), err, nil)
	if err != nil {
		return err
	}
	return s.correlator.RecorrelateAsset(ctx, asset)
}

// ListAssets returns the inventory snapshot.
func (s *Service) ListAssets(ctx context.Context) ([]models.Asset, error) {
	if _, err := s.authorize(ctx, authz.ResourceAssets, authz.ActionView, nil); err != nil {
		return nil, err
	}
	return s.assets.List(ctx)
}

// CorrelateThreat runs correlation for one threat on demand.
func (s *Service) CorrelateThreat(ctx context.Context, threatID uuid.UUID) ([]models.Association, error) {
	if _, err := s.authorize(ctx, authz.ResourceThreats, authz.ActionUpdate, idStr(threatID)); err != nil {
		return nil, err
	}
	return s.correlator.CorrelateThreat(ctx, threatID)
}
