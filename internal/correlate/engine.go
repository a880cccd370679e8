package correlate

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// ThreatStore is the persistence surface the engine needs for threats.
type ThreatStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Threat, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ThreatStatus) error
}

// AssetStore lists the asset inventory.
type AssetStore interface {
	List(ctx context.Context) ([]models.Asset, error)
}

// AssociationStore persists (threat, asset) edges. (ThreatID, AssetID) is a
// unique key; Upsert keeps re-correlation idempotent.
type AssociationStore interface {
	Upsert(ctx context.Context, assoc *models.Association) (created bool, err error)
	ListByThreat(ctx context.Context, threatID uuid.UUID) ([]models.Association, error)
	ListByAsset(ctx context.Context, assetID uuid.UUID) ([]models.Association, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Engine computes threat-asset associations and keeps them current as the
// inventory changes.
type Engine struct {
	threats      ThreatStore
	assets       AssetStore
	associations AssociationStore
	bus          *events.Bus
	log          *logger.Logger
}

// NewEngine wires the correlation engine.
func NewEngine(threats ThreatStore, assets AssetStore, associations AssociationStore, bus *events.Bus, log *logger.Logger) *Engine {
	return &Engine{
		threats:      threats,
		assets:       assets,
		associations: associations,
		bus:          bus,
		log:          log.WithComponent("correlation"),
	}
}

// Match scores one threat against one asset. Pure computation, no I/O.
func Match(threat *models.Threat, asset *models.Asset) (*models.Association, bool) {
	c, ok := matchAsset(threat, asset)
	if !ok {
		return nil, false
	}
	return &models.Association{
		ThreatID:     threat.ID,
		AssetID:      asset.ID,
		Confidence:   c.confidence,
		MatchKind:    c.kind,
		MatchDetails: c.details.marshal(),
	}, true
}

// CorrelateThreat computes and persists the association set for one threat
// against the current inventory. The first computation moves a New threat
// to Analyzing; a finished run moves Analyzing to Processed. Failures leave
// the state untouched.
func (e *Engine) CorrelateThreat(ctx context.Context, threatID uuid.UUID) ([]models.Association, error) {
	threat, err := e.threats.GetByID(ctx, threatID)
	if err != nil {
		return nil, fmt.Errorf("loading threat %s: %w", threatID, err)
	}

	if threat.Status == models.ThreatStatusNew {
		if err := e.threats.UpdateStatus(ctx, threatID, models.ThreatStatusAnalyzing); err != nil {
			return nil, fmt.Errorf("marking threat analyzing: %w", err)
		}
		threat.Status = models.ThreatStatusAnalyzing
	}

	assets, err := e.assets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading assets: %w", err)
	}

	associations, err := e.persistAssociations(ctx, threat, assets)
	if err != nil {
		return nil, err
	}

	if threat.Status == models.ThreatStatusAnalyzing {
		if err := e.threats.UpdateStatus(ctx, threatID, models.ThreatStatusProcessed); err != nil {
			return nil, fmt.Errorf("marking threat processed: %w", err)
		}
	}

	e.log.Info("correlation complete", "threat_id", threatID, "associations", len(associations))
	return associations, nil
}

// RecorrelateAsset re-runs correlation for every threat whose existing
// associations reference the changed asset: associations missing from the
// new set are deleted, the rest upserted.
func (e *Engine) RecorrelateAsset(ctx context.Context, asset *models.Asset) error {
	existing, err := e.associations.ListByAsset(ctx, asset.ID)
	if err != nil {
		return fmt.Errorf("loading associations for asset %s: %w", asset.ID, err)
	}

	for _, old := range existing {
		threat, err := e.threats.GetByID(ctx, old.ThreatID)
		if err != nil {
			e.log.Warn("skipping re-correlation of missing threat", "threat_id", old.ThreatID, "error", err)
			continue
		}

		assoc, ok := Match(threat, asset)
		if !ok {
			if err := e.associations.Delete(ctx, old.ID); err != nil {
				return fmt.Errorf("deleting stale association %s: %w", old.ID, err)
			}
			continue
		}

		if err := e.upsertAndPublish(ctx, assoc); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) persistAssociations(ctx context.Context, threat *models.Threat, assets []models.Asset) ([]models.Association, error) {
	var associations []models.Association
	for i := range assets {
		assoc, ok := Match(threat, &assets[i])
		if !ok {
			continue
		}
		if err := e.upsertAndPublish(ctx, assoc); err != nil {
			return nil, err
		}
		associations = append(associations, *assoc)
	}
	return associations, nil
}

func (e *Engine) upsertAndPublish(ctx context.Context, assoc *models.Association) error {
	if _, err := e.associations.Upsert(ctx, assoc); err != nil {
		return fmt.Errorf("upserting association: %w", err)
	}
	// Updates republish so downstream scoring stays current.
	e.bus.Publish(events.AssociationCreated, events.AssociationCreatedPayload{
		AssociationID: assoc.ID,
		ThreatID:      assoc.ThreatID,
		AssetID:       assoc.AssetID,
		Confidence:    assoc.Confidence,
		MatchKind:     assoc.MatchKind,
	})
	return nil
}
