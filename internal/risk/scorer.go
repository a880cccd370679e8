// Package risk computes the deterministic, explainable risk score for a
// threat-asset association and keeps its immutable scoring history.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/internal/pir"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// ThreatStore loads threats for scoring.
type ThreatStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Threat, error)
}

// FeedStore loads the owning feed; the feed name drives the
// known-exploited weight.
type FeedStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Feed, error)
}

// AssociationStore lists a threat's associations; every associated asset
// contributes to the blast radius.
type AssociationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Association, error)
	ListByThreat(ctx context.Context, threatID uuid.UUID) ([]models.Association, error)
}

// AssetStore loads assets for their importance weights.
type AssetStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
}

// PIRStore lists the enabled priority-of-interest rules.
type PIRStore interface {
	ListEnabled(ctx context.Context) ([]models.PIR, error)
}

// AssessmentStore persists assessments and their append-only history.
type AssessmentStore interface {
	GetByAssociation(ctx context.Context, associationID uuid.UUID) (*models.RiskAssessment, error)
	Upsert(ctx context.Context, assessment *models.RiskAssessment) error
	AppendHistory(ctx context.Context, entry *models.RiskAssessmentHistory) error
}

// breakdown reproduces every formula input for the assessment record.
type breakdown struct {
	BaseScore     float64 `json:"base_score"`
	AssetWeight   float64 `json:"asset_weight"`
	AffectedCount int     `json:"affected_count"`
	CountWeight   float64 `json:"count_weight"`
	PIRWeight     float64 `json:"pir_weight"`
	KEVWeight     float64 `json:"kev_weight"`
	FinalScore    float64 `json:"final_score"`
	Formula       string  `json:"formula"`
}

// Scorer evaluates associations into risk assessments.
type Scorer struct {
	weights      models.RiskWeights
	threats      ThreatStore
	feeds        FeedStore
	associations AssociationStore
	assets       AssetStore
	pirs         PIRStore
	assessments  AssessmentStore
	bus          *events.Bus
	log          *logger.Logger
}

// NewScorer wires the risk scorer.
func NewScorer(
	weights models.RiskWeights,
	threats ThreatStore,
	feeds FeedStore,
	associations AssociationStore,
	assets AssetStore,
	pirs PIRStore,
	assessments AssessmentStore,
	bus *events.Bus,
	log *logger.Logger,
) *Scorer {
	if weights.CountDivisor <= 0 {
		weights = models.DefaultRiskWeights()
	}
	return &Scorer{
		weights:      weights,
		threats:      threats,
		feeds:        feeds,
		associations: associations,
		assets:       assets,
		pirs:         pirs,
		assessments:  assessments,
		bus:          bus,
		log:          log.WithComponent("risk_scorer"),
	}
}

// ScoreAssociation computes, persists, and publishes the assessment for one
// (threat, association) pair.
func (s *Scorer) ScoreAssociation(ctx context.Context, threatID, associationID uuid.UUID) (*models.RiskAssessment, error) {
	threat, err := s.threats.GetByID(ctx, threatID)
	if err != nil {
		return nil, fmt.Errorf("loading threat %s: %w", threatID, err)
	}
	_, err = s.associations.GetByID(ctx, associationID)
	if err != nil {
		return nil, fmt.Errorf("loading association %s: %w", associationID, err)
	}

	base := 0.0
	if threat.CVSSScore != nil {
		base = *threat.CVSSScore
	} else {
		s.log.Warn("threat has no CVSS score, base defaults to zero", "threat_id", threatID)
	}

	siblings, err := s.associations.ListByThreat(ctx, threatID)
	if err != nil {
		return nil, fmt.Errorf("listing associations for threat %s: %w", threatID, err)
	}

	assetWeight, affectedCount := s.assetWeight(ctx, siblings)
	countWeight := (float64(affectedCount) / s.weights.CountDivisor) * s.weights.CountWeight

	pirWeight := 0.0
	rules, err := s.pirs.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading priority rules: %w", err)
	}
	if pir.AnyHighPriority(rules, threat) {
		pirWeight = s.weights.PIRWeight
	}

	kevWeight := 0.0
	if feed, err := s.feeds.GetByID(ctx, threat.FeedID); err == nil {
		name := strings.ToLower(feed.Name)
		if strings.Contains(name, "cisa") || strings.Contains(name, "kev") {
			kevWeight = s.weights.KEVWeight
		}
	}

	final := clamp(base*assetWeight+countWeight+pirWeight+kevWeight, 0.0, 10.0)
	level := models.RiskLevelFromScore(final)

	bd, _ := json.Marshal(breakdown{
		BaseScore:     base,
		AssetWeight:   assetWeight,
		AffectedCount: affectedCount,
		CountWeight:   countWeight,
		PIRWeight:     pirWeight,
		KEVWeight:     kevWeight,
		FinalScore:    final,
		Formula:       "clamp(base * asset_weight + count_weight + pir_weight + kev_weight, 0, 10)",
	})

	assessment := &models.RiskAssessment{
		ThreatID:      threatID,
		AssociationID: associationID,
		BaseScore:     base,
		AssetWeight:   assetWeight,
		AffectedCount: affectedCount,
		CountWeight:   countWeight,
		PIRWeight:     pirWeight,
		KEVWeight:     kevWeight,
		FinalScore:    final,
		Level:         level,
		Breakdown:     bd,
	}
	if existing, err := s.assessments.GetByAssociation(ctx, associationID); err == nil {
		assessment.ID = existing.ID
	}

	if err := s.assessments.Upsert(ctx, assessment); err != nil {
		return nil, fmt.Errorf("persisting assessment: %w", err)
	}
	if err := s.assessments.AppendHistory(ctx, &models.RiskAssessmentHistory{
		AssessmentID: assessment.ID,
		ThreatID:     threatID,
		FinalScore:   final,
		Level:        level,
		Breakdown:    bd,
	}); err != nil {
		return nil, fmt.Errorf("appending history: %w", err)
	}

	s.bus.Publish(events.RiskAssessmentCompleted, events.RiskAssessmentCompletedPayload{
		ThreatID:      threatID,
		AssociationID: associationID,
		AssessmentID:  assessment.ID,
		FinalScore:    final,
		Level:         level,
		AffectedCount: affectedCount,
		Timestamp:     time.Now().UTC(),
	})

	s.log.Info("risk assessment completed",
		"threat_id", threatID, "association_id", associationID,
		"final", final, "level", level, "affected", affectedCount)
	return assessment, nil
}

// assetWeight is the mean importance of every asset associated with the
// threat. Unloadable assets are skipped.
func (s *Scorer) assetWeight(ctx context.Context, associations []models.Association) (float64, int) {
	sum := 0.0
	count := 0
	for _, assoc := range associations {
		asset, err := s.assets.GetByID(ctx, assoc.AssetID)
		if err != nil {
			s.log.Warn("skipping unloadable asset", "asset_id", assoc.AssetID, "error", err)
			continue
		}
		sum += asset.ImportanceWeight()
		count++
	}
	if count == 0 {
		return 0.0, 0
	}
	return sum / float64(count), count
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
