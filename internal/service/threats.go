package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/aetim/pkg/audit"
	"github.com/quantumlayerhq/aetim/pkg/authz"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// UpdateThreatStatus moves a threat along its lifecycle. The pipeline drives
// New through Processed on its own; this command exists for analyst triage,
// closing included.
func (s *Service) UpdateThreatStatus(ctx context.Context, threatID uuid.UUID, next models.ThreatStatus) error {
	p, err := s.authorize(ctx, authz.ResourceThreats, authz.ActionUpdate, idStr(threatID))
	if err != nil {
		return err
	}

	threat, err := s.threats.GetByID(ctx, threatID)
	if err == nil {
		if err = threat.Transition(next); err == nil {
			err = s.threats.UpdateStatus(ctx, threatID, next)
		}
	}
	s.record(ctx, p, audit.VerbUpdate, authz.ResourceThreats, idStr(threatID), err,
		map[string]interface{}{"status": next})
	return err
}

// ListThreats returns threats in one lifecycle state, newest first.
func (s *Service) ListThreats(ctx context.Context, status models.ThreatStatus, limit int) ([]models.Threat, error) {
	if _, err := s.authorize(ctx, authz.ResourceThreats, authz.ActionView, nil); err != nil {
		return nil, err
	}
	return s.threats.ListByStatus(ctx, status, limit)
}
