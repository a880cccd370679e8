package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantumlayerhq/aetim/pkg/audit"
	"github.com/quantumlayerhq/aetim/pkg/authz"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

var knownConditionTypes = map[models.PIRConditionType]bool{
	models.PIRConditionProductName: true,
	models.PIRConditionCVEID:       true,
	models.PIRConditionThreatType:  true,
	models.PIRConditionCVSSScore:   true,
}

func validatePIR(pir *models.PIR) error {
	if pir.Name == "" {
		return &models.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !knownConditionTypes[pir.ConditionType] {
		return &models.ValidationError{Field: "conditionType", Message: fmt.Sprintf("unknown condition type %q", pir.ConditionType)}
	}
	if pir.ConditionValue == "" {
		return &models.ValidationError{Field: "conditionValue", Message: "must not be empty"}
	}
	return nil
}

// CreatePIR registers a priority intelligence requirement.
func (s *Service) CreatePIR(ctx context.Context, pir *models.PIR) error {
	p, err := s.authorize(ctx, authz.ResourcePIRs, authz.ActionCreate, nil)
	if err != nil {
		return err
	}
	if err := validatePIR(pir); err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.pirs.WithTx(tx).Create(ctx, pir)
	})
	s.record(ctx, p, audit.VerbCreate, authz.ResourcePIRs, idStr(pir.ID), err,
		map[string]interface{}{"name": pir.Name, "condition_type": pir.ConditionType})
	return err
}

// UpdatePIR rewrites a requirement.
func (s *Service) UpdatePIR(ctx context.Context, pir *models.PIR) error {
	p, err := s.authorize(ctx, authz.ResourcePIRs, authz.ActionUpdate, idStr(pir.ID))
	if err != nil {
		return err
	}
	if err := validatePIR(pir); err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.pirs.WithTx(tx).Update(ctx, pir)
	})
	s.record(ctx, p, audit.VerbUpdate, authz.ResourcePIRs, idStr(pir.ID), err, nil)
	return err
}

// TogglePIR enables or disables a requirement.
func (s *Service) TogglePIR(ctx context.Context, pirID uuid.UUID, enabled bool) error {
	p, err := s.authorize(ctx, authz.ResourcePIRs, authz.ActionToggle, idStr(pirID))
	if err != nil {
		return err
	}

	pir, err := s.pirs.GetByID(ctx, pirID)
	if err == nil {
		pir.Enabled = enabled
		err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
			return s.pirs.WithTx(tx).Update(ctx, pir)
		})
	}
	s.record(ctx, p, audit.VerbToggle, authz.ResourcePIRs, idStr(pirID), err,
		map[string]interface{}{"enabled": enabled})
	return err
}

// DeletePIR removes a requirement.
func (s *Service) DeletePIR(ctx context.Context, pirID uuid.UUID) error {
	p, err := s.authorize(ctx, authz.ResourcePIRs, authz.ActionDelete, idStr(pirID))
	if err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.pirs.WithTx(tx).Delete(ctx, pirID)
	})
	s.record(ctx, p, audit.VerbDelete, authz.ResourcePIRs, idStr(pirID), err, nil)
	return err
}

// ListPIRs returns every requirement.
func (s *Service) ListPIRs(ctx context.Context) ([]models.PIR, error) {
	if _, err := s.authorize(ctx, authz.ResourcePIRs, authz.ActionView, nil); err != nil {
		return nil, err
	}
	return s.pirs.List(ctx)
}
