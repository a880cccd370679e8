package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/aetim/pkg/audit"
	"github.com/quantumlayerhq/aetim/pkg/authz"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// UpdateTicketStatus moves a ticket along its state machine.
func (s *Service) UpdateTicketStatus(ctx context.Context, ticketID uuid.UUID, next models.TicketStatus) error {
	p, err := s.authorize(ctx, authz.ResourceTickets, authz.ActionUpdate, idStr(ticketID))
	if err != nil {
		return err
	}

	err = s.tickets.UpdateStatus(ctx, ticketID, next)
	s.record(ctx, p, audit.VerbUpdate, authz.ResourceTickets, idStr(ticketID), err,
		map[string]interface{}{"status": next})
	return err
}

// ExportTicket renders one ticket in the requested format.
func (s *Service) ExportTicket(ctx context.Context, ticketID uuid.UUID, format models.ReportFormat) ([]byte, error) {
	p, err := s.authorize(ctx, authz.ResourceTickets, authz.ActionExport, idStr(ticketID))
	if err != nil {
		return nil, err
	}

	data, err := s.tickets.Export(ctx, ticketID, format)
	s.record(ctx, p, audit.VerbExport, authz.ResourceTickets, idStr(ticketID), err,
		map[string]interface{}{"format": format})
	return data, err
}

// ExportTickets renders the batch export envelope.
func (s *Service) ExportTickets(ctx context.Context) ([]byte, error) {
	p, err := s.authorize(ctx, authz.ResourceTickets, authz.ActionExport, nil)
	if err != nil {
		return nil, err
	}

	data, err := s.tickets.ExportBatch(ctx)
	s.record(ctx, p, audit.VerbExport, authz.ResourceTickets, nil, err, nil)
	return data, err
}

// ListTickets returns every ticket record.
func (s *Service) ListTickets(ctx context.Context) ([]models.Report, error) {
	if _, err := s.authorize(ctx, authz.ResourceTickets, authz.ActionView, nil); err != nil {
		return nil, err
	}
	return s.reports.ListTickets(ctx)
}

// ListReports returns report records of one kind.
func (s *Service) ListReports(ctx context.Context, kind models.ReportKind, limit int) ([]models.Report, error) {
	if _, err := s.authorize(ctx, authz.ResourceReports, authz.ActionView, nil); err != nil {
		return nil, err
	}
	return s.reports.ListByKind(ctx, kind, limit)
}
