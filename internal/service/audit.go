package service

import (
	"context"

	"github.com/quantumlayerhq/aetim/pkg/audit"
	"github.com/quantumlayerhq/aetim/pkg/authz"
)

// QueryAuditEntries returns filtered entries from the audit trail. Reads of
// the trail are themselves audited.
func (s *Service) QueryAuditEntries(ctx context.Context, filters audit.QueryFilters) ([]audit.Row, error) {
	p, err := s.authorize(ctx, authz.ResourceAudit, authz.ActionView, nil)
	if err != nil {
		return nil, err
	}

	rows, err := s.sink.Query(ctx, filters)
	s.record(ctx, p, audit.VerbView, authz.ResourceAudit, nil, err, nil)
	return rows, err
}
