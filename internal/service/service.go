// Package service implements the authorized command layer in front of the
// pipeline. Every mutating command passes the permission gate and leaves an
// audit trail; denials are recorded the same way as successes.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/quantumlayerhq/aetim/internal/events"
	"github.com/quantumlayerhq/aetim/internal/repository"
	"github.com/quantumlayerhq/aetim/pkg/audit"
	"github.com/quantumlayerhq/aetim/pkg/auth"
	"github.com/quantumlayerhq/aetim/pkg/authz"
	"github.com/quantumlayerhq/aetim/pkg/database"
	"github.com/quantumlayerhq/aetim/pkg/logger"
	"github.com/quantumlayerhq/aetim/pkg/models"
)

// CollectionScheduler is the scheduling surface the feed commands drive.
type CollectionScheduler interface {
	AddFeed(feed models.Feed) error
	UpdateFeed(feed models.Feed) error
	RemoveFeed(feedID uuid.UUID)
	RunNow(ctx context.Context, feedID uuid.UUID) error
}

// Correlator re-runs correlation when the inventory changes.
type Correlator interface {
	RecorrelateAsset(ctx context.Context, asset *models.Asset) error
	CorrelateThreat(ctx context.Context, threatID uuid.UUID) ([]models.Association, error)
}

// TicketManager is the ticket surface the ticket commands drive.
type TicketManager interface {
	UpdateStatus(ctx context.Context, reportID uuid.UUID, next models.TicketStatus) error
	Export(ctx context.Context, reportID uuid.UUID, format models.ReportFormat) ([]byte, error)
	ExportBatch(ctx context.Context) ([]byte, error)
}

// AuditLog receives the trail entries the commands emit and answers
// filtered queries over the trail.
type AuditLog interface {
	LogAsync(ctx context.Context, entry audit.Entry)
	Query(ctx context.Context, filters audit.QueryFilters) ([]audit.Row, error)
}

// Service is the authorized command layer.
type Service struct {
	db            *database.DB
	gate          *authz.Gate
	sink          AuditLog
	bus           *events.Bus
	feeds         *repository.Feeds
	threats       *repository.Threats
	assets        *repository.Assets
	pirs          *repository.PIRs
	reports       *repository.Reports
	rules         *repository.NotificationRules
	notifications *repository.Notifications
	schedules     *repository.Schedules
	scheduler     CollectionScheduler
	correlator    Correlator
	tickets       TicketManager
	log           *logger.Logger
}

// New wires the command layer.
func New(
	db *database.DB,
	gate *authz.Gate,
	sink AuditLog,
	bus *events.Bus,
	feeds *repository.Feeds,
	threats *repository.Threats,
	assets *repository.Assets,
	pirs *repository.PIRs,
	reports *repository.Reports,
	rules *repository.NotificationRules,
	notifications *repository.Notifications,
	schedules *repository.Schedules,
	scheduler CollectionScheduler,
	correlator Correlator,
	tickets TicketManager,
	log *logger.Logger,
) *Service {
	return &Service{
		db:            db,
		gate:          gate,
		sink:          sink,
		bus:           bus,
		feeds:         feeds,
		threats:       threats,
		assets:        assets,
		pirs:          pirs,
		reports:       reports,
		rules:         rules,
		notifications: notifications,
		schedules:     schedules,
		scheduler:     scheduler,
		correlator:    correlator,
		tickets:       tickets,
		log:           log.WithComponent("service"),
	}
}

// authorize gates one command. Denials are audited before returning.
func (s *Service) authorize(ctx context.Context, resource authz.Resource, action authz.Action, resourceID *string) (auth.Principal, error) {
	p := auth.PrincipalFromContext(ctx)
	if err := s.gate.Require(ctx, p, resource, action); err != nil {
		s.sink.LogAsync(ctx, audit.Entry{
			SubjectID:    &p.SubjectID,
			ActorType:    actorType(p),
			OriginIP:     p.OriginIP,
			UserAgent:    p.UserAgent,
			Verb:         verbFor(action),
			ResourceKind: string(resource),
			ResourceID:   resourceID,
			Details:      map[string]interface{}{"reason": err.Error()},
			Status:       audit.StatusDenied,
		})
		return p, err
	}
	return p, nil
}

// record audits the outcome of an authorized command.
func (s *Service) record(ctx context.Context, p auth.Principal, verb audit.Verb, resource authz.Resource, resourceID *string, cmdErr error, details map[string]interface{}) {
	status := audit.StatusSuccess
	if cmdErr != nil {
		status = audit.StatusFailure
		if details == nil {
			details = map[string]interface{}{}
		}
		details["error"] = cmdErr.Error()
	}
	s.sink.LogAsync(ctx, audit.Entry{
		SubjectID:    &p.SubjectID,
		ActorType:    actorType(p),
		OriginIP:     p.OriginIP,
		UserAgent:    p.UserAgent,
		Verb:         verb,
		ResourceKind: string(resource),
		ResourceID:   resourceID,
		Details:      details,
		Status:       status,
	})
}

func actorType(p auth.Principal) audit.ActorType {
	if p.SubjectID == "system" {
		return audit.ActorTypeSystem
	}
	return audit.ActorTypeUser
}

func verbFor(action authz.Action) audit.Verb {
	switch action {
	case authz.ActionCreate:
		return audit.VerbCreate
	case authz.ActionUpdate:
		return audit.VerbUpdate
	case authz.ActionDelete:
		return audit.VerbDelete
	case authz.ActionToggle:
		return audit.VerbToggle
	case authz.ActionImport:
		return audit.VerbImport
	case authz.ActionExport:
		return audit.VerbExport
	default:
		return audit.VerbView
	}
}

func idStr(id uuid.UUID) *string {
	s := id.String()
	return &s
}
