// Package authz provides the authorisation gate consulted before every
// mutating command.
package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // postgres driver for the role store

	"github.com/quantumlayerhq/aetim/pkg/auth"
)

// Action represents an operation that can be performed on a resource.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionToggle Action = "toggle"
	ActionImport Action = "import"
	ActionExport Action = "export"
)

// Resource represents a kind of entity in the system.
type Resource string

const (
	ResourceFeeds         Resource = "feeds"
	ResourceThreats       Resource = "threats"
	ResourceAssets        Resource = "assets"
	ResourcePIRs          Resource = "pirs"
	ResourceReports       Resource = "reports"
	ResourceTickets       Resource = "tickets"
	ResourceNotifications Resource = "notifications"
	ResourceSchedules     Resource = "schedules"
	ResourceAudit         Resource = "audit"
)

// Built-in roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleAnalyst  = "analyst"
	RoleViewer   = "viewer"
	RoleSystem   = "system"
)

// matrix maps role -> resource -> allowed actions. The admin and system
// roles are handled as wildcards in allows().
var matrix = map[string]map[Resource][]Action{
	RoleOperator: {
		ResourceFeeds:         {ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionToggle, ActionImport},
		ResourceThreats:       {ActionView, ActionUpdate, ActionImport},
		ResourceAssets:        {ActionView, ActionUpdate, ActionImport},
		ResourcePIRs:          {ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionToggle},
		ResourceReports:       {ActionView, ActionExport},
		ResourceTickets:       {ActionView, ActionUpdate, ActionExport},
		ResourceNotifications: {ActionView, ActionCreate, ActionUpdate, ActionToggle},
		ResourceSchedules:     {ActionView, ActionCreate, ActionUpdate, ActionDelete},
	},
	RoleAnalyst: {
		ResourceFeeds:   {ActionView},
		ResourceThreats: {ActionView, ActionUpdate},
		ResourceAssets:  {ActionView},
		ResourcePIRs:    {ActionView, ActionCreate, ActionUpdate},
		ResourceReports: {ActionView, ActionExport},
		ResourceTickets: {ActionView, ActionUpdate, ActionExport},
	},
	RoleViewer: {
		ResourceFeeds:         {ActionView},
		ResourceThreats:       {ActionView},
		ResourceAssets:        {ActionView},
		ResourcePIRs:          {ActionView},
		ResourceReports:       {ActionView},
		ResourceTickets:       {ActionView},
		ResourceNotifications: {ActionView},
		ResourceSchedules:     {ActionView},
	},
}

// Gate checks (principal, operation) pairs against the role/permission
// matrix. Role assignments persisted in the role store supplement the roles
// carried by the token.
type Gate struct {
	db *sql.DB
}

// NewGate creates a gate backed by the given role store. db may be nil, in
// which case only token-carried roles are considered.
func NewGate(db *sql.DB) *Gate {
	return &Gate{db: db}
}

// Require returns a PermissionDeniedError if the principal may not perform
// the action on the resource.
func (g *Gate) Require(ctx context.Context, p auth.Principal, resource Resource, action Action) error {
	roles := p.Roles

	if g.db != nil {
		stored, err := g.storedRoles(ctx, p.SubjectID)
		if err != nil {
			return fmt.Errorf("role lookup failed: %w", err)
		}
		roles = append(roles, stored...)
	}

	for _, role := range roles {
		if allows(role, resource, action) {
			return nil
		}
	}

	return &PermissionDeniedError{
		SubjectID: p.SubjectID,
		Resource:  resource,
		Action:    action,
		Reason:    "no matching permission",
	}
}

func allows(role string, resource Resource, action Action) bool {
	if role == RoleAdmin || role == RoleSystem {
		return true
	}
	for _, a := range matrix[role][resource] {
		if a == action {
			return true
		}
	}
	return false
}

// storedRoles returns the roles assigned to a subject in the role store.
func (g *Gate) storedRoles(ctx context.Context, subjectID string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT r.name
		FROM roles r
		JOIN subject_roles sr ON r.id = sr.role_id
		WHERE sr.subject_id = $1
		AND (sr.expires_at IS NULL OR sr.expires_at > NOW())
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, name)
	}

	return roles, rows.Err()
}

// AssignRole assigns a role to a subject in the role store.
func (g *Gate) AssignRole(ctx context.Context, subjectID, roleName, assignedBy string) error {
	if g.db == nil {
		return errors.New("role store not configured")
	}

	res, err := g.db.ExecContext(ctx, `
		INSERT INTO subject_roles (subject_id, role_id, assigned_by)
		SELECT $1, r.id, $3 FROM roles r WHERE r.name = $2
		ON CONFLICT (subject_id, role_id) DO UPDATE SET assigned_by = $3
	`, subjectID, roleName, assignedBy)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("role %q not found", roleName)
	}

	return nil
}

// RevokeRole revokes a role from a subject.
func (g *Gate) RevokeRole(ctx context.Context, subjectID, roleName string) error {
	if g.db == nil {
		return errors.New("role store not configured")
	}

	res, err := g.db.ExecContext(ctx, `
		DELETE FROM subject_roles sr
		USING roles r
		WHERE sr.role_id = r.id AND sr.subject_id = $1 AND r.name = $2
	`, subjectID, roleName)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("role assignment not found")
	}

	return nil
}

// PermissionDeniedError represents a gate denial.
type PermissionDeniedError struct {
	SubjectID string
	Resource  Resource
	Action    Action
	Reason    string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: subject %s cannot %s on %s: %s",
		e.SubjectID, e.Action, e.Resource, e.Reason)
}

// IsPermissionDenied checks if an error is a permission denied error.
func IsPermissionDenied(err error) bool {
	var pde *PermissionDeniedError
	return errors.As(err, &pde)
}
