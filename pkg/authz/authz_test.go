package authz

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlayerhq/aetim/pkg/auth"
)

func TestGateRequire(t *testing.T) {
	gate := NewGate(nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		roles    []string
		resource Resource
		action   Action
		allowed  bool
	}{
		{"admin wildcard", []string{RoleAdmin}, ResourceAudit, ActionExport, true},
		{"system wildcard", []string{RoleSystem}, ResourceThreats, ActionCreate, true},
		{"operator creates feed", []string{RoleOperator}, ResourceFeeds, ActionCreate, true},
		{"operator toggles pir", []string{RoleOperator}, ResourcePIRs, ActionToggle, true},
		{"operator cannot export audit", []string{RoleOperator}, ResourceAudit, ActionExport, false},
		{"analyst views threat", []string{RoleAnalyst}, ResourceThreats, ActionView, true},
		{"analyst cannot delete feed", []string{RoleAnalyst}, ResourceFeeds, ActionDelete, false},
		{"viewer read only", []string{RoleViewer}, ResourceReports, ActionView, true},
		{"viewer cannot export", []string{RoleViewer}, ResourceReports, ActionExport, false},
		{"no roles denied", nil, ResourceFeeds, ActionView, false},
		{"unknown role denied", []string{"intern"}, ResourceFeeds, ActionView, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := auth.Principal{SubjectID: "u1", Roles: tt.roles}
			err := gate.Require(ctx, p, tt.resource, tt.action)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, IsPermissionDenied(err))
			}
		})
	}
}

func TestPermissionDeniedErrorMessage(t *testing.T) {
	err := &PermissionDeniedError{
		SubjectID: "alice",
		Resource:  ResourceFeeds,
		Action:    ActionDelete,
		Reason:    "no matching permission",
	}
	assert.Contains(t, err.Error(), "alice")
	assert.Contains(t, err.Error(), "delete")
	assert.Contains(t, err.Error(), "feeds")
}

func TestGateStoredRolesSupplementToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT r.name").
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow(RoleOperator))

	gate := NewGate(db)
	p := auth.Principal{SubjectID: "bob", Roles: []string{RoleViewer}}

	// The token alone allows only viewing; the stored operator role is
	// what grants the create.
	err = gate.Require(context.Background(), p, ResourceFeeds, ActionCreate)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGateRoleLookupFailureDenies(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT r.name").
		WithArgs("bob").
		WillReturnError(context.DeadlineExceeded)

	gate := NewGate(db)
	p := auth.Principal{SubjectID: "bob", Roles: []string{RoleAdmin}}

	err = gate.Require(context.Background(), p, ResourceFeeds, ActionView)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role lookup failed")
}

func TestAssignRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO subject_roles").
		WithArgs("bob", RoleAnalyst, "admin-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	gate := NewGate(db)
	require.NoError(t, gate.AssignRole(context.Background(), "bob", RoleAnalyst, "admin-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignUnknownRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO subject_roles").
		WithArgs("bob", "intern", "admin-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	gate := NewGate(db)
	err = gate.AssignRole(context.Background(), "bob", "intern", "admin-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRevokeRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM subject_roles").
		WithArgs("bob", RoleAnalyst).
		WillReturnResult(sqlmock.NewResult(0, 1))

	gate := NewGate(db)
	require.NoError(t, gate.RevokeRole(context.Background(), "bob", RoleAnalyst))
	assert.NoError(t, mock.ExpectationsWereMet())
}
