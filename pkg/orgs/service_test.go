package orgs

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteDirectory(t *testing.T) (*PostgresDirectory, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE organizations (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			organization_type TEXT NOT NULL,
			parent_organization_id INTEGER,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := []struct {
		id     int64
		name   string
		typ    OrganizationType
		parent interface{}
		active bool
	}{
		{1, "Oraseas EE", TypeDistributor, nil, true},
		{2, "BossAqua", TypeBossAqua, nil, true},
		{3, "Customer One", TypeCustomer, nil, true},
		{4, "Supplier A", TypeSupplier, int64(3), true},
		{5, "Supplier B", TypeSupplier, int64(3), false},
	}
	for _, s := range seed {
		_, err := db.Exec(
			`INSERT INTO organizations (id, name, organization_type, parent_organization_id, is_active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			s.id, s.name, string(s.typ), s.parent, s.active, now, now,
		)
		require.NoError(t, err)
	}

	return NewPostgresDirectory(db), db
}

func TestPostgresDirectory_GetOrganization(t *testing.T) {
	dir, _ := setupSQLiteDirectory(t)
	ctx := context.Background()

	org, err := dir.GetOrganization(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Supplier A", org.Name)
	assert.Equal(t, TypeSupplier, org.Type)
	require.NotNil(t, org.ParentOrganizationID)
	assert.Equal(t, int64(3), *org.ParentOrganizationID)
	assert.True(t, org.IsActive)

	root, err := dir.GetOrganization(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, root.ParentOrganizationID)

	_, err = dir.GetOrganization(ctx, 99)
	assert.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestPostgresDirectory_ListOrganizations(t *testing.T) {
	dir, _ := setupSQLiteDirectory(t)
	ctx := context.Background()

	all, err := dir.ListOrganizations(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	supplier := TypeSupplier
	parent := int64(3)
	active := true

	suppliers, err := dir.ListOrganizations(ctx, ListFilter{Type: &supplier, ParentID: &parent})
	require.NoError(t, err)
	assert.Len(t, suppliers, 2)

	activeSuppliers, err := dir.ListOrganizations(ctx, ListFilter{Type: &supplier, ParentID: &parent, IsActive: &active})
	require.NoError(t, err)
	require.Len(t, activeSuppliers, 1)
	assert.Equal(t, int64(4), activeSuppliers[0].ID)

	inactive := false
	dormant, err := dir.ListOrganizations(ctx, ListFilter{IsActive: &inactive})
	require.NoError(t, err)
	require.Len(t, dormant, 1)
	assert.Equal(t, int64(5), dormant[0].ID)
}

func TestPostgresDirectory_UpdateOrganization(t *testing.T) {
	dir, _ := setupSQLiteDirectory(t)
	ctx := context.Background()

	var changed []int64
	dir.OnChange(func(ctx context.Context, orgID int64) { changed = append(changed, orgID) })

	org, err := dir.GetOrganization(ctx, 5)
	require.NoError(t, err)
	org.IsActive = true
	require.NoError(t, dir.UpdateOrganization(ctx, org))
	assert.Equal(t, []int64{5}, changed)

	reloaded, err := dir.GetOrganization(ctx, 5)
	require.NoError(t, err)
	assert.True(t, reloaded.IsActive)

	missing := &Organization{ID: 42, Name: "Ghost", Type: TypeCustomer}
	assert.ErrorIs(t, dir.UpdateOrganization(ctx, missing), ErrOrganizationNotFound)

	orphan := &Organization{ID: 4, Name: "Orphan", Type: TypeSupplier}
	assert.ErrorIs(t, dir.UpdateOrganization(ctx, orphan), ErrSupplierWithoutParent)
	assert.Len(t, changed, 1)
}

func TestPostgresDirectory_CreateOrganization(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewPostgresDirectory(db)
	var changed int64
	dir.OnChange(func(ctx context.Context, orgID int64) { changed = orgID })

	now := time.Now()
	parent := int64(3)
	mock.ExpectQuery("INSERT INTO organizations").
		WithArgs("Supplier C", "supplier", int64(3), true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(6, now, now))

	org := &Organization{Name: "Supplier C", Type: TypeSupplier, ParentOrganizationID: &parent, IsActive: true}
	require.NoError(t, dir.CreateOrganization(context.Background(), org))
	assert.Equal(t, int64(6), org.ID)
	assert.Equal(t, int64(6), changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDirectory_QueryErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewPostgresDirectory(db)
	boom := errors.New("connection reset")

	mock.ExpectQuery("SELECT id, name, organization_type").WithArgs(int64(1)).WillReturnError(boom)
	_, err = dir.GetOrganization(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrOrganizationNotFound)

	mock.ExpectQuery("SELECT id, name, organization_type").WillReturnError(boom)
	_, err = dir.ListOrganizations(context.Background(), ListFilter{})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}
