package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Directory is the read-only organization lookup the authorization core depends on
type Directory interface {
	// GetOrganization returns the organization or ErrOrganizationNotFound
	GetOrganization(ctx context.Context, id int64) (*Organization, error)

	// ListOrganizations returns organizations matching the filter, ordered by id
	ListOrganizations(ctx context.Context, filter ListFilter) ([]*Organization, error)
}

// ChangeHook is invoked after an organization record is written
type ChangeHook func(ctx context.Context, orgID int64)

// PostgresDirectory implements Directory on top of the organizations table
type PostgresDirectory struct {
	db       *sql.DB
	onChange ChangeHook
}

// NewPostgresDirectory creates a new PostgresDirectory
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// OnChange registers a hook run after every successful write
func (d *PostgresDirectory) OnChange(hook ChangeHook) {
	d.onChange = hook
}

const selectOrganization = `
	SELECT id, name, organization_type, parent_organization_id, is_active, created_at, updated_at
	FROM organizations
`

// GetOrganization retrieves an organization by ID
func (d *PostgresDirectory) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	row := d.db.QueryRowContext(ctx, selectOrganization+" WHERE id = $1", id)
	org, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListOrganizations lists organizations matching filter
func (d *PostgresDirectory) ListOrganizations(ctx context.Context, filter ListFilter) ([]*Organization, error) {
	query := selectOrganization + " WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if filter.Type != nil {
		query += fmt.Sprintf(" AND organization_type = $%d", argCount)
		args = append(args, string(*filter.Type))
		argCount++
	}

	if filter.ParentID != nil {
		query += fmt.Sprintf(" AND parent_organization_id = $%d", argCount)
		args = append(args, *filter.ParentID)
		argCount++
	}

	if filter.IsActive != nil {
		query += fmt.Sprintf(" AND is_active = $%d", argCount)
		args = append(args, *filter.IsActive)
	}

	query += " ORDER BY id"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var out []*Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		out = append(out, org)
	}

	return out, rows.Err()
}

// CreateOrganization inserts a new organization
func (d *PostgresDirectory) CreateOrganization(ctx context.Context, org *Organization) error {
	if err := org.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO organizations (name, organization_type, parent_organization_id, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := d.db.QueryRowContext(ctx, query, org.Name, string(org.Type), nullableID(org.ParentOrganizationID), org.IsActive).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	d.notify(ctx, org.ID)
	return nil
}

// UpdateOrganization rewrites the hierarchy fields of an existing organization
func (d *PostgresDirectory) UpdateOrganization(ctx context.Context, org *Organization) error {
	if err := org.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE organizations
		SET name = $1, organization_type = $2, parent_organization_id = $3, is_active = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $5
	`
	result, err := d.db.ExecContext(ctx, query, org.Name, string(org.Type), nullableID(org.ParentOrganizationID), org.IsActive, org.ID)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	if n == 0 {
		return ErrOrganizationNotFound
	}

	d.notify(ctx, org.ID)
	return nil
}

func (d *PostgresDirectory) notify(ctx context.Context, orgID int64) {
	if d.onChange != nil {
		d.onChange(ctx, orgID)
	}
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func scanOrganization(scanner interface {
	Scan(dest ...interface{}) error
}) (*Organization, error) {
	var org Organization
	var orgType string
	var parentID sql.NullInt64

	if err := scanner.Scan(&org.ID, &org.Name, &orgType, &parentID, &org.IsActive, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, err
	}

	org.Type = OrganizationType(orgType)
	if parentID.Valid {
		pID := parentID.Int64
		org.ParentOrganizationID = &pID
	}

	return &org, nil
}
