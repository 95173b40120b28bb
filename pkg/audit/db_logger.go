package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// DBLogger implements audit logging to PostgreSQL database
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_events table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		risk_level VARCHAR(16) NOT NULL,
		user_id BIGINT,
		username VARCHAR(255) NOT NULL DEFAULT '',
		organization_id BIGINT,
		resource_type VARCHAR(64) NOT NULL DEFAULT '',
		resource_id VARCHAR(255) NOT NULL DEFAULT '',
		action VARCHAR(100) NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		details JSONB,
		changes JSONB,
		ip_address VARCHAR(45) NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		endpoint TEXT NOT NULL DEFAULT '',
		method VARCHAR(10) NOT NULL DEFAULT '',
		request_id VARCHAR(100) NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_risk_level ON audit_events(risk_level);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_organization_id ON audit_events(organization_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
	`

	_, err := l.db.Exec(query)
	return err
}

const selectEvent = `
	SELECT
		id, timestamp, event_type, risk_level,
		user_id, username, organization_id,
		resource_type, resource_id, action,
		description, details, changes,
		ip_address, user_agent, endpoint, method, request_id
	FROM audit_events
`

// sortableColumns whitelists SearchFilter.SortBy values
var sortableColumns = map[string]bool{
	"id":              true,
	"timestamp":       true,
	"event_type":      true,
	"risk_level":      true,
	"user_id":         true,
	"organization_id": true,
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var detailsJSON, changesJSON []byte
	var err error

	if event.Details != nil {
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	if event.Changes != nil {
		changesJSON, err = json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			timestamp, event_type, risk_level,
			user_id, username, organization_id,
			resource_type, resource_id, action,
			description, details, changes,
			ip_address, user_agent, endpoint, method, request_id
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16, $17
		) RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.RiskLevel),
		event.UserID, event.Username, event.OrganizationID,
		event.ResourceType, event.ResourceID, event.Action,
		event.Description, detailsJSON, changesJSON,
		event.IPAddress, event.UserAgent, event.Endpoint, event.Method, event.RequestID,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// buildWhere renders the filter (without pagination or ordering) as a WHERE clause
func buildWhere(filter SearchFilter) (string, []interface{}) {
	clause := "WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		clause += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		clause += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.UserID != nil {
		clause += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if filter.OrganizationIDs != nil {
		clause += fmt.Sprintf(" AND organization_id = ANY($%d)", argCount)
		args = append(args, pq.Array(filter.OrganizationIDs))
		argCount++
	}

	if len(filter.EventTypes) > 0 {
		clause += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		eventTypes := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypes[i] = string(et)
		}
		args = append(args, pq.Array(eventTypes))
		argCount++
	}

	if len(filter.RiskLevels) > 0 {
		clause += fmt.Sprintf(" AND risk_level = ANY($%d)", argCount)
		levels := make([]string, len(filter.RiskLevels))
		for i, lvl := range filter.RiskLevels {
			levels[i] = string(lvl)
		}
		args = append(args, pq.Array(levels))
		argCount++
	}

	if filter.ResourceType != "" {
		clause += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, filter.ResourceType)
		argCount++
	}

	if filter.ResourceID != "" {
		clause += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	if filter.Action != "" {
		clause += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, filter.Action)
		argCount++
	}

	if filter.IPAddress != "" {
		clause += fmt.Sprintf(" AND ip_address = $%d", argCount)
		args = append(args, filter.IPAddress)
	}

	return clause, args
}

// Search searches audit logs based on filters
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	where, args := buildWhere(filter)
	query := selectEvent + where

	sortBy := "timestamp"
	if sortableColumns[filter.SortBy] {
		sortBy = filter.SortBy
	}
	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, order)

	argCount := len(args) + 1
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// Get retrieves a single event by id
func (l *DBLogger) Get(ctx context.Context, id int64) (*AuditEvent, error) {
	row := l.db.QueryRowContext(ctx, selectEvent+" WHERE id = $1", id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func scanEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (*AuditEvent, error) {
	event := &AuditEvent{}
	var eventType, riskLevel string
	var userID, orgID sql.NullInt64
	var detailsJSON, changesJSON []byte

	err := scanner.Scan(
		&event.ID, &event.Timestamp, &eventType, &riskLevel,
		&userID, &event.Username, &orgID,
		&event.ResourceType, &event.ResourceID, &event.Action,
		&event.Description, &detailsJSON, &changesJSON,
		&event.IPAddress, &event.UserAgent, &event.Endpoint, &event.Method, &event.RequestID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	event.EventType = EventType(eventType)
	event.RiskLevel = RiskLevel(riskLevel)
	if userID.Valid {
		id := userID.Int64
		event.UserID = &id
	}
	if orgID.Valid {
		id := orgID.Int64
		event.OrganizationID = &id
	}

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}

	if len(changesJSON) > 0 {
		event.Changes = &ChangeDetails{}
		if err := json.Unmarshal(changesJSON, event.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}

	return event, nil
}

// GetStats retrieves audit log statistics for events matching filter.
// Pagination and ordering fields are ignored.
func (l *DBLogger) GetStats(ctx context.Context, filter SearchFilter) (*AuditStats, error) {
	stats := &AuditStats{
		EventsByType:         make(map[EventType]int64),
		EventsByRiskLevel:    make(map[RiskLevel]int64),
		EventsByOrganization: make(map[int64]int64),
	}

	if filter.StartTime != nil || filter.EndTime != nil {
		stats.TimeRange = &TimeRange{}
		if filter.StartTime != nil {
			stats.TimeRange.Start = *filter.StartTime
		}
		if filter.EndTime != nil {
			stats.TimeRange.End = *filter.EndTime
		}
	}

	where, args := buildWhere(filter)

	counts := []struct {
		query string
		dest  *int64
		what  string
	}{
		{"SELECT COUNT(*) FROM audit_events " + where, &stats.TotalEvents, "total events"},
		{"SELECT COUNT(DISTINCT user_id) FROM audit_events " + where + " AND user_id IS NOT NULL", &stats.UniqueUsers, "unique users"},
		{"SELECT COUNT(DISTINCT ip_address) FROM audit_events " + where + " AND ip_address <> ''", &stats.UniqueIPs, "unique IPs"},
		{"SELECT COUNT(*) FROM audit_events " + where + " AND event_type = '" + string(EventLoginFailed) + "'", &stats.FailedLogins, "failed logins"},
		{"SELECT COUNT(*) FROM audit_events " + where + " AND event_type = '" + string(EventPermissionDenied) + "'", &stats.PermissionDenials, "permission denials"},
		{"SELECT COUNT(*) FROM audit_events " + where + " AND risk_level IN ('high', 'critical')", &stats.HighRiskEvents, "high risk events"},
	}
	for _, c := range counts {
		if err := l.db.QueryRowContext(ctx, c.query, args...).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", c.what, err)
		}
	}

	if err := l.groupCount(ctx, "event_type", where, args, func(key sql.NullString, n int64) {
		stats.EventsByType[EventType(key.String)] = n
	}); err != nil {
		return nil, err
	}

	if err := l.groupCount(ctx, "risk_level", where, args, func(key sql.NullString, n int64) {
		stats.EventsByRiskLevel[RiskLevel(key.String)] = n
	}); err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT organization_id, COUNT(*) FROM audit_events "+where+" AND organization_id IS NOT NULL GROUP BY organization_id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by organization: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var orgID, count int64
		if err := rows.Scan(&orgID, &count); err != nil {
			return nil, err
		}
		stats.EventsByOrganization[orgID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

func (l *DBLogger) groupCount(ctx context.Context, column, where string, args []interface{}, add func(sql.NullString, int64)) error {
	rows, err := l.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_events %s GROUP BY %s", column, where, column), args...)
	if err != nil {
		return fmt.Errorf("failed to get events by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key sql.NullString
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		add(key, count)
	}
	return rows.Err()
}

// DeleteBefore removes events with a timestamp at or before cutoff
func (l *DBLogger) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp <= $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database logger
func (l *DBLogger) Close() error {
	// We don't close the database connection as it may be shared
	return nil
}
