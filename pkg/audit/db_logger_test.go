package audit

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var eventColumns = []string{
	"id", "timestamp", "event_type", "risk_level",
	"user_id", "username", "organization_id",
	"resource_type", "resource_id", "action",
	"description", "details", "changes",
	"ip_address", "user_agent", "endpoint", "method", "request_id",
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnResult(sqlmock.NewResult(0, 0))

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnError(errors.New("permission denied"))

		logger, err := NewDBLogger(db)
		assert.Nil(t, logger)
		assert.ErrorContains(t, err, "failed to ensure audit_events table")
	})
}

func TestDBLogger_Log(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &DBLogger{db: db}

	userID, orgID := int64(7), int64(3)
	event := &AuditEvent{
		Timestamp:      time.Now(),
		EventType:      EventOrgBoundaryViolation,
		RiskLevel:      RiskHigh,
		UserID:         &userID,
		Username:       "alice",
		OrganizationID: &orgID,
		ResourceType:   "organization",
		ResourceID:     "11",
		Action:         "view_organization",
		Details:        map[string]interface{}{"target_organization_id": 11},
	}

	mock.ExpectQuery("INSERT INTO audit_events").
		WithArgs(
			sqlmock.AnyArg(), "security.org_boundary_violation", "high",
			&userID, "alice", &orgID,
			"organization", "11", "view_organization",
			"", []byte(`{"target_organization_id":11}`), sqlmock.AnyArg(),
			"", "", "", "", "",
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(42), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_LogError(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &DBLogger{db: db}

	mock.ExpectQuery("INSERT INTO audit_events").WillReturnError(errors.New("connection refused"))

	err := logger.Log(context.Background(), &AuditEvent{EventType: EventDataAccess, RiskLevel: RiskLow})
	assert.ErrorContains(t, err, "failed to insert audit event")
}

func TestDBLogger_Search(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &DBLogger{db: db}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	filter := SearchFilter{
		StartTime:       &start,
		OrganizationIDs: []int64{3, 4},
		EventTypes:      []EventType{EventPermissionDenied},
		RiskLevels:      []RiskLevel{RiskMedium, RiskHigh},
		Limit:           10,
		Offset:          20,
		SortBy:          "risk_level",
		SortOrder:       "asc",
	}

	now := time.Now()
	rows := sqlmock.NewRows(eventColumns).
		AddRow(1, now, "authz.permission_denied", "medium", 7, "alice", 3, "order", "55", "cancel_order",
			"status not allowed", []byte(`{"code":"status_not_allowed"}`), nil, "10.0.0.5", "ua", "/orders/55", "DELETE", "r1").
		AddRow(2, now, "authz.permission_denied", "high", nil, "", 4, "", "", "", "", nil, []byte(`{"before":{"a":1}}`), "", "", "", "", "")

	mock.ExpectQuery(regexp.QuoteMeta("organization_id = ANY($2)") + ".*" + regexp.QuoteMeta("ORDER BY risk_level ASC LIMIT $5 OFFSET $6")).
		WithArgs(start, pq.Array([]int64{3, 4}), pq.Array([]string{"authz.permission_denied"}), pq.Array([]string{"medium", "high"}), 10, 20).
		WillReturnRows(rows)

	events, err := logger.Search(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventPermissionDenied, events[0].EventType)
	require.NotNil(t, events[0].UserID)
	assert.Equal(t, int64(7), *events[0].UserID)
	assert.Equal(t, "status_not_allowed", events[0].Details["code"])

	assert.Nil(t, events[1].UserID)
	require.NotNil(t, events[1].Changes)
	assert.EqualValues(t, 1, events[1].Changes.Before["a"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_SearchRejectsUnknownSortColumn(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &DBLogger{db: db}

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY timestamp DESC")).
		WillReturnRows(sqlmock.NewRows(eventColumns))

	_, err := logger.Search(context.Background(), SearchFilter{SortBy: "id; DROP TABLE audit_events"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_SearchEmptyOrganizationScope(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &DBLogger{db: db}

	mock.ExpectQuery(regexp.QuoteMeta("organization_id = ANY($1)")).
		WithArgs(pq.Array([]int64{})).
		WillReturnRows(sqlmock.NewRows(eventColumns))

	events, err := logger.Search(context.Background(), SearchFilter{OrganizationIDs: []int64{}})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Get(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &DBLogger{db: db}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(eventColumns).
			AddRow(5, time.Now(), "data.access", "low", 7, "alice", 3, "part", "9", "view_part", "", nil, nil, "", "", "", "", ""))

	event, err := logger.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), event.ID)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows(eventColumns))

	_, err = logger.Get(context.Background(), 6)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_GetStats(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &DBLogger{db: db}

	orgScope := pq.Array([]int64{3})
	count := func(n int64) *sqlmock.Rows { return sqlmock.NewRows([]string{"count"}).AddRow(n) }

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_events")).WithArgs(orgScope).WillReturnRows(count(10))
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(DISTINCT user_id)")).WithArgs(orgScope).WillReturnRows(count(2))
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(DISTINCT ip_address)")).WithArgs(orgScope).WillReturnRows(count(3))
	mock.ExpectQuery(regexp.QuoteMeta("event_type = 'auth.login_failed'")).WithArgs(orgScope).WillReturnRows(count(1))
	mock.ExpectQuery(regexp.QuoteMeta("event_type = 'authz.permission_denied'")).WithArgs(orgScope).WillReturnRows(count(4))
	mock.ExpectQuery(regexp.QuoteMeta("risk_level IN ('high', 'critical')")).WithArgs(orgScope).WillReturnRows(count(2))
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY event_type")).WithArgs(orgScope).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "count"}).
			AddRow("authz.permission_denied", 4).
			AddRow("data.access", 6))
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY risk_level")).WithArgs(orgScope).
		WillReturnRows(sqlmock.NewRows([]string{"risk_level", "count"}).
			AddRow("low", 6).
			AddRow("medium", 2).
			AddRow("high", 2))
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY organization_id")).WithArgs(orgScope).
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "count"}).AddRow(3, 10))

	stats, err := logger.GetStats(context.Background(), SearchFilter{OrganizationIDs: []int64{3}})
	require.NoError(t, err)

	assert.Equal(t, int64(10), stats.TotalEvents)
	assert.Equal(t, int64(2), stats.UniqueUsers)
	assert.Equal(t, int64(3), stats.UniqueIPs)
	assert.Equal(t, int64(1), stats.FailedLogins)
	assert.Equal(t, int64(4), stats.PermissionDenials)
	assert.Equal(t, int64(2), stats.HighRiskEvents)
	assert.Equal(t, int64(4), stats.EventsByType[EventPermissionDenied])
	assert.Equal(t, int64(2), stats.EventsByRiskLevel[RiskHigh])
	assert.Equal(t, int64(10), stats.EventsByOrganization[3])
	assert.Nil(t, stats.TimeRange)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_DeleteBefore(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &DBLogger{db: db}

	cutoff := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_events WHERE timestamp <= $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := logger.DeleteBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
}
