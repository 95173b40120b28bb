package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_LogAndRead(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)

	ctx := context.Background()
	for _, event := range sampleEvents() {
		require.NoError(t, logger.Log(ctx, event))
	}

	events, err := logger.ReadLogs(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventPermissionDenied, events[0].EventType)

	first, err := logger.ReadLogs(1)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	require.NoError(t, logger.Close())
	assert.Error(t, logger.Log(ctx, sampleEvents()[0]))
}

func TestFileLogger_Rotation(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{
		BasePath: dir,
		Rotate:   true,
		MaxSize:  200,
		MaxFiles: 2,
	})
	require.NoError(t, err)
	defer logger.Close()

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	logger.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, logger.Log(ctx, &AuditEvent{
			ID:          int64(i),
			EventType:   EventDataAccess,
			RiskLevel:   RiskLow,
			Description: "padding padding padding padding padding padding",
		}))
	}

	rotated, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 2)

	active, err := logger.ReadLogs(0)
	require.NoError(t, err)
	assert.NotEmpty(t, active)
	assert.Equal(t, int64(19), active[len(active)-1].ID)
}
