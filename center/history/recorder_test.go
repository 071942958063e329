package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ccfos/rds-slowsql-alert/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderRecord(t *testing.T) {
	db, err := models.OpenDB("sqlite", filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	r := NewRecorder(db)

	ts := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	records := []models.SlowQueryRecord{
		{Timestamp: ts, DBName: "shop", SqlText: "select 1", SqlHash: "h1", QueryTimeSeconds: 3.5, FullTableScan: true},
		{Timestamp: ts.Add(time.Minute), DBName: "shop", SqlText: "select 2", SqlHash: "h2"},
	}

	require.NoError(t, r.Record(context.Background(), "huawei", "ins-1", "report.txt", records, ts.Add(time.Hour)))
	require.NoError(t, r.Record(context.Background(), "huawei", "ins-1", "empty.txt", nil, ts))

	n, err := models.SlowSQLAlertHistoryCount(r.DB(), "ins-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var rows []models.SlowSQLAlertHistory
	require.NoError(t, db.Order("executed_at").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "h1", rows[0].SqlHash)
	assert.True(t, rows[0].FullScan)
	assert.Equal(t, 3.5, rows[0].ExecuteTime)
	assert.Equal(t, ts.Add(time.Hour).Unix(), rows[0].DeliveredAt)
	assert.Equal(t, "report.txt", rows[1].ReportFile)
}
