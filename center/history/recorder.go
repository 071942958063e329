// 慢SQL告警历史归档
package history

import (
	"context"
	"time"

	"github.com/ccfos/rds-slowsql-alert/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Recorder 将已投递的记录写入历史表，实现 slowlog.HistoryRecorder
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// DB 底层连接，供清理任务使用
func (r *Recorder) DB() *gorm.DB {
	return r.db
}

func (r *Recorder) Record(ctx context.Context, provider, instanceId, reportFile string, records []models.SlowQueryRecord, deliveredAt time.Time) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]models.SlowSQLAlertHistory, 0, len(records))
	for _, rec := range records {
		rows = append(rows, models.NewSlowSQLAlertHistory(provider, instanceId, reportFile, rec, deliveredAt))
	}

	if err := models.SlowSQLAlertHistoryBatchAdd(r.db.WithContext(ctx), rows); err != nil {
		return errors.Wrapf(err, "save %d alert history rows of %s", len(rows), instanceId)
	}
	return nil
}
