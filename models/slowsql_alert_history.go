// 慢SQL告警历史模型
// 只保存已成功投递的记录，用于审计，按保留天数定期清理；不参与去重游标的恢复
package models

import (
	"time"

	"gorm.io/gorm"
)

// SlowSQLAlertHistory 已投递的慢SQL告警明细
type SlowSQLAlertHistory struct {
	Id int64 `json:"id" gorm:"primaryKey;autoIncrement"`

	Provider   string `json:"provider" gorm:"type:varchar(32)"`
	InstanceId string `json:"instance_id" gorm:"type:varchar(128);index"`
	Database   string `json:"database" gorm:"type:varchar(128)"`

	SqlHash      string  `json:"sql_hash" gorm:"type:varchar(64);index"`
	SqlText      string  `json:"sql_text" gorm:"type:text"`
	UserHost     string  `json:"user_host" gorm:"type:varchar(256)"`
	ExecuteTime  float64 `json:"execute_time"` // 执行时间(s)
	LockTime     float64 `json:"lock_time"`    // 等待锁时间(s)
	RowsSent     int64   `json:"rows_sent"`
	RowsExamined int64   `json:"rows_examined"`
	FullScan     bool    `json:"full_scan"`

	ExecutedAt  int64  `json:"executed_at" gorm:"index"`  // 执行时间（Unix 时间戳）
	DeliveredAt int64  `json:"delivered_at" gorm:"index"` // 投递时间
	ReportFile  string `json:"report_file" gorm:"type:varchar(256)"`
}

func (SlowSQLAlertHistory) TableName() string {
	return "slowsql_alert_history"
}

// NewSlowSQLAlertHistory 由慢查询记录构建历史明细
func NewSlowSQLAlertHistory(provider, instanceId, reportFile string, r SlowQueryRecord, deliveredAt time.Time) SlowSQLAlertHistory {
	return SlowSQLAlertHistory{
		Provider:     provider,
		InstanceId:   instanceId,
		Database:     r.DBName,
		SqlHash:      r.SqlHash,
		SqlText:      r.SqlText,
		UserHost:     r.UserHost,
		ExecuteTime:  r.QueryTimeSeconds,
		LockTime:     r.LockTimeSeconds,
		RowsSent:     r.RowsSent,
		RowsExamined: r.RowsExamined,
		FullScan:     r.FullTableScan,
		ExecutedAt:   r.Timestamp.Unix(),
		DeliveredAt:  deliveredAt.Unix(),
		ReportFile:   reportFile,
	}
}

// SlowSQLAlertHistoryBatchAdd 批量写入告警历史
func SlowSQLAlertHistoryBatchAdd(db *gorm.DB, rows []SlowSQLAlertHistory) error {
	if len(rows) == 0 {
		return nil
	}
	return db.CreateInBatches(rows, 100).Error
}

// SlowSQLAlertHistoryCleanup 清理指定天数之前的告警历史
func SlowSQLAlertHistoryCleanup(db *gorm.DB, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7 // 默认保留 7 天
	}

	cutoff := now.AddDate(0, 0, -retentionDays).Unix()
	result := db.Where("delivered_at < ?", cutoff).Delete(&SlowSQLAlertHistory{})
	return result.RowsAffected, result.Error
}

// SlowSQLAlertHistoryCount 统计实例的告警历史数量，instanceId 为空或 all 时统计全部
func SlowSQLAlertHistoryCount(db *gorm.DB, instanceId string) (int64, error) {
	var count int64
	session := db.Model(&SlowSQLAlertHistory{})
	if instanceId != "" && instanceId != "all" {
		session = session.Where("instance_id = ?", instanceId)
	}
	err := session.Count(&count).Error
	return count, err
}
