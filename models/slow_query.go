// 慢查询记录模型
package models

import (
	"sort"
	"time"
)

// SlowQueryRecord 归一化后的一条慢查询记录
// Timestamp 必定有值，其余字段缺失时保持零值
type SlowQueryRecord struct {
	Timestamp         time.Time `json:"timestamp"` // 记录发生时间
	DBName            string    `json:"db_name"`
	UserHost          string    `json:"user_host"`          // 用户和来源主机
	QueryTimeSeconds  float64   `json:"query_time_seconds"` // 执行耗时(s)
	LockTimeSeconds   float64   `json:"lock_time_seconds"`  // 锁等待时间(s)
	RowsSent          int64     `json:"rows_sent"`
	RowsExamined      int64     `json:"rows_examined"`
	SqlText           string    `json:"sql_text"`
	SqlHash           string    `json:"sql_hash,omitempty"`
	ThreadId          string    `json:"thread_id,omitempty"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	FullTableScan     bool      `json:"full_table_scan"`
	UsedTempTable     bool      `json:"used_temp_table"`
	UsedDiskTempTable bool      `json:"used_disk_temp_table"`
}

// Normalize 补齐默认值：开始/结束时间缺省取发生时间，负数指标归零，缺少哈希时按指纹生成
func (r *SlowQueryRecord) Normalize() {
	if r.StartTime.IsZero() {
		r.StartTime = r.Timestamp
	}
	if r.EndTime.IsZero() {
		r.EndTime = r.Timestamp
	}
	if r.QueryTimeSeconds < 0 {
		r.QueryTimeSeconds = 0
	}
	if r.LockTimeSeconds < 0 {
		r.LockTimeSeconds = 0
	}
	if r.RowsSent < 0 {
		r.RowsSent = 0
	}
	if r.RowsExamined < 0 {
		r.RowsExamined = 0
	}
	if r.SqlHash == "" && r.SqlText != "" {
		r.SqlHash = GenerateSQLHash(GenerateSQLFingerprint(r.SqlText))
	}
}

// SortSlowQueryRecords 按发生时间升序稳定排序
func SortSlowQueryRecords(records []SlowQueryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}

// MaxTimestamp 返回记录中最大的发生时间，空切片返回零值
func MaxTimestamp(records []SlowQueryRecord) time.Time {
	var max time.Time
	for _, r := range records {
		if r.Timestamp.After(max) {
			max = r.Timestamp
		}
	}
	return max
}
