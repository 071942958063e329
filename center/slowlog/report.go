// 慢SQL告警流水线 - 告警报告生成
package slowlog

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ccfos/rds-slowsql-alert/models"
)

const (
	unknownDatabase  = "Unknown"
	reportTimeLayout = "2006-01-02 15:04:05"
)

var reportSeparator = strings.Repeat("-", 80)

// Report 一份待投递的告警文件
type Report struct {
	InstanceId string
	Database   string // 按实例汇总时为空
	FileName   string
	Content    []byte
	Records    []models.SlowQueryRecord
}

// ReportBuilder 生成告警报告，loc 为报告中时间的展示时区
type ReportBuilder struct {
	loc *time.Location
}

func NewReportBuilder(loc *time.Location) *ReportBuilder {
	if loc == nil {
		loc = time.Local
	}
	return &ReportBuilder{loc: loc}
}

// BuildDatabaseReports 按数据库拆分，每个数据库一份报告，顺序为数据库首次出现的顺序
// 没有记录时返回 nil
func (b *ReportBuilder) BuildDatabaseReports(inst models.Instance, records []models.SlowQueryRecord, now time.Time) []*Report {
	if len(records) == 0 {
		return nil
	}

	var order []string
	groups := make(map[string][]models.SlowQueryRecord)
	for _, r := range records {
		db := r.DBName
		if db == "" {
			db = unknownDatabase
		}
		if _, ok := groups[db]; !ok {
			order = append(order, db)
		}
		groups[db] = append(groups[db], r)
	}

	reports := make([]*Report, 0, len(order))
	for _, db := range order {
		items := groups[db]

		var buf bytes.Buffer
		buf.WriteString("# RDS慢SQL告警汇总\n")
		fmt.Fprintf(&buf, "数据库实例: %s\n", inst.DisplayName())
		fmt.Fprintf(&buf, "数据库名称: %s\n", db)
		fmt.Fprintf(&buf, "告警时间: %s\n", now.In(b.loc).Format(reportTimeLayout))
		fmt.Fprintf(&buf, "慢SQL数量: %d\n\n", len(items))

		for i, r := range items {
			fmt.Fprintf(&buf, "\n### 慢SQL记录 %d/%d\n", i+1, len(items))
			fmt.Fprintf(&buf, "执行时间: %s\n", r.Timestamp.In(b.loc).Format(reportTimeLayout))
			fmt.Fprintf(&buf, "执行耗时: %.2fs\n", r.QueryTimeSeconds)
			fmt.Fprintf(&buf, "返回行数: %d\n", r.RowsSent)
			fmt.Fprintf(&buf, "解析行数: %d\n", r.RowsExamined)
			fmt.Fprintf(&buf, "锁定时间: %.2fs\n", r.LockTimeSeconds)
			fmt.Fprintf(&buf, "访问来源: %s\n", r.UserHost)
			fmt.Fprintf(&buf, "SQL哈希值: %s\n", r.SqlHash)
			fmt.Fprintf(&buf, "SQL语句: %s\n", r.SqlText)
			buf.WriteString(reportSeparator + "\n")
		}

		reports = append(reports, &Report{
			InstanceId: inst.Id,
			Database:   db,
			FileName:   ReportFileName(inst.Id, db, now.In(b.loc)),
			Content:    buf.Bytes(),
			Records:    items,
		})
	}
	return reports
}

// BuildInstanceReport 整个实例汇总为一份报告，包含全表扫描和临时表标记
// 没有记录时返回 nil
func (b *ReportBuilder) BuildInstanceReport(inst models.Instance, records []models.SlowQueryRecord, now time.Time) *Report {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	buf.WriteString("# RDS慢SQL告警汇总\n")
	fmt.Fprintf(&buf, "实例ID: %s\n", inst.DisplayName())
	fmt.Fprintf(&buf, "告警时间: %s\n", now.In(b.loc).Format(reportTimeLayout))
	fmt.Fprintf(&buf, "慢SQL数量: %d\n\n", len(records))

	for i, r := range records {
		db := r.DBName
		if db == "" {
			db = unknownDatabase
		}
		fmt.Fprintf(&buf, "\n### 慢SQL记录 %d/%d\n", i+1, len(records))
		fmt.Fprintf(&buf, "执行时间: %s\n", r.Timestamp.In(b.loc).Format(reportTimeLayout))
		fmt.Fprintf(&buf, "数据库: %s\n", db)
		fmt.Fprintf(&buf, "用户来源: %s\n", r.UserHost)
		fmt.Fprintf(&buf, "执行耗时: %.2fs\n", r.QueryTimeSeconds)
		fmt.Fprintf(&buf, "锁等待时间: %.2fs\n", r.LockTimeSeconds)
		fmt.Fprintf(&buf, "返回行数: %d\n", r.RowsSent)
		fmt.Fprintf(&buf, "扫描行数: %d\n", r.RowsExamined)
		fmt.Fprintf(&buf, "是否全表扫描: %s\n", yesNo(r.FullTableScan))
		fmt.Fprintf(&buf, "是否使用临时表: %s\n", yesNo(r.UsedTempTable))
		fmt.Fprintf(&buf, "是否使用磁盘临时表: %s\n", yesNo(r.UsedDiskTempTable))
		fmt.Fprintf(&buf, "SQL语句:\n%s\n", r.SqlText)
		buf.WriteString(reportSeparator + "\n")
	}

	return &Report{
		InstanceId: inst.Id,
		FileName:   ReportFileName(inst.Id, "", now.In(b.loc)),
		Content:    buf.Bytes(),
		Records:    records,
	}
}

// ReportFileName 慢查询sql文件_<实例>[_<库>]_<yyyymmdd_hhmmss>.txt
func ReportFileName(instanceId, db string, at time.Time) string {
	parts := []string{"慢查询sql文件", sanitizeFileName(instanceId)}
	if db != "" {
		parts = append(parts, sanitizeFileName(db))
	}
	parts = append(parts, at.Format("20060102_150405"))
	return strings.Join(parts, "_") + ".txt"
}

func yesNo(b bool) string {
	if b {
		return "是"
	}
	return "否"
}
