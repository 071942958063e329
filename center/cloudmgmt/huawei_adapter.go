// 云服务管理模块 - 华为云适配器
package cloudmgmt

import (
	"context"
	"strconv"
	"time"

	"github.com/ccfos/rds-slowsql-alert/center/cloudmgmt/huawei"
	"github.com/ccfos/rds-slowsql-alert/center/slowlog"
	"github.com/ccfos/rds-slowsql-alert/conf"
	"github.com/ccfos/rds-slowsql-alert/models"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
	"github.com/toolkits/pkg/logger"
)

const huaweiPageSize int32 = 100

// huaweiSlowLogAPI HuaweiClient 的慢日志能力
type huaweiSlowLogAPI interface {
	GetName() string
	TestConnection(ctx context.Context) error
	DownloadSlowLog(ctx context.Context, instanceId string) (*huawei.SlowLogDownload, error)
	ListSlowLogDetails(ctx context.Context, instanceId, startTime, endTime, database string, limit int32, lineNum string) ([]huawei.SlowLogDetail, string, error)
}

// HuaweiAdapter 华为云适配器，同时支持导出下载和按窗口查询
type HuaweiAdapter struct {
	client huaweiSlowLogAPI
	loc    *time.Location
}

// NewHuaweiAdapter 创建华为云适配器
func NewHuaweiAdapter(c *conf.Config) (CloudProvider, error) {
	h := c.Huawei
	if h.AccessKeyId == "" || h.AccessKeySecret == "" {
		return nil, errors.New("huawei access key is not configured")
	}
	if huawei.GetRegionByCode(h.Region) == nil {
		logger.Warningf("huawei region %s is not in the known region list, the SDK may reject it", h.Region)
	}
	return newHuaweiAdapter(huawei.NewHuaweiClient(h.AccessKeyId, h.AccessKeySecret, h.ProjectId, h.Region), c.Location()), nil
}

func newHuaweiAdapter(client huaweiSlowLogAPI, loc *time.Location) *HuaweiAdapter {
	return &HuaweiAdapter{client: client, loc: loc}
}

func (a *HuaweiAdapter) GetName() string {
	return a.client.GetName()
}

func (a *HuaweiAdapter) TestConnection(ctx context.Context) error {
	return a.client.TestConnection(ctx)
}

// DownloadSlowLog 实现 slowlog.SlowLogExporter
func (a *HuaweiAdapter) DownloadSlowLog(ctx context.Context, instanceId string) (*slowlog.ExportStatus, error) {
	resp, err := a.client.DownloadSlowLog(ctx, instanceId)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	status := &slowlog.ExportStatus{Status: resp.Status}
	for _, f := range resp.Files {
		status.Files = append(status.Files, slowlog.ExportFile{
			FileName: f.FileName,
			Status:   f.Status,
			FileLink: f.FileLink,
		})
	}
	return status, nil
}

// QuerySlowLogs 实现 slowlog.SlowLogQuerier，分页标记为日志行号
func (a *HuaweiAdapter) QuerySlowLogs(ctx context.Context, req slowlog.QueryRequest) (*slowlog.QueryPage, error) {
	start, end := req.Window.Format(slowlog.HuaweiTimeLayout, a.loc)

	details, lastLineNum, err := a.client.ListSlowLogDetails(ctx, req.InstanceId, start, end, req.DBName, huaweiPageSize, req.PageToken)
	if err != nil {
		return nil, err
	}

	page := &slowlog.QueryPage{NextPageToken: lastLineNum}
	for _, d := range details {
		ts, ok := parseHuaweiTime(d.StartTime)
		if !ok {
			logger.Warningf("skip huawei slow log with unparseable time %q on instance %s", d.StartTime, req.InstanceId)
			continue
		}
		userHost := d.Users
		if d.ClientIP != "" {
			userHost += " @ [" + d.ClientIP + "]"
		}
		page.Records = append(page.Records, models.SlowQueryRecord{
			Timestamp:        ts,
			DBName:           d.Database,
			UserHost:         userHost,
			QueryTimeSeconds: d.ExecuteTime,
			LockTimeSeconds:  d.LockTime,
			RowsSent:         d.RowsSent,
			RowsExamined:     d.RowsExamined,
			SqlText:          d.SqlText,
		})
	}
	// 行号分页不返回总数
	page.Total = len(page.Records)
	return page, nil
}

// parseHuaweiTime 华为云返回的无时区时间为 UTC，也可能是毫秒时间戳
func parseHuaweiTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 1e12 {
		return time.UnixMilli(ms).UTC(), true
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
