// 华为云 RDS 慢日志客户端封装
package huawei

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/auth/basic"
	rds "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/rds/v3"
	rdsModel "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/rds/v3/model"
	rdsRegion "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/rds/v3/region"
)

// HuaweiClient 华为云客户端
type HuaweiClient struct {
	accessKey string
	secretKey string
	projectId string
	region    string

	// 客户端缓存
	mu         sync.RWMutex
	rdsClients map[string]*rds.RdsClient
}

// NewHuaweiClient 创建华为云客户端，projectId 可为空
func NewHuaweiClient(accessKey, secretKey, projectId, region string) *HuaweiClient {
	return &HuaweiClient{
		accessKey:  accessKey,
		secretKey:  secretKey,
		projectId:  projectId,
		region:     region,
		rdsClients: make(map[string]*rds.RdsClient),
	}
}

// GetName 获取云厂商标识
func (c *HuaweiClient) GetName() string {
	return "huawei"
}

// Region 默认区域
func (c *HuaweiClient) Region() string {
	return c.region
}

// getAuth 获取认证信息
func (c *HuaweiClient) getAuth() *basic.Credentials {
	builder := basic.NewCredentialsBuilder().
		WithAk(c.accessKey).
		WithSk(c.secretKey)
	if c.projectId != "" {
		builder = builder.WithProjectId(c.projectId)
	}
	return builder.Build()
}

// getRDSClient 获取 RDS 客户端
func (c *HuaweiClient) getRDSClient(regionCode string) (client *rds.RdsClient, err error) {
	if regionCode == "" {
		regionCode = c.region
	}

	c.mu.RLock()
	client, ok := c.rdsClients[regionCode]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 双重检查
	if client, ok = c.rdsClients[regionCode]; ok {
		return client, nil
	}

	region, err := rdsRegion.SafeValueOf(regionCode)
	if err != nil {
		return nil, fmt.Errorf("unsupported RDS region: %s", regionCode)
	}

	// 华为云 SDK 在网络超时时会 panic，需要捕获
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to create RDS client for region %s: %v", regionCode, r)
			client = nil
		}
	}()

	client = rds.NewRdsClient(
		rds.RdsClientBuilder().
			WithRegion(region).
			WithCredential(c.getAuth()).
			Build())

	c.rdsClients[regionCode] = client
	return client, nil
}

// TestConnection 列出一个实例来验证凭证
func (c *HuaweiClient) TestConnection(ctx context.Context) error {
	if c.accessKey == "" || c.secretKey == "" {
		return fmt.Errorf("access_key or secret_key is empty")
	}

	client, err := c.getRDSClient(c.region)
	if err != nil {
		return err
	}

	limit := int32(1)
	if _, err := client.ListInstances(&rdsModel.ListInstancesRequest{Limit: &limit}); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// SlowLogFile 慢日志下载任务中的一个文件
type SlowLogFile struct {
	FileName string
	Status   string // SUCCESS / EXPORTING / FAILED
	FileLink string
	UpdateAt int64
}

// SlowLogDownload 慢日志下载任务状态
type SlowLogDownload struct {
	Status string // FINISH / CREATING / FAILED
	Files  []SlowLogFile
}

// DownloadSlowLog 提交(或查询)慢日志文件下载任务，重复调用返回同一任务的最新状态
func (c *HuaweiClient) DownloadSlowLog(ctx context.Context, instanceId string) (*SlowLogDownload, error) {
	client, err := c.getRDSClient(c.region)
	if err != nil {
		return nil, err
	}

	request := &rdsModel.DownloadSlowlogRequest{
		InstanceId: instanceId,
		Body:       &rdsModel.SlowlogDownloadRequest{},
	}

	response, err := client.DownloadSlowlog(request)
	if err != nil {
		return nil, fmt.Errorf("failed to download slow log: %w", err)
	}

	result := &SlowLogDownload{}
	if response.Status != nil {
		result.Status = *response.Status
	}
	if response.List != nil {
		for _, item := range *response.List {
			result.Files = append(result.Files, SlowLogFile{
				FileName: item.FileName,
				Status:   item.Status,
				FileLink: item.FileLink,
				UpdateAt: item.UpdateAt,
			})
		}
	}
	return result, nil
}

// SlowLogDetail 慢日志明细记录
type SlowLogDetail struct {
	SqlText      string  // 执行语句
	Database     string  // 所属数据库
	ExecuteTime  float64 // 执行时间(s)
	LockTime     float64 // 等待锁时间(s)
	RowsSent     int64   // 结果行数
	RowsExamined int64   // 扫描行数
	StartTime    string  // 发生时间
	Users        string  // 执行用户
	ClientIP     string  // 客户端IP
	LineNum      string  // 日志行号(用于分页)
}

// ListSlowLogDetails 按时间范围查询慢日志明细，lineNum 为上一页最后一条的行号
// 返回本页最后一条的行号，为空表示没有更多数据
func (c *HuaweiClient) ListSlowLogDetails(ctx context.Context, instanceId, startTime, endTime, database string, limit int32, lineNum string) ([]SlowLogDetail, string, error) {
	client, err := c.getRDSClient(c.region)
	if err != nil {
		return nil, "", err
	}

	body := &rdsModel.SlowlogForLtsRequest{
		StartTime: startTime,
		EndTime:   endTime,
	}
	if limit > 0 {
		body.Limit = &limit
	}
	if lineNum != "" {
		body.LineNum = &lineNum
	}
	if database != "" {
		body.Database = &database
	}

	response, err := client.ListSlowlogForLts(&rdsModel.ListSlowlogForLtsRequest{
		InstanceId: instanceId,
		Body:       body,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list slow log details: %w", err)
	}

	var (
		result      []SlowLogDetail
		lastLineNum string
	)
	if response.SlowLogList == nil {
		return result, "", nil
	}

	for _, log := range *response.SlowLogList {
		detail := SlowLogDetail{}

		if log.QuerySample != nil {
			detail.SqlText = *log.QuerySample
		}
		if log.Database != nil {
			detail.Database = *log.Database
		}
		if log.Time != nil {
			detail.ExecuteTime = parseSeconds(*log.Time)
		}
		if log.LockTime != nil {
			detail.LockTime = parseSeconds(*log.LockTime)
		}
		if log.RowsSent != nil {
			detail.RowsSent = parseRows(*log.RowsSent)
		}
		if log.RowsExamined != nil {
			detail.RowsExamined = parseRows(*log.RowsExamined)
		}
		if log.StartTime != nil {
			detail.StartTime = *log.StartTime
		}
		if log.Users != nil {
			detail.Users = *log.Users
		}
		if log.ClientIp != nil {
			detail.ClientIP = *log.ClientIp
		}
		if log.LineNum != nil {
			detail.LineNum = *log.LineNum
			lastLineNum = *log.LineNum
		}

		result = append(result, detail)
	}

	// 不满一页说明已经取完
	if limit > 0 && int32(len(result)) < limit {
		lastLineNum = ""
	}
	return result, lastLineNum, nil
}

// parseSeconds 华为云返回格式如 "16.83885 s"、"120 ms"
func parseSeconds(s string) float64 {
	s = strings.TrimSpace(s)
	scale := 1.0
	switch {
	case strings.HasSuffix(s, "ms"):
		s = strings.TrimSuffix(s, "ms")
		scale = 0.001
	case strings.HasSuffix(s, "s"):
		s = strings.TrimSuffix(s, "s")
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v * scale
}

func parseRows(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return int64(f)
	}
	return 0
}
