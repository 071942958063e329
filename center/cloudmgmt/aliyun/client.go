// 阿里云 RDS 慢日志客户端封装
package aliyun

import (
	"context"
	"fmt"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	openapiutil "github.com/alibabacloud-go/openapi-util/service"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/mitchellh/mapstructure"
)

const (
	DefaultEndpoint = "rds.aliyuncs.com"
	apiVersion      = "2014-08-15"
	maxPageSize     = 100
	minPageSize     = 30
)

// apiCaller *openapi.Client 的通用调用能力
type apiCaller interface {
	CallApi(params *openapi.Params, request *openapi.OpenApiRequest, runtime *util.RuntimeOptions) (map[string]interface{}, error)
}

// Config 客户端配置，超时单位为毫秒
type Config struct {
	AccessKeyId     string
	AccessKeySecret string
	Endpoint        string
	ConnectTimeout  int
	ReadTimeout     int
	PageSize        int
}

// AliyunClient 阿里云 RDS 客户端
type AliyunClient struct {
	api      apiCaller
	pageSize int
}

// NewAliyunClient 创建阿里云客户端
func NewAliyunClient(cfg Config) (*AliyunClient, error) {
	if cfg.AccessKeyId == "" || cfg.AccessKeySecret == "" {
		return nil, fmt.Errorf("access_key_id or access_key_secret is empty")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5000
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5000
	}

	client, err := openapi.NewClient(&openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyId),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		Endpoint:        tea.String(cfg.Endpoint),
		ConnectTimeout:  tea.Int(cfg.ConnectTimeout),
		ReadTimeout:     tea.Int(cfg.ReadTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun rds client: %w", err)
	}
	return newAliyunClient(client, cfg.PageSize), nil
}

func newAliyunClient(api apiCaller, pageSize int) *AliyunClient {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if pageSize < minPageSize {
		pageSize = minPageSize
	}
	return &AliyunClient{api: api, pageSize: pageSize}
}

// GetName 获取云厂商标识
func (c *AliyunClient) GetName() string {
	return "aliyun"
}

// PageSize 每页记录数
func (c *AliyunClient) PageSize() int {
	return c.pageSize
}

// SlowLogRecord DescribeSlowLogRecords 返回的一条记录
type SlowLogRecord struct {
	DBName             string  `mapstructure:"DBName"`
	ExecutionStartTime string  `mapstructure:"ExecutionStartTime"` // UTC，yyyy-MM-ddTHH:mm:ssZ
	QueryTimes         float64 `mapstructure:"QueryTimes"`         // 秒
	QueryTimeMS        float64 `mapstructure:"QueryTimeMS"`        // 毫秒，部分实例返回
	LockTimes          float64 `mapstructure:"LockTimes"`
	ReturnRowCounts    int64   `mapstructure:"ReturnRowCounts"`
	ParseRowCounts     int64   `mapstructure:"ParseRowCounts"`
	HostAddress        string  `mapstructure:"HostAddress"`
	SQLText            string  `mapstructure:"SQLText"`
	SQLHash            string  `mapstructure:"SQLHash"`
	ThreadID           string  `mapstructure:"ThreadID"`
}

// SlowLogPage 一页慢日志
type SlowLogPage struct {
	Records    []SlowLogRecord
	Total      int
	PageNumber int
	HasMore    bool
}

type describeSlowLogRecordsBody struct {
	TotalRecordCount int `mapstructure:"TotalRecordCount"`
	PageNumber       int `mapstructure:"PageNumber"`
	PageRecordCount  int `mapstructure:"PageRecordCount"`
	Items            struct {
		SQLSlowRecord []SlowLogRecord `mapstructure:"SQLSlowRecord"`
	} `mapstructure:"Items"`
}

// DescribeSlowLogRecords 查询时间范围内的慢日志明细
// startTime/endTime 为 UTC，格式 yyyy-MM-ddTHH:mmZ；dbName 为空表示所有数据库；pageNumber 从 1 开始
func (c *AliyunClient) DescribeSlowLogRecords(ctx context.Context, instanceId, startTime, endTime, dbName string, pageNumber int) (*SlowLogPage, error) {
	if pageNumber < 1 {
		pageNumber = 1
	}

	queries := map[string]interface{}{
		"DBInstanceId": instanceId,
		"StartTime":    startTime,
		"EndTime":      endTime,
		"PageSize":     c.pageSize,
		"PageNumber":   pageNumber,
	}
	if dbName != "" {
		queries["DBName"] = dbName
	}

	params := &openapi.Params{
		Action:      tea.String("DescribeSlowLogRecords"),
		Version:     tea.String(apiVersion),
		Protocol:    tea.String("HTTPS"),
		Pathname:    tea.String("/"),
		Method:      tea.String("POST"),
		AuthType:    tea.String("AK"),
		Style:       tea.String("RPC"),
		ReqBodyType: tea.String("json"),
		BodyType:    tea.String("json"),
	}
	request := &openapi.OpenApiRequest{Query: openapiutil.Query(queries)}

	resp, err := c.api.CallApi(params, request, &util.RuntimeOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe slow log records: %w", err)
	}

	body, err := decodeSlowLogBody(resp)
	if err != nil {
		return nil, err
	}

	page := &SlowLogPage{
		Records:    body.Items.SQLSlowRecord,
		Total:      body.TotalRecordCount,
		PageNumber: pageNumber,
	}
	page.HasMore = len(page.Records) > 0 && pageNumber*c.pageSize < page.Total
	return page, nil
}

// decodeSlowLogBody 从 CallApi 的返回中取出 body 并解码
func decodeSlowLogBody(resp map[string]interface{}) (*describeSlowLogRecordsBody, error) {
	raw, ok := resp["body"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("describe slow log records: empty response body")
	}

	body := &describeSlowLogRecordsBody{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           body,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode slow log records: %w", err)
	}
	return body, nil
}

// Seconds 执行耗时，优先使用毫秒精度的字段
func (r SlowLogRecord) Seconds() float64 {
	if r.QueryTimeMS > 0 {
		return r.QueryTimeMS / 1000
	}
	return r.QueryTimes
}
