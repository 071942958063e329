// 配置加载
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ccfos/rds-slowsql-alert/models"
	"github.com/koding/multiconfig"
)

// 慢日志获取策略
const (
	StrategyQuery  = "query"  // 按时间窗口同步查询
	StrategyExport = "export" // 异步导出日志文件
)

type Config struct {
	Log       Log
	Monitor   Monitor
	WeChat    WeChat
	Huawei    Huawei
	Aliyun    Aliyun
	Instances []InstanceConfig
	History   History
	HTTP      HTTP
}

type Log struct {
	Level string `default:"INFO"`
}

type Monitor struct {
	Provider      string `required:"true"` // huawei / aliyun
	Strategy      string // 为空时按云厂商推断：aliyun=query, huawei=export
	QueryInterval int    `default:"60"` // 秒
	TimeZone      string `default:"Asia/Shanghai"`
	DownloadDir   string `default:"logs"`
	Concurrency   int    `default:"1"`
	InstanceList  string // 逗号分隔的实例 ID，与 Instances 合并
	Export        Export
}

type Export struct {
	MaxRetries    int `default:"10"`
	RetryInterval int `default:"5"` // 秒
	// DownloadTimeout 单次文件下载的超时时间（秒）
	DownloadTimeout int `default:"60"`
}

type WeChat struct {
	WebhookURL         string `required:"true"`
	RateLimitPerMinute int    `default:"20"`
	Timeout            int    `default:"30"` // 秒
}

type Huawei struct {
	AccessKeyId     string
	AccessKeySecret string
	ProjectId       string
	Region          string `default:"cn-north-4"`
}

type Aliyun struct {
	AccessKeyId     string
	AccessKeySecret string
	Endpoint        string `default:"rds.aliyuncs.com"`
	ConnectTimeout  int    `default:"5000"` // 毫秒
	ReadTimeout     int    `default:"5000"` // 毫秒
	PageSize        int    `default:"100"`
}

type InstanceConfig struct {
	Id        string
	Name      string
	Databases []string
}

type History struct {
	Enable        bool
	DBType        string `default:"sqlite"`
	DSN           string `default:"slowsql_alert.db"`
	RetentionDays int    `default:"7"`
	CleanupCron   string `default:"0 3 * * *"`
}

type HTTP struct {
	Enable bool
	Listen string `default:":9091"`
}

// InitConfig 依次加载默认值、TOML 文件和环境变量（SLOWSQL_ 前缀），然后校验
func InitConfig(fpath string) (*Config, error) {
	if _, err := os.Stat(fpath); err != nil {
		return nil, fmt.Errorf("config file %s not accessible: %w", fpath, err)
	}

	loaders := []multiconfig.Loader{
		&multiconfig.TagLoader{},
		&multiconfig.TOMLLoader{Path: fpath},
		&multiconfig.EnvironmentLoader{Prefix: "SLOWSQL", CamelCase: true},
	}

	m := multiconfig.DefaultLoader{
		Loader:    multiconfig.MultiLoader(loaders...),
		Validator: multiconfig.MultiValidator(&multiconfig.RequiredValidator{}),
	}

	c := &Config{}
	if err := m.Load(c); err != nil {
		return nil, fmt.Errorf("load config %s failed: %w", fpath, err)
	}
	if err := m.Validate(c); err != nil {
		return nil, fmt.Errorf("validate config %s failed: %w", fpath, err)
	}

	if err := c.PreCheck(); err != nil {
		return nil, err
	}
	return c, nil
}

// PreCheck 补齐推断值并检查跨字段约束
func (c *Config) PreCheck() error {
	c.Monitor.Provider = strings.ToLower(strings.TrimSpace(c.Monitor.Provider))
	c.Monitor.Strategy = strings.ToLower(strings.TrimSpace(c.Monitor.Strategy))

	if c.Monitor.Strategy == "" {
		switch c.Monitor.Provider {
		case "aliyun":
			c.Monitor.Strategy = StrategyQuery
		default:
			c.Monitor.Strategy = StrategyExport
		}
	}

	switch c.Monitor.Strategy {
	case StrategyQuery, StrategyExport:
	default:
		return fmt.Errorf("unknown monitor strategy: %s", c.Monitor.Strategy)
	}

	if c.Monitor.Strategy == StrategyExport && c.Monitor.Provider != "huawei" {
		return fmt.Errorf("export strategy is only supported by huawei, got %s", c.Monitor.Provider)
	}

	if c.Monitor.QueryInterval <= 0 {
		c.Monitor.QueryInterval = 60
	}
	if c.Monitor.Concurrency <= 0 {
		c.Monitor.Concurrency = 1
	}
	if c.Monitor.Export.MaxRetries <= 0 {
		c.Monitor.Export.MaxRetries = 10
	}
	if c.Monitor.Export.RetryInterval < 0 {
		c.Monitor.Export.RetryInterval = 0
	}

	if _, err := time.LoadLocation(c.Monitor.TimeZone); err != nil {
		return fmt.Errorf("invalid time zone %s: %w", c.Monitor.TimeZone, err)
	}

	if _, err := WebhookKey(c.WeChat.WebhookURL); err != nil {
		return err
	}

	if len(c.MonitoredInstances()) == 0 {
		return fmt.Errorf("no instances configured")
	}
	return nil
}

// Location 参考时区
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Monitor.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Interval 轮询间隔
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Monitor.QueryInterval) * time.Second
}

// MonitoredInstances 合并 InstanceList 与 Instances，同一实例以 Instances 中的配置为准
func (c *Config) MonitoredInstances() []models.Instance {
	var out []models.Instance
	index := make(map[string]int)

	for _, ic := range c.Instances {
		id := strings.TrimSpace(ic.Id)
		if id == "" {
			continue
		}
		if _, ok := index[id]; ok {
			continue
		}
		index[id] = len(out)
		out = append(out, models.Instance{
			Id:        id,
			Name:      strings.TrimSpace(ic.Name),
			Databases: models.NormalizeDatabases(ic.Databases),
		})
	}

	for _, id := range strings.Split(c.Monitor.InstanceList, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := index[id]; ok {
			continue
		}
		index[id] = len(out)
		out = append(out, models.Instance{Id: id})
	}

	return out
}

// WebhookKey 从企业微信 webhook 地址中提取 key
func WebhookKey(webhookURL string) (string, error) {
	u, err := url.Parse(webhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid webhook url: %q", webhookURL)
	}
	key := u.Query().Get("key")
	if key == "" {
		return "", fmt.Errorf("webhook url has no key parameter")
	}
	return key, nil
}
