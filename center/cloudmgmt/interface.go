// 云服务管理模块 - 接口定义
package cloudmgmt

import (
	"context"

	"github.com/ccfos/rds-slowsql-alert/conf"
)

// CloudProvider 云服务提供者接口
// 具体能力通过 slowlog.SlowLogQuerier / slowlog.SlowLogExporter 暴露
type CloudProvider interface {
	// GetName 获取云厂商标识
	GetName() string

	// TestConnection 测试连接
	TestConnection(ctx context.Context) error
}

// ProviderFactory 根据配置创建云服务提供者
type ProviderFactory func(c *conf.Config) (CloudProvider, error)

// ProviderInfo 云厂商信息
type ProviderInfo struct {
	Key        string   `json:"key"`
	Name       string   `json:"name"`
	Strategies []string `json:"strategies"`
}

// GetSupportedProviders 获取支持的云厂商列表
func GetSupportedProviders() []ProviderInfo {
	return []ProviderInfo{
		{
			Key:        "huawei",
			Name:       "华为云",
			Strategies: []string{conf.StrategyExport, conf.StrategyQuery},
		},
		{
			Key:        "aliyun",
			Name:       "阿里云",
			Strategies: []string{conf.StrategyQuery},
		},
	}
}
