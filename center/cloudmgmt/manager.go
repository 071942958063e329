// 云服务管理模块 - 提供者管理器
package cloudmgmt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ccfos/rds-slowsql-alert/center/slowlog"
	"github.com/ccfos/rds-slowsql-alert/conf"

	"github.com/toolkits/pkg/logger"
)

// Manager 云服务管理器
type Manager struct {
	mu        sync.RWMutex
	providers map[string]ProviderFactory
}

// NewManager 创建管理器
func NewManager() *Manager {
	return &Manager{
		providers: make(map[string]ProviderFactory),
	}
}

// RegisterProvider 注册云服务提供者
func (m *Manager) RegisterProvider(name string, factory ProviderFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = factory
}

// Providers 已注册的云厂商
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetProvider 按配置中的云厂商创建提供者实例
func (m *Manager) GetProvider(c *conf.Config) (CloudProvider, error) {
	m.mu.RLock()
	factory, ok := m.providers[c.Monitor.Provider]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", c.Monitor.Provider)
	}

	provider, err := factory(c)
	if err != nil {
		return nil, fmt.Errorf("create provider %s failed: %w", c.Monitor.Provider, err)
	}
	return provider, nil
}

// Querier 提供者的同步查询能力
func Querier(p CloudProvider) (slowlog.SlowLogQuerier, error) {
	q, ok := p.(slowlog.SlowLogQuerier)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support the %s strategy", p.GetName(), conf.StrategyQuery)
	}
	return q, nil
}

// Exporter 提供者的导出下载能力
func Exporter(p CloudProvider) (slowlog.SlowLogExporter, error) {
	e, ok := p.(slowlog.SlowLogExporter)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support the %s strategy", p.GetName(), conf.StrategyExport)
	}
	return e, nil
}

// TestConnection 启动时检查凭证，失败只记录日志，后续每轮仍会重试
func (m *Manager) TestConnection(ctx context.Context, p CloudProvider) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := p.TestConnection(ctx); err != nil {
		logger.Warningf("provider %s connection test failed: %v", p.GetName(), err)
		return err
	}
	logger.Infof("provider %s connection test passed", p.GetName())
	return nil
}
