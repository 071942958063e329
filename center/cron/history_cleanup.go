package cron

import (
	"time"

	"github.com/ccfos/rds-slowsql-alert/models"

	"github.com/robfig/cron/v3"
	"github.com/toolkits/pkg/logger"
	"gorm.io/gorm"
)

// HistoryCleaner 按 cron 表达式定期清理过期的告警历史
type HistoryCleaner struct {
	db            *gorm.DB
	retentionDays int
	spec          string
	cron          *cron.Cron
	now           func() time.Time
}

// NewHistoryCleaner spec 为标准五段式 cron 表达式，默认每天 03:00
func NewHistoryCleaner(db *gorm.DB, retentionDays int, spec string, loc *time.Location) *HistoryCleaner {
	if spec == "" {
		spec = "0 3 * * *"
	}
	if loc == nil {
		loc = time.Local
	}
	return &HistoryCleaner{
		db:            db,
		retentionDays: retentionDays,
		spec:          spec,
		cron:          cron.New(cron.WithLocation(loc)),
		now:           time.Now,
	}
}

// Start 注册并启动清理任务
func (c *HistoryCleaner) Start() error {
	if _, err := c.cron.AddFunc(c.spec, c.RunOnce); err != nil {
		return err
	}
	c.cron.Start()
	logger.Infof("alert history cleaner started: spec=%q retention=%dd", c.spec, c.retentionDays)
	return nil
}

// Stop 停止调度并等待正在执行的清理结束
func (c *HistoryCleaner) Stop() {
	<-c.cron.Stop().Done()
	logger.Info("alert history cleaner stopped")
}

// RunOnce 执行一次清理
func (c *HistoryCleaner) RunOnce() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic in alert history cleanup: %v", r)
		}
	}()

	deleted, err := models.SlowSQLAlertHistoryCleanup(c.db, c.retentionDays, c.now())
	if err != nil {
		logger.Errorf("failed to cleanup alert history: %v", err)
		return
	}
	if deleted > 0 {
		logger.Infof("cleaned up %d alert history rows older than %d days", deleted, c.retentionDays)
	}
}
