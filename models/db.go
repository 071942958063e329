// 告警历史存储初始化
package models

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDB 按类型打开历史库并自动建表，支持 sqlite、mysql 和 postgres
func OpenDB(dbType, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(dbType) {
	case "", "sqlite":
		if dsn == "" {
			dsn = "slowsql_alert.db"
		}
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported history db type: %s", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db failed: %w", err)
	}

	if err := db.AutoMigrate(&SlowSQLAlertHistory{}); err != nil {
		return nil, fmt.Errorf("migrate history table failed: %w", err)
	}
	return db, nil
}
