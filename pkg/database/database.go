// Package database 负责关系型数据库与 Redis 的连接初始化。
package database

import (
	"fmt"
	"time"

	"medassist-go/internal/config"
	"medassist-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB 按配置的驱动初始化数据库连接，失败时直接退出进程。
func InitDB(cfg config.DatabaseConfig) {
	var err error
	switch cfg.Driver {
	case "sqlite":
		DB, err = Open("sqlite", cfg.SQLite.Path)
	default:
		DB, err = Open("mysql", cfg.MySQL.DSN)
	}
	if err != nil {
		log.Fatal("failed to connect database", err)
	}
	log.Infof("%s database connected successfully", DB.Dialector.Name())
}

// Open 打开一个 gorm 连接。开启 TranslateError 以便唯一索引冲突被翻译为 gorm.ErrDuplicatedKey。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if driver == "sqlite" {
		// SQLite 只允许单写者，串行化连接避免 database is locked
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db, nil
}
