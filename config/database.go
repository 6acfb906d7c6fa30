package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// OpenDatabase 按驱动打开数据库
func OpenDatabase(d Database, level logger.LogLevel) (*gorm.DB, error) {
	dsn, err := d.DSN()
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch strings.ToLower(d.Driver) {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		// 确保目录存在
		if dir := filepath.Dir(dsn); dir != "" {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, errors.Wrap(err, "create database directory")
			}
		}
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s database", d.Driver)
	}
	return db, nil
}

// GormLogLevel 将日志级别映射到 gorm
func GormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return logger.Info
	case "info", "warn":
		return logger.Warn
	case "error":
		return logger.Error
	}
	return logger.Silent
}
