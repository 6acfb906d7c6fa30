package models

import (
	"gorm.io/gorm"
)

// migrateAllTables 批量迁移所有表
func migrateAllTables(db *gorm.DB) error {
	models := []interface{}{
		&BundleRecord{},
	}

	return db.AutoMigrate(models...)
}

// InitDB 迁移成果目录表结构
func InitDB(db *gorm.DB) error {
	return migrateAllTables(db)
}
