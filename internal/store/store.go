package store

import (
	"voxbill/backend/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the sqlite database and migrates the schema.
func InitDB(path string) (*gorm.DB, error) {
	d, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := d.AutoMigrate(&models.User{}, &models.Request{}, &models.Transaction{}); err != nil {
		return nil, err
	}
	return d, nil
}
