package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fernwake/prodsync/internal/config"
)

// DSN builds a MySQL DSN from store settings.
func DSN(s config.StoreConfig) string {
	cred := s.User
	if s.Password != "" {
		cred += ":" + s.Password
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", cred, s.Host, s.Port, s.Database)
}

// Connect opens a GORM connection to the MySQL store.
func Connect(s config.StoreConfig) (*gorm.DB, error) {
	dsn := DSN(s)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", s.Host, s.Port, s.Database, err)
	}
	return db, nil
}
