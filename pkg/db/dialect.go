package db

import (
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg Config) (gorm.Dialector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.normalizedType() {
	case "postgres":
		return postgres.Open(cfg.postgresDSN()), nil
	default:
		return sqlite.Open(cfg.sqlitePath()), nil
	}
}
