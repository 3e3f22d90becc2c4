// Package store is the relational side of the system, backed by GORM:
// shops (read through the cache) and seckill vouchers and orders (written
// by the seckill worker).
//
// SQLite (pure Go driver, no CGO) serves single-node setups and tests;
// Postgres serves everything else.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open dispatches on driver ("sqlite" or "postgres").
func Open(driver, dsn string, lg logger.Interface) (*gorm.DB, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite":
		return OpenSQLite(dsn, lg)
	case "postgres", "postgresql", "pg":
		return OpenPostgres(dsn, lg)
	}
	return nil, fmt.Errorf("store: unknown driver %q", driver)
}

// OpenSQLite opens (or creates) a SQLite database. PRAGMAs go in the DSN so
// every pooled connection gets them, not just the first.
func OpenSQLite(path string, lg logger.Interface) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)").
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), config(lg))
	if err != nil {
		return nil, err
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

func OpenPostgres(dsn string, lg logger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), config(lg))
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

func config(lg logger.Interface) *gorm.Config {
	if lg == nil {
		lg = logger.Default.LogMode(logger.Silent)
	}
	return &gorm.Config{Logger: lg, TranslateError: true}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Shop{},
		&SeckillVoucher{},
		&VoucherOrder{},
	)
}
