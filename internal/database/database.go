// Package database owns the record store connection and schema for the
// transcode worker: media assets, transcode attempts and the durable job
// queue table.
package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the record store identified by dsn and migrates the
// worker-owned schema. A dsn of the form "sqlite:<path>" (":memory:" included)
// selects SQLite; anything else is treated as a Postgres DSN.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	path, isSQLite := strings.CutPrefix(dsn, "sqlite:")
	if isSQLite {
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isSQLite {
		// Every pooled connection to an in-memory SQLite database would see
		// its own empty schema; a single connection also sidesteps write
		// lock contention on file-backed databases.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the worker-owned tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&MediaAsset{},
		&TranscodeJob{},
		&QueueMessage{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
