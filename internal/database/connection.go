// internal/database/connection.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"comlink-service/internal/config"
)

// DB wraps the postgres connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewConnection opens and verifies a postgres connection pool
func NewConnection(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	db := &DB{
		DB:     sqlDB,
		logger: logger.With(zap.String("component", "database")),
	}

	if err := db.HealthCheck(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.logger.Info("Database connection established",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("dbname", cfg.Database.DBName),
	)
	return db, nil
}

// HealthCheck pings the database
func (db *DB) HealthCheck() error {
	if db == nil || db.DB == nil {
		return fmt.Errorf("database not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// GetStats returns connection pool statistics
func (db *DB) GetStats() sql.DBStats {
	if db == nil || db.DB == nil {
		return sql.DBStats{}
	}
	return db.Stats()
}

// Close closes the pool
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	db.logger.Info("Closing database connection")
	return db.DB.Close()
}
