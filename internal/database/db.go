package database

import (
	"fmt"

	"github.com/pedro17pedroo/tatucloudfile/internal/config"
	"github.com/pedro17pedroo/tatucloudfile/internal/database/models"
	"github.com/pedro17pedroo/tatucloudfile/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.DBType {
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort,
		)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Dialector{DriverName: "sqlite", DSN: cfg.DBPath}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}

	logLevel := gormlogger.Silent
	if cfg.Env == "development" {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("database connected", "type", cfg.DBType)
	return db, nil
}

func Migrate(db *gorm.DB) error {
	logger.Info("running database migrations")

	err := db.AutoMigrate(
		&models.Plan{},
		&models.User{},
		&models.Folder{},
		&models.File{},
		&models.APIKey{},
		&models.StorageOp{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err := seedPlans(db); err != nil {
		return fmt.Errorf("failed to seed plans: %w", err)
	}

	// Create sessions table for alexedwards/scs
	if err := createSessionsTable(db); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	logger.Info("database migrations completed successfully")
	return nil
}

// seedPlans inserts the default plan tiers when the table is empty.
func seedPlans(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Plan{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	plans := []models.Plan{
		{Name: "Free", StorageLimit: 2 * 1024 * 1024 * 1024, PriceCents: 0, APICallsPerHour: 100},
		{Name: "Basic", StorageLimit: 50 * 1024 * 1024 * 1024, PriceCents: 499, APICallsPerHour: 1000},
		{Name: "Pro", StorageLimit: 500 * 1024 * 1024 * 1024, PriceCents: 1999, APICallsPerHour: 10000},
	}

	if err := db.Create(&plans).Error; err != nil {
		return err
	}

	logger.Info("seeded default plans", "count", len(plans))
	return nil
}

func createSessionsTable(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "postgres":
		if err := db.Exec(`
			CREATE TABLE IF NOT EXISTS sessions (
				token TEXT PRIMARY KEY,
				data BYTEA NOT NULL,
				expiry TIMESTAMPTZ NOT NULL
			)
		`).Error; err != nil {
			return err
		}
		return db.Exec(`CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions (expiry)`).Error

	case "sqlite":
		if err := db.Exec(`
			CREATE TABLE IF NOT EXISTS sessions (
				token TEXT PRIMARY KEY,
				data BLOB NOT NULL,
				expiry REAL NOT NULL
			)
		`).Error; err != nil {
			return err
		}
		return db.Exec(`CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions(expiry)`).Error

	default:
		return fmt.Errorf("unsupported database type: %s", db.Dialector.Name())
	}
}
