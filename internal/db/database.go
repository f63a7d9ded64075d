package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/core/models"

	"github.com/glebarez/sqlite" // Pure Go SQLite Treiber
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryFile öffnet eine flüchtige Datenbank
const MemoryFile = ":memory:"

// Open öffnet die Datenbank und führt die Migrationen aus
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	// Sicherstellen, dass das Verzeichnis für die Datenbankdatei existiert
	if cfg.File != "" && cfg.File != MemoryFile {
		dbDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			log.Errorf("Failed to create database directory '%s': %v", dbDir, err)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Konfiguration des GORM-Loggers
	gormLogger := logger.New(
		log.StandardLogger(), // Verwende den konfigurierten logrus-Logger
		logger.Config{
			SlowThreshold:             time.Second * 2, // SQL-Abfragen langsamer als 2 Sekunden werden geloggt
			LogLevel:                  logger.Warn,     // Log-Level (Silent, Error, Warn, Info)
			IgnoreRecordNotFoundError: true,            // ErrRecordNotFound wird nicht geloggt
			Colorful:                  false,           // Keine farbige Ausgabe
		},
	)

	log.Infof("Connecting to database: %s", cfg.File)

	db, err := gorm.Open(sqlite.Open(cfg.File), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Errorf("Failed to connect to database: %v", err)
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	// Verbindungs-Pool-Einstellungen; jede Verbindung zu :memory: wäre eine eigene Datenbank
	if cfg.File == MemoryFile {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info("Database connection established successfully")

	log.Info("Running database migrations...")
	if err := db.AutoMigrate(&models.Visit{}); err != nil {
		log.Errorf("Database migration failed: %v", err)
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.Info("Database migrations completed successfully")
	return db, nil
}

// Close schließt die Datenbankverbindung
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
