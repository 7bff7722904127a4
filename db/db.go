package db

import (
	"context"
	"fmt"
	"log/slog"

	"zapdesk/models"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

// Connect abre a conexão do ledger (sqlite3 ou postgres) e faz o automigrate
// da tabela de eventos.
func Connect(driver, dsn string, logger *slog.Logger) (*gorm.DB, error) {
	switch driver {
	case "postgres", "postgresql":
		driver = "postgres"
	case "sqlite3", "sqlite":
		driver = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}

	db, err := gorm.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger (%s): %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite serializes writers anyway; one connection also keeps :memory: usable.
		db.DB().SetMaxOpenConns(1)
	}
	db.LogMode(logger != nil && logger.Enabled(context.Background(), slog.LevelDebug))

	if err := db.AutoMigrate(&models.Event{}).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}

	if logger != nil {
		logger.Info("ledger connected", "driver", driver)
	}
	return db, nil
}
