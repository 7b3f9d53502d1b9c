package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tomasv/fedipost/internal/domain"
)

// InitDB opens the sqlite publish-history database and runs
// migrations. The parent directory is created when missing so a fresh
// deployment works without manual setup.
// Parameters:
//   - path: sqlite database file path.
// Returns:
//   - *gorm.DB: initialized database handle.
//   - error: non-nil if opening or migrating fails.
func InitDB(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}

	if err := db.AutoMigrate(&domain.PublishRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return db, nil
}
