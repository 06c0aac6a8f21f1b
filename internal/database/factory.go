package database

import (
	"fmt"
	"os"
	"path/filepath"

	"luks-keeper/internal/config"
	"luks-keeper/internal/keeper"
)

// HistoryFileName is the database file created under history.data_dir.
const HistoryFileName = "history.db"

// NewHistoryFromConfig creates a keeper.History based on the history config type.
func NewHistoryFromConfig(cfg config.HistoryConfig) (keeper.History, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite history")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		return NewSQLiteHistory(filepath.Join(cfg.DataDir, HistoryFileName), nil, nil)
	case "memory":
		return NewSQLiteHistory(":memory:", nil, nil)
	default:
		return nil, fmt.Errorf("unknown history type: %s", cfg.Type)
	}
}
