package app

import (
	"fmt"
	"os"
	"path/filepath"

	"luks-keeper/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - LUKS_KEEPER_CONFIG: config file location (default: ~/.config/luks-keeper.toml)
//   - LUKS_KEEPER_HOME: base directory for keys, identity, history and logs
//     (default: ~/.local/share/luks-keeper)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("LUKS_KEEPER_CONFIG"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "luks-keeper.toml"), nil
}

func getBaseDir() (string, error) {
	return config.DefaultBaseDir()
}
