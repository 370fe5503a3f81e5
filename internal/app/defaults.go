package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment
// variables first.
// Environment variables:
//   - FROSTER_CONFIG: config file location (default: ~/.config/froster/froster.toml)
//   - FROSTER_SHARED_DIR: base directory for froster data, pointed at a
//     shared group directory on multi-user systems (default: ~/.local/share/froster)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	dataDir, err := getDataDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"data_dir":    dataDir,
		"log_dir":     filepath.Join(dataDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking the
// FROSTER_CONFIG env var first.
func getConfigPath() (string, error) {
	if path := os.Getenv("FROSTER_CONFIG"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "froster", "froster.toml"), nil
}

// getDataDir returns the data directory (catalog, hotspot CSVs, history
// ledger), checking the FROSTER_SHARED_DIR env var first so cooperating
// users can point at one shared catalog.
func getDataDir() (string, error) {
	if path := os.Getenv("FROSTER_SHARED_DIR"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "froster"), nil
}
