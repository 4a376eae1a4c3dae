package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"lakeloader/internal/common"
	"lakeloader/pkg/models"
)

// GetConfigPath returns the configuration directory
func GetConfigPath() string {
	if configPath := os.Getenv("LAKELOADER_CONFIG"); configPath != "" {
		return filepath.Dir(configPath)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lakeloader")
}

// GetConfigFile returns the configuration file path
func GetConfigFile() string {
	if configFile := os.Getenv("LAKELOADER_CONFIG"); configFile != "" {
		cleaned, err := common.CleanPath(configFile)
		if err != nil {
			return filepath.Join(GetConfigPath(), "config.yaml")
		}
		return cleaned
	}
	return filepath.Join(GetConfigPath(), "config.yaml")
}

// Load reads the configuration file; a missing file yields an empty
// config rather than an error
func Load() (*models.Config, error) {
	configFile := GetConfigFile()

	cleanedPath, err := common.CleanPath(configFile)
	if err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	if _, err := os.Stat(cleanedPath); os.IsNotExist(err) {
		return &models.Config{}, nil
	}

	data, err := os.ReadFile(cleanedPath) // #nosec G304 - path is validated
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config models.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}

// Save writes the configuration file, creating the directory on first use
func Save(config *models.Config) error {
	configPath := GetConfigPath()
	if err := os.MkdirAll(configPath, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(GetConfigFile(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists reports whether a configuration file is present
func Exists() bool {
	_, err := os.Stat(GetConfigFile())
	return err == nil
}

func applyDefaults(config *models.Config) {
	if config.Load.Workers == 0 {
		config.Load.Workers = 4
	}
	if config.Load.WatermarkFile == "" {
		config.Load.WatermarkFile = filepath.Join(GetConfigPath(), "watermarks")
	}
	if config.Warehouse.TimeoutSec == 0 {
		config.Warehouse.TimeoutSec = 300
	}
}
