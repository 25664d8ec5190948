package config

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"

	"github.com/tildaslashalef/shopsync/internal/loggy"
)

// SettingsService keeps persisted settings and the in-memory Config in step
type SettingsService struct {
	repo   SettingsRepository
	config *Config
	logger *loggy.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(db *sql.DB, config *Config, logger *loggy.Logger) *SettingsService {
	return NewSettingsServiceWithRepository(NewSQLSettingsRepository(db, logger), config, logger)
}

// NewSettingsServiceWithRepository creates a settings service over an existing repository
func NewSettingsServiceWithRepository(repo SettingsRepository, config *Config, logger *loggy.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// LoadSyncSettings loads sync settings from the database into the Config
func (s *SettingsService) LoadSyncSettings(ctx context.Context) error {
	return LoadSyncSettings(ctx, s.config, s.repo)
}

// Set validates and stores one setting, applying it to the in-memory config too
func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	if !slices.Contains(SettingKeys, key) {
		return fmt.Errorf("unknown setting %q", key)
	}

	switch key {
	case KeyServerURL:
		s.config.Server.URL = value
	case KeyServerToken:
		s.config.Server.Token = value
	case KeyDeviceName:
		s.config.Server.DeviceName = value
	case KeyTenantID:
		s.config.Session.TenantID = value
	case KeyUserID:
		s.config.Session.UserID = value
	case KeyEnabled:
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", key, value, err)
		}
		s.config.Server.Enabled = enabled
		value = strconv.FormatBool(enabled)
	}

	if err := s.repo.SetSetting(ctx, key, value); err != nil {
		return err
	}

	s.logger.Debug("Setting updated", "key", key)
	return nil
}

// SetDeviceName stores the device name used to identify this installation
func (s *SettingsService) SetDeviceName(ctx context.Context, name string) error {
	return s.Set(ctx, KeyDeviceName, name)
}
