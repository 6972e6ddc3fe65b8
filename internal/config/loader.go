package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file name looked up when no path is given.
const DefaultConfigFile = "oxd-conf.yaml"

// Load reads the configuration from path on top of Default(). A missing file
// yields the defaults.
func Load(path string) (Configuration, error) {
	conf := Default()
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("no configuration file found, using defaults", "path", path)
			return conf, nil
		}
		return Configuration{}, fmt.Errorf("failed to read configuration from %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &conf); err != nil {
		return Configuration{}, fmt.Errorf("error loading configuration from %s: %w", path, err)
	}

	if err := conf.Validate(); err != nil {
		return Configuration{}, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	slog.Info("loaded configuration", "path", path, "storage", conf.Storage, "port", conf.Port)
	return conf, nil
}

// Validate checks that the configuration is usable.
func (c *Configuration) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.TimeOutInSeconds <= 0 {
		errs = append(errs, fmt.Errorf("time_out_in_seconds must be positive, got %d", c.TimeOutInSeconds))
	}
	if c.StateExpirationInMinutes <= 0 {
		errs = append(errs, fmt.Errorf("state_expiration_in_minutes must be positive, got %d", c.StateExpirationInMinutes))
	}
	if c.NonceExpirationInMinutes <= 0 {
		errs = append(errs, fmt.Errorf("nonce_expiration_in_minutes must be positive, got %d", c.NonceExpirationInMinutes))
	}
	if c.PublicOpKeyCacheExpirationInMinutes <= 0 {
		errs = append(errs, fmt.Errorf("public_op_key_cache_expiration_in_minutes must be positive, got %d", c.PublicOpKeyCacheExpirationInMinutes))
	}
	if c.HousekeepingIntervalInSeconds <= 0 {
		errs = append(errs, fmt.Errorf("housekeeping_interval_in_seconds must be positive, got %d", c.HousekeepingIntervalInSeconds))
	}
	if c.TrustAllCerts && c.TrustStorePath != "" {
		errs = append(errs, errors.New("trust_all_certs and trust_store_path are mutually exclusive"))
	}

	switch c.Storage {
	case StorageMemory:
	case StorageFile:
		if c.StorageConfiguration.Directory == "" {
			errs = append(errs, errors.New("storage_configuration.directory is required for file storage"))
		}
	case StorageSQLite:
		if c.StorageConfiguration.DSN == "" {
			errs = append(errs, errors.New("storage_configuration.dsn is required for sqlite storage"))
		}
	case StorageRedis:
		if c.StorageConfiguration.RedisAddr == "" {
			errs = append(errs, errors.New("storage_configuration.redis_addr is required for redis storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage %q, must be one of: %v", c.Storage, StorageKinds))
	}

	return errors.Join(errs...)
}
