package config

import (
	"time"

	"github.com/teemow/oxd/internal/rp"
)

// StorageKind selects the RP persistence backend.
type StorageKind string

// Supported storage backends.
const (
	StorageMemory StorageKind = "memory"
	StorageFile   StorageKind = "file"
	StorageSQLite StorageKind = "sqlite"
	StorageRedis  StorageKind = "redis"
)

// StorageKinds lists every supported backend.
var StorageKinds = []StorageKind{StorageMemory, StorageFile, StorageSQLite, StorageRedis}

// Configuration is the process-wide daemon configuration.
type Configuration struct {
	// Port is the TCP port the command server listens on.
	Port int `yaml:"port"`

	// LocalhostOnly binds the command server to the loopback interface.
	LocalhostOnly bool `yaml:"localhost_only"`

	// TimeOutInSeconds bounds every outbound HTTP call to the OP.
	TimeOutInSeconds int `yaml:"time_out_in_seconds"`

	// TrustAllCerts disables TLS verification of the OP. Development only.
	TrustAllCerts bool `yaml:"trust_all_certs"`

	// TrustStorePath points to a PEM bundle of CAs trusted for OP connections.
	TrustStorePath string `yaml:"trust_store_path"`

	StateExpirationInMinutes            int `yaml:"state_expiration_in_minutes"`
	NonceExpirationInMinutes            int `yaml:"nonce_expiration_in_minutes"`
	PublicOpKeyCacheExpirationInMinutes int `yaml:"public_op_key_cache_expiration_in_minutes"`
	HousekeepingIntervalInSeconds       int `yaml:"housekeeping_interval_in_seconds"`
	MaxConcurrentConnections            int `yaml:"max_concurrent_connections"`
	ConnectionIdleTimeoutInSeconds      int `yaml:"connection_idle_timeout_in_seconds"`
	MetricsPort                         int `yaml:"metrics_port"`

	// ProtectCommandsWithAccessToken requires a protection access token for
	// privileged commands unless explicitly set to false.
	ProtectCommandsWithAccessToken *bool `yaml:"protect_commands_with_access_token"`

	// UMA2AutoRegisterClaimsGatheringEndpoint appends the OP's claims
	// interaction endpoint to claims_redirect_uri during registration.
	UMA2AutoRegisterClaimsGatheringEndpoint *bool `yaml:"uma2_auto_register_claims_gathering_endpoint_as_redirect_uri_of_client"`

	Storage              StorageKind          `yaml:"storage"`
	StorageConfiguration StorageConfiguration `yaml:"storage_configuration"`

	// DefaultSite is the template used to fill gaps in registration requests.
	DefaultSite rp.RP `yaml:"default_site_config"`
}

// StorageConfiguration holds backend specific settings.
type StorageConfiguration struct {
	// Directory is used by the file backend.
	Directory string `yaml:"directory"`

	// DSN is the sqlite data source, e.g. a file path.
	DSN string `yaml:"dsn"`

	// Redis settings.
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
}

// ProtectCommands reports whether privileged commands require a protection
// access token. Only an explicit false disables protection.
func (c *Configuration) ProtectCommands() bool {
	return c.ProtectCommandsWithAccessToken == nil || *c.ProtectCommandsWithAccessToken
}

// ProtectionExplicitlyDisabled reports whether protection was set to false.
func (c *Configuration) ProtectionExplicitlyDisabled() bool {
	return c.ProtectCommandsWithAccessToken != nil && !*c.ProtectCommandsWithAccessToken
}

// AutoRegisterClaimsGatheringEndpoint reports whether the UMA claims
// interaction endpoint should be added to claims redirect URIs.
func (c *Configuration) AutoRegisterClaimsGatheringEndpoint() bool {
	return c.UMA2AutoRegisterClaimsGatheringEndpoint != nil && *c.UMA2AutoRegisterClaimsGatheringEndpoint
}

// Timeout returns the outbound HTTP timeout.
func (c *Configuration) Timeout() time.Duration {
	return time.Duration(c.TimeOutInSeconds) * time.Second
}

// StateExpiration returns how long an issued state stays valid.
func (c *Configuration) StateExpiration() time.Duration {
	return time.Duration(c.StateExpirationInMinutes) * time.Minute
}

// NonceExpiration returns how long an issued nonce stays valid.
func (c *Configuration) NonceExpiration() time.Duration {
	return time.Duration(c.NonceExpirationInMinutes) * time.Minute
}

// OpCacheExpiration returns how long OP metadata is cached.
func (c *Configuration) OpCacheExpiration() time.Duration {
	return time.Duration(c.PublicOpKeyCacheExpirationInMinutes) * time.Minute
}

// HousekeepingInterval returns the period of the background sweeper.
func (c *Configuration) HousekeepingInterval() time.Duration {
	return time.Duration(c.HousekeepingIntervalInSeconds) * time.Second
}

// ConnectionIdleTimeout returns how long a connection may stay silent.
// Zero means no limit.
func (c *Configuration) ConnectionIdleTimeout() time.Duration {
	return time.Duration(c.ConnectionIdleTimeoutInSeconds) * time.Second
}

// BoolPtr is a helper for optional boolean settings.
func BoolPtr(b bool) *bool {
	return &b
}
