package config

const (
	DefaultPort                                = 8099
	DefaultTimeOutInSeconds                    = 30
	DefaultStateExpirationInMinutes            = 5
	DefaultNonceExpirationInMinutes            = 5
	DefaultPublicOpKeyCacheExpirationInMinutes = 60
	DefaultHousekeepingIntervalInSeconds       = 60
	DefaultMaxConcurrentConnections            = 256
	DefaultMetricsPort                         = 9090
	DefaultFileStorageDirectory                = "rp"
	DefaultSQLiteDSN                           = "oxd.db"
	DefaultRedisKeyPrefix                      = "oxd:rp:"
)

// Default returns the configuration used when no file is present.
func Default() Configuration {
	return Configuration{
		Port:                                DefaultPort,
		LocalhostOnly:                       true,
		TimeOutInSeconds:                    DefaultTimeOutInSeconds,
		StateExpirationInMinutes:            DefaultStateExpirationInMinutes,
		NonceExpirationInMinutes:            DefaultNonceExpirationInMinutes,
		PublicOpKeyCacheExpirationInMinutes: DefaultPublicOpKeyCacheExpirationInMinutes,
		HousekeepingIntervalInSeconds:       DefaultHousekeepingIntervalInSeconds,
		MaxConcurrentConnections:            DefaultMaxConcurrentConnections,
		MetricsPort:                         DefaultMetricsPort,
		Storage:                             StorageMemory,
		StorageConfiguration: StorageConfiguration{
			Directory:      DefaultFileStorageDirectory,
			DSN:            DefaultSQLiteDSN,
			RedisKeyPrefix: DefaultRedisKeyPrefix,
		},
	}
}
