// Package config loads the oxd daemon configuration.
//
// The configuration is a YAML document read once at startup. Keys follow the
// names historically used by oxd-conf files, e.g.:
//
//	port: 8099
//	time_out_in_seconds: 30
//	protect_commands_with_access_token: true
//	storage: sqlite
//	storage_configuration:
//	  dsn: /var/lib/oxd/oxd.db
//	default_site_config:
//	  op_host: https://op.example.com
//	  scope: [openid, profile]
//
// default_site_config is the default RP template: its values are used when a
// register_site command omits them.
package config
