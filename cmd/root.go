package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teemow/oxd/internal/config"
	"github.com/teemow/oxd/internal/logging"
)

// rootCmd represents the base command for the oxd daemon
var rootCmd = &cobra.Command{
	Use:   "oxd",
	Short: "OpenID Connect relying party broker",
	Long: `oxd registers web applications as OpenID Connect clients and performs
the authorization flows on their behalf. Applications talk to it over a
small length-prefixed JSON protocol on a local TCP port.

It runs the command server by default.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// settings holds flag and OXD_* environment overrides.
var settings = newSettings()

func newSettings() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("OXD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "oxd version %s\n" .Version}}`)

	// If no subcommand is provided, run the server
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", fmt.Sprintf("Path to the configuration file (default %q)", config.DefaultConfigFile))
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("log-format", logging.FormatText, "Log format: text or json")
	flags.String("storage", "", "Storage backend: memory, file, sqlite or redis (overrides the configuration file)")
	flags.String("storage-directory", "", "Directory of the file storage backend")
	flags.String("storage-dsn", "", "Database file of the sqlite storage backend")
	flags.String("redis-addr", "", "Address of the redis storage backend")
	for _, name := range []string{"config", "debug", "log-format", "storage", "storage-directory", "storage-dsn", "redis-addr"} {
		if err := settings.BindPFlag(name, flags.Lookup(name)); err != nil {
			slog.Error("failed to bind flag", "flag", name, "error", err)
		}
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPurgeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// newLogger builds the process logger from the debug and log-format settings.
func newLogger(w io.Writer) *slog.Logger {
	return logging.NewLogger(w, settings.GetString("log-format"), settings.GetBool("debug"))
}

// loadConfiguration reads the configuration file and applies overrides
// given as flags or OXD_* environment variables.
func loadConfiguration(v *viper.Viper) (config.Configuration, error) {
	conf, err := config.Load(v.GetString("config"))
	if err != nil {
		return config.Configuration{}, err
	}

	if v.IsSet("port") {
		conf.Port = v.GetInt("port")
	}
	if v.IsSet("storage") {
		conf.Storage = config.StorageKind(v.GetString("storage"))
	}
	if v.IsSet("storage-directory") {
		conf.StorageConfiguration.Directory = v.GetString("storage-directory")
	}
	if v.IsSet("storage-dsn") {
		conf.StorageConfiguration.DSN = v.GetString("storage-dsn")
	}
	if v.IsSet("redis-addr") {
		conf.StorageConfiguration.RedisAddr = v.GetString("redis-addr")
	}
	if v.IsSet("metrics-port") {
		conf.MetricsPort = v.GetInt("metrics-port")
	}

	if err := conf.Validate(); err != nil {
		return config.Configuration{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, nil
}
