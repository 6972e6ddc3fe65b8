// Package cmd implements the command-line interface for oxd.
//
// This package provides the following commands:
//   - serve: Start the command server, housekeeping and the metrics server
//   - purge: Remove all stored sites from the configured storage backend
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
// Flags can be given as OXD_* environment variables as well.
package cmd
