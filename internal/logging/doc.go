// Package logging provides structured logging utilities for the oxd daemon.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Structured logging with slog, text or JSON output
//   - Consistent attribute naming across the codebase
//   - Token fingerprinting instead of raw secrets
//   - Logger adapter interface for flexibility
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithCommand(slog.Default(), "register_site")
//	logger.Info("site registered",
//	    logging.OxdID(oxdID),
//	    logging.Status("success"))
//
// Fingerprint sensitive data before logging:
//
//	logger.Debug("protecting command",
//	    logging.TokenHash(accessToken))
//
// # Security Considerations
//
// Client secrets, passwords and access tokens are never logged directly.
package logging
