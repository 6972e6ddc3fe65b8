package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyCommand    = "command"
	KeyOxdID      = "oxd_id"
	KeyOpHost     = "op_host"
	KeyRemoteAddr = "remote_addr"
	KeyDuration   = "duration"
	KeyStatus     = "status"
	KeyError      = "error"
	KeyTokenHash  = "token_hash"
)

// Status values for consistent logging.
// Note: These are intentionally duplicated from instrumentation package
// to avoid circular dependencies (instrumentation imports logging).
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Supported handler formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewLogger builds the process logger. format is "json" or "text"; anything
// else falls back to text.
func NewLogger(w io.Writer, format string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(format, FormatJSON) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// WithCommand returns a logger with the command attribute set.
func WithCommand(logger *slog.Logger, command string) *slog.Logger {
	return logger.With(slog.String(KeyCommand, command))
}

// WithOxdID returns a logger with the oxd_id attribute set.
func WithOxdID(logger *slog.Logger, oxdID string) *slog.Logger {
	return logger.With(slog.String(KeyOxdID, oxdID))
}

// WithConnection returns a logger scoped to a client connection.
func WithConnection(logger *slog.Logger, remoteAddr string) *slog.Logger {
	return logger.With(slog.String(KeyRemoteAddr, remoteAddr))
}

// Command returns a slog attribute for the command name.
func Command(command string) slog.Attr {
	return slog.String(KeyCommand, command)
}

// OxdID returns a slog attribute for the RP identifier.
func OxdID(oxdID string) slog.Attr {
	return slog.String(KeyOxdID, oxdID)
}

// OpHost returns a slog attribute for the OpenID Provider host.
func OpHost(host string) slog.Attr {
	return slog.String(KeyOpHost, host)
}

// RemoteAddr returns a slog attribute for the peer address.
func RemoteAddr(addr string) slog.Attr {
	return slog.String(KeyRemoteAddr, addr)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
// This allows safely passing Err(maybeNilErr) without adding empty attributes.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		// Return an empty Group that slog will omit from output
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// HashToken returns a short SHA-256 fingerprint of a token so that log
// entries can be correlated without exposing the token.
func HashToken(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	return "token:" + hex.EncodeToString(hash[:8])
}

// TokenHash returns a slog attribute with the token fingerprint.
//
// Usage:
//
//	logger.Debug("introspecting", logging.TokenHash(accessToken))
func TokenHash(token string) slog.Attr {
	return slog.String(KeyTokenHash, HashToken(token))
}

// SanitizeToken returns a masked version of a token for logging.
// It returns a length indicator without exposing any token content,
// as even partial token prefixes (like JWT headers) can aid attacks.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
