package instrumentation

import (
	"net/url"
	"strings"
)

// Cardinality management helpers for metrics.
// These functions reduce high-cardinality label values to prevent metrics explosion.
//
// # Warning
//
// High cardinality in metrics can cause:
// - Increased memory usage in Prometheus/metrics backends
// - Slower query performance
// - Higher storage costs
//
// Always use these helpers when recording metrics with OP hosts.

// NormalizeOpHost reduces an OP host URL to its lower-cased host name so that
// paths, ports and trailing slashes do not create distinct label values.
//
// Example:
//
//	NormalizeOpHost("https://OP.example.com/")            // "op.example.com"
//	NormalizeOpHost("https://op.example.com:8443/oxauth") // "op.example.com"
//	NormalizeOpHost("not a url")                          // "unknown"
//	NormalizeOpHost("")                                   // "unknown"
func NormalizeOpHost(opHost string) string {
	if opHost == "" {
		return "unknown"
	}

	u, err := url.Parse(opHost)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}

	return strings.ToLower(u.Hostname())
}

// Names of the stores swept by housekeeping.
// Status, result and endpoint constants are defined in config.go.
const (
	StoreState     = "state"
	StoreNonce     = "nonce"
	StoreDiscovery = "discovery"
)
