// Package rp defines the Relying Party record managed by the daemon.
//
// An RP is created by register_site, persisted once its client credentials are
// known, and optionally bound to the setup client that authorized it. It is
// keyed by its oxd_id, which never changes after assignment.
package rp
