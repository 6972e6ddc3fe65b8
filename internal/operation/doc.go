// Package operation implements the commands understood by the daemon.
//
// Every command type maps to a Constructor in a static registry. A
// constructor decodes the command params and returns an Operation bound to
// the shared Services. Operations report expected failures as
// *protocol.Error; any other error is treated as internal by the caller.
//
// # Registration
//
// register_site and setup_client share one pipeline:
//
//  1. fill missing fields from the caller, the default site template and
//     hardcoded defaults, failing on the first missing mandatory field
//  2. assign a fresh oxd_id
//  3. reuse caller supplied client credentials or register dynamically
//  4. persist the RP
//  5. bind the RP to the client of the protection access token
//
// A failure in step 5 leaves the persisted RP in place without a setup
// client. The caller retries protection, nothing is rolled back.
package operation
