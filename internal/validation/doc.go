// Package validation gates privileged commands behind a protection access
// token.
//
// A token is accepted when the OP's introspection endpoint reports it as
// active and bound to a client. The resulting client id is recorded on the
// RP as its setup client, and later commands for that RP must present a
// token issued to the same client.
package validation
