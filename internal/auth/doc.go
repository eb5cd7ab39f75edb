// Package auth provides bearer-token authorisation for the usbroles API.
//
// Tokens are HS256 JWTs minted offline with `usbroles token` and carry a
// subject and a role. Roles map to a static permission set:
//   - viewer: read devices, rules and history
//   - operator: viewer plus rule replacement
//   - admin: everything
//
// The API only enforces tokens when a signing secret is configured.
package auth
