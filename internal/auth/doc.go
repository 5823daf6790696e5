// Package auth issues and verifies the bearer tokens that guard the
// bridge's mutating HTTP routes.
//
// Tokens are HS256 JWTs carrying a subject and a Role. Each role maps to a
// fixed set of permissions, so authorisation never needs a database:
// viewers read, operators also set property values, and admins also pair,
// unpair, discover and clear devices.
package auth
