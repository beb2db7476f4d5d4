// Package auth provides JWT-based authentication for the Ward Core API.
//
// Access tokens are HS256-signed and validated by signature only — no
// database hit on the request path. Claims carry the user ID and role;
// the admin role unlocks destructive operations (revoking other users'
// overrides, clearing all overrides, emergency shutdown).
package auth
