// Package override manages manual overrides of automated behaviour.
//
// An override is typed (device control, schedule bypass, anomaly
// ignore, emergency shutdown, system maintenance), scoped to one device
// or system-wide, and carries the creating user, a reason, and an
// optional expiry. Expiry is lazy: records are never reaped by a timer,
// they simply stop matching once their time passes.
//
// Active overrides answer arbitration questions for the rest of the
// system ("is automation bypassed for this device?", "should anomaly
// detection be ignored?"). Revocation is restricted to the creator or
// an admin. In-memory state is authoritative and written through to
// SQLite so the audit trail survives restarts.
package override
