// Package auth implements the authentication and token lifecycle core for a
// backend service: bearer access tokens, single-use action tokens, and
// login-attempt throttling with lockout.
//
// Access tokens:
//   - TokenService signs and validates short-lived JWT bearer credentials.
//     Capability flags (admin, verified) are captured at issue time; callers
//     that mutate authentication-relevant user state should reissue through
//     Auther.IssueFor so the fresh credential reflects the new state.
//
// Action tokens:
//   - ActionTokenService manages purpose-scoped, single-use secrets used for
//     registration confirmation and password reset. Issuing a token
//     supersedes prior valid tokens of the same (user, purpose) pair, and
//     Consume guarantees at-most-once application of the associated side
//     effect even under concurrent presentation of the same secret.
//
// Lockout:
//   - LoginAttemptTracker counts failed logins per identifier (usually the
//     client IP) and locks the identifier after too many consecutive
//     failures. An in-memory tracker covers single-process deployments; the
//     Redis tracker supplies the durable, TTL-backed counters multi-instance
//     deployments need.
//
// Auther coordinates login on top of these services; the command handlers
// drive registration, confirmation, and password reset. Activity sinks run
// best-effort so audit forwarding never blocks authentication.
package auth
