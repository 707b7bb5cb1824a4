// Package authstate tracks the authenticated session of an admin dashboard:
// who is signed in, whether the backend has vouched for that identity, and
// how long the user may stay idle before the session winds down.
//
// Credential store:
//   - CredentialStore persists the bearer token and cached auth facts as
//     {value, expires} envelopes with per fact TTLs. Implementations back
//     onto memory or Bun managed SQL so a dashboard restart resumes the
//     same session. Expired envelopes are discarded on read.
//
// State machine:
//   - StateMachine owns the auth snapshot (user, loading, authChecked,
//     error). Bootstrap replays the cached identity before consulting the
//     Oracle, Login exchanges a Google credential for a session token, and
//     RefreshAuthStatus revalidates in place without flicker. Concurrent
//     refreshes resolve last writer wins so a stale response can never
//     downgrade a newer one.
//
// Session monitor:
//   - SessionMonitor walks Active -> IdleWarning -> Expired on the
//     configured schedule. User activity resets the idle clock, clearing
//     the warning requires an explicit ExtendSession, and expiry tears the
//     session down through the state machine.
//
// Route guards:
//   - Guard folds the snapshot and cached admin facts into a navigation
//     Decision: wait, verify, redirect to login, redirect home, or allow.
//     The guardware middleware enforces decisions over HTTP, matching the
//     presented token against the live session credential.
//
// Development identity:
//   - TrustedIdentity seeds a local identity during Bootstrap when the
//     environment allows it, minting a short lived token when the backend
//     never issued one. Production mode refuses seeding regardless of
//     configuration.
package authstate
