// Package opspilot keeps the session of a team-status application in sync with
// its credential provider and team directory.
//
// Session synchronization:
//   - Synchronizer bootstraps the session from the CredentialStore, listens to
//     auth events for the lifetime of an application instance and resolves the
//     directory Member behind every signed in Identity.
//   - Roles are never stored. A member is the manager of its team when its
//     email matches the team manager email, every other member is a plain member.
//
// Registration recovery:
//   - Register stores a single RegistrationIntent in a PendingRegistrationCache
//     before asking the credential provider to create the identity.
//   - CompleteRegistration runs in two idempotent phases (team, member). The
//     intent is only cleared after the member exists, so a failed attempt is
//     resumed on the next sign in or application start.
//
// Session state:
//   - SessionState is owned by an application Instance and exposes the current
//     user, the loading flag and the derived manager flag. Only the
//     Synchronizer and Accounts write to it.
package opspilot
