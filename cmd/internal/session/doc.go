// Package session implements the identity session controller.
//
// A Controller owns the live session of one page load (or one CLI run): the
// current user, the instance settings and the pending fragment token. It runs
// the fragment parser once, dispatches account operations to the identity
// provider and funnels every user change through a single choke point that
// notifies the auth-change subscriber.
//
// Operations called in the wrong state (no user, no pending token of the right
// type) fail immediately with a MisuseError before any remote call. Provider
// failures are returned wrapped with the operation name.
package session
