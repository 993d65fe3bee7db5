// Package gotrue is the client for the remote identity provider (a GoTrue API
// mounted at <site>/.netlify/identity).
//
// It is the consumed service contract of the session controller: signup,
// password login, token verification (confirmation, invite, recovery),
// external-provider URLs, profile updates, token refresh and logout.
// Results are authoritative; callers never re-derive them.
//
// Sessions obtained with remember=true are written to a Store so that a later
// process (or page load) can restore them with CurrentUser.
package gotrue
