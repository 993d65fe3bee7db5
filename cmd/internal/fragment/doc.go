// Package fragment classifies the URL fragment an identity provider redirects
// back with, performs the exchanges it owns (email confirmation, external
// access tokens) and strips the fragment from the visible URL.
//
// Fragments look like
//
//	#confirmation_token=abc123
//	#invite_token=...        #recovery_token=...        #email_change_token=...
//	#access_token=...&expires_in=3600&refresh_token=...&token_type=bearer
//	#error=access_denied&error_description=403
//
// The browser location is modeled by Surface so the parser runs the same way
// behind the CLI, the callback server and tests.
package fragment
