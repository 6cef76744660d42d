// Package google manages per-account Google OAuth2 credentials.
//
// Store keeps the installed client secret and one token file per account
// email under a single root directory. Writes are atomic and serialized per
// email.
//
// FlowManager drives the authorization flow for an account:
//
//	no_client_secret -> ready -> authorization_requested
//	    -> code_exchange_pending -> authenticated -> revoked
//
// It builds consent URLs, exchanges authorization codes against the Google
// token endpoint with a bounded timeout, and revokes stored tokens.
package google
