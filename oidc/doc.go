// Package oidc provides a relying-party engine for the OpenID Connect
// Authorization Code flow with PKCE (RFC 7636). It covers the security
// bearing half of a login system: CSRF state generation, PKCE
// verifier/challenge derivation, the authorization redirect URL, callback
// validation, the code-for-token exchange, userinfo retrieval, session
// persistence with lazy expiry, token refresh and logout.
//
// The Engine is explicitly constructed with an injected Config and
// CredentialStore, so multiple independent engines can coexist (one per
// test, one per user profile, etc). Rendering, routing and configuration
// sourcing are left to the caller; see examples/cli for a minimal
// collaborator.
//
// Providers are expected to lay out their endpoints as issuer + /authorize,
// /token, /userinfo and /signoff, which matches PingOne for Customers and
// any provider with a compatible path scheme.
package oidc
