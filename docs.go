// pingauth provides an embeddable OIDC authorization code + PKCE engine for
// PingOne-style providers, with pluggable credential stores for session
// persistence.
//
// See the oidc package for the engine and the oidc/store package for the
// bundled CredentialStore implementations.
package pingauth
