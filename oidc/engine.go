package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// Status enumerates the engine's lifecycle states.
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusLoginPending    Status = "login-pending"
	StatusAuthenticated   Status = "authenticated"
	StatusError           Status = "error"
)

// pendingLogin is the transient pair that exists only between BeginLogin and
// the matching HandleCallback. It is held in a single slot: a later
// BeginLogin silently replaces it, and HandleCallback consumes it whether the
// callback succeeds or fails, so an authorization code is never retried.
type pendingLogin struct {
	state    string
	verifier CodeVerifier
}

// Engine orchestrates one logical session's OIDC authorization code flow with
// PKCE: login initiation, callback handling, the code-for-token exchange,
// refresh and logout. It owns the in-memory Session and PendingLogin and
// delegates persistence to an injected CredentialStore.
//
// An Engine manages a single logical session; construct one per user context.
// Its methods are safe for use by multiple goroutines, but only one login can
// be in flight at a time.
type Engine struct {
	config *Config
	store  CredentialStore
	client *http.Client
	logger hclog.Logger

	mu      sync.Mutex
	status  Status
	session Session
	pending *pendingLogin

	// now is the engine's time source; tests override it via WithNow to
	// simulate expiry without sleeping.
	now        func() time.Time
	expirySkew time.Duration
}

// NewEngine creates an Engine from the config and credential store. The
// store's snapshot decides the initial state: a valid, unexpired snapshot
// restores an authenticated session, anything else starts unauthenticated.
// Supported options: WithNow, WithExpirySkew
func NewEngine(c *Config, cs CredentialStore, opt ...Option) (*Engine, error) {
	const op = "oidc.NewEngine"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if cs == nil {
		return nil, fmt.Errorf("%s: credential store is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid configuration: %w", op, err)
	}
	client, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	opts := getEngineOpts(opt...)
	e := &Engine{
		config:     c,
		store:      cs,
		client:     client,
		logger:     c.Logger,
		status:     StatusUnauthenticated,
		now:        opts.withNow,
		expirySkew: opts.withExpirySkew,
	}
	if e.logger == nil {
		e.logger = hclog.NewNullLogger()
	}
	if s, ok := cs.Load(); ok && e.sessionUsable(s) {
		e.session = *s
		e.status = StatusAuthenticated
		e.logger.Debug("restored persisted session", "sub", s.User.Subject, "expires_at", s.ExpiresAt)
	}
	return e, nil
}

// BeginLogin generates a fresh state and PKCE verifier, stores them as the
// single in-flight pending login, and returns the fully-formed authorization
// URL the caller should navigate the end user's browser to. Beginning a
// second login silently discards the first's pending state, so the earlier
// attempt's callback will fail.
func (e *Engine) BeginLogin() (string, error) {
	const op = "Engine.BeginLogin"
	state, err := NewState()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	v, err := NewCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate code verifier: %w", op, err)
	}

	e.mu.Lock()
	if e.pending != nil {
		e.logger.Debug("replacing in-flight login attempt")
	}
	e.pending = &pendingLogin{state: state, verifier: v}
	e.status = StatusLoginPending
	e.mu.Unlock()

	authURL := e.oauthConfig().AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", v.Challenge()),
		oauth2.SetAuthURLParam("code_challenge_method", string(v.Method())),
	)
	return authURL, nil
}

// HandleCallback consumes the state and code delivered by the provider's
// redirect, validates them against the pending login, exchanges the code plus
// verifier for tokens, fetches the user's profile, and commits the session to
// the credential store.
//
// Validation fails fast in order: missing parameters, missing pending login,
// state mismatch. The pending login is consumed on every path; authorization
// codes are single-use by provider contract, so a failed exchange is never
// retried - the caller starts over with BeginLogin.
func (e *Engine) HandleCallback(ctx context.Context, state string, code string) (*Session, error) {
	const op = "Engine.HandleCallback"
	if state == "" || code == "" {
		return nil, fmt.Errorf("%s: state or code is empty: %w", op, ErrMissingCallbackParams)
	}

	e.mu.Lock()
	pending := e.pending
	e.pending = nil // single use, consumed even when this attempt fails
	e.mu.Unlock()

	if pending == nil || pending.verifier == nil || pending.verifier.Verifier() == "" {
		e.setError()
		return nil, fmt.Errorf("%s: no login in flight: %w", op, ErrMissingVerifier)
	}
	if state != pending.state {
		e.setError()
		return nil, fmt.Errorf("%s: %w", op, ErrCSRFMismatch)
	}

	ctx, cancel := e.requestContext(ctx)
	defer cancel()
	oidcCtx := HTTPClientContext(ctx, e.client)

	tk, err := e.oauthConfig().Exchange(oidcCtx, code,
		oauth2.SetAuthURLParam("code_verifier", pending.verifier.Verifier()),
	)
	if err != nil {
		e.setError()
		e.logger.Debug("code exchange failed", "error", err)
		return nil, fmt.Errorf("%s: unable to exchange authorization code: %w", op, ErrTokenExchangeFailed)
	}
	if tk.AccessToken == "" || tk.Expiry.IsZero() {
		e.setError()
		return nil, fmt.Errorf("%s: token response is missing access_token or expiry: %w", op, ErrTokenExchangeFailed)
	}

	profile, err := e.fetchUserInfo(ctx, tk.AccessToken)
	if err != nil {
		e.setError()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	idToken, _ := tk.Extra("id_token").(string) // optional

	session := Session{
		Authenticated: true,
		User:          profile,
		AccessToken:   AccessToken(tk.AccessToken),
		IDToken:       IDToken(idToken),
		RefreshToken:  RefreshToken(tk.RefreshToken),
		ExpiresAt:     tk.Expiry,
	}

	e.mu.Lock()
	e.session = session
	e.status = StatusAuthenticated
	e.mu.Unlock()

	if err := e.store.Save(session); err != nil {
		// the engine can still serve this session from memory; the next
		// process start will simply begin unauthenticated
		e.logger.Warn("unable to persist session", "error", err)
	}

	e.logger.Debug("authenticated", "sub", profile.Subject, "expires_at", session.ExpiresAt)
	return &session, nil
}

// IsAuthenticated reports whether the engine holds a live session. The check
// re-derives from the stored expiry on every call, so a polling caller
// observes the expiry transition without any external signal.
func (e *Engine) IsAuthenticated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusAuthenticated {
		return false
	}
	return e.sessionUsable(&e.session)
}

// RefreshAccessToken exchanges the held refresh token for a new access token.
// It returns (false, nil) when no refresh token is held. On success the
// access token and expiry are replaced, and the refresh token is replaced
// only if the provider rotated it. A failed refresh leaves the existing
// session untouched: the access token may still be valid, and it is the
// caller's call whether to force a fresh login.
func (e *Engine) RefreshAccessToken(ctx context.Context) (bool, error) {
	const op = "Engine.RefreshAccessToken"
	e.mu.Lock()
	refreshToken := e.session.RefreshToken
	e.mu.Unlock()
	if refreshToken == "" {
		return false, nil
	}

	ctx, cancel := e.requestContext(ctx)
	defer cancel()
	oidcCtx := HTTPClientContext(ctx, e.client)

	src := e.oauthConfig().TokenSource(oidcCtx, &oauth2.Token{
		RefreshToken: string(refreshToken),
	})
	tk, err := src.Token()
	if err != nil {
		e.logger.Debug("token refresh failed", "error", err)
		return false, fmt.Errorf("%s: unable to refresh access token: %w", op, ErrTokenExchangeFailed)
	}
	if tk.AccessToken == "" {
		return false, fmt.Errorf("%s: refresh response is missing access_token: %w", op, ErrTokenExchangeFailed)
	}

	e.mu.Lock()
	e.session.AccessToken = AccessToken(tk.AccessToken)
	if !tk.Expiry.IsZero() {
		e.session.ExpiresAt = tk.Expiry
	}
	if tk.RefreshToken != "" {
		// providers may omit rotation; keep the old refresh token then
		e.session.RefreshToken = RefreshToken(tk.RefreshToken)
	}
	if id, ok := tk.Extra("id_token").(string); ok && id != "" {
		e.session.IDToken = IDToken(id)
	}
	e.session.Authenticated = true
	e.status = StatusAuthenticated
	snapshot := e.session
	e.mu.Unlock()

	if err := e.store.Save(snapshot); err != nil {
		e.logger.Warn("unable to persist refreshed session", "error", err)
	}
	return true, nil
}

// Logout clears the in-memory session and the credential store snapshot
// unconditionally, then, only when an ID token was held, returns the provider
// logout URL carrying id_token_hint and the configured post-logout redirect.
// Local state is cleared before the redirect is built, so the engine is
// logged out even if the redirect is never followed. A store-clear failure is
// reported alongside whatever URL was produced; the local logout still
// happened.
func (e *Engine) Logout() (string, error) {
	const op = "Engine.Logout"
	e.mu.Lock()
	idToken := e.session.IDToken
	e.session = Session{}
	e.pending = nil
	e.status = StatusUnauthenticated
	e.mu.Unlock()

	var clearErr error
	if err := e.store.Clear(); err != nil {
		clearErr = fmt.Errorf("%s: unable to clear credential store: %w", op, err)
		e.logger.Warn("unable to clear credential store", "error", err)
	}

	if idToken == "" {
		// local-only logout
		return "", clearErr
	}

	u, err := url.Parse(e.config.LogoutEndpoint())
	if err != nil {
		return "", fmt.Errorf("%s: invalid logout endpoint: %w", op, ErrInvalidIssuer)
	}
	q := url.Values{}
	q.Set("id_token_hint", string(idToken))
	if e.config.LogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", e.config.LogoutRedirectURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), clearErr
}

// Status returns the engine's current lifecycle state. Note that an
// authenticated session may have lazily expired; IsAuthenticated is the
// authoritative liveness check.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// CurrentSession returns a snapshot copy of the engine's session.
func (e *Engine) CurrentSession() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// User returns the authenticated user's profile, or nil when the session is
// not live.
func (e *Engine) User() *UserProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusAuthenticated || !e.sessionUsable(&e.session) {
		return nil
	}
	return e.session.User
}

// AccessToken returns the session's access token, or "" when the session is
// not live.
func (e *Engine) AccessToken() AccessToken {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusAuthenticated || !e.sessionUsable(&e.session) {
		return ""
	}
	return e.session.AccessToken
}

// sessionUsable checks the session against the engine's clock: authenticated,
// token present, expiry strictly in the future.
func (e *Engine) sessionUsable(s *Session) bool {
	if s == nil || !s.Authenticated || s.AccessToken == "" || s.User == nil {
		return false
	}
	return !s.expired(e.now(), WithExpirySkew(e.expirySkew))
}

// setError moves the engine to StatusError after a failed callback attempt.
// The session invariant holds: a failure never leaves a half-populated
// authenticated session behind.
func (e *Engine) setError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = StatusError
}

// requestContext bounds provider calls with the configured timeout when the
// caller's context carries no deadline of its own.
func (e *Engine) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	timeout := e.config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// oauthConfig assembles the oauth2 client config for this provider. The
// required "openid" scope is always requested first.
func (e *Engine) oauthConfig() *oauth2.Config {
	scopes := append([]string{oidc.ScopeOpenID}, e.config.Scopes...)
	return &oauth2.Config{
		ClientID:    e.config.ClientID,
		RedirectURL: e.config.RedirectURL,
		Endpoint:    e.config.Endpoint(),
		Scopes:      scopes,
	}
}

// fetchUserInfo gets the userinfo claims with the access token just issued.
// The "sub" claim is required; a response without it is treated the same as
// any other malformed provider response.
func (e *Engine) fetchUserInfo(ctx context.Context, accessToken string) (*UserProfile, error) {
	const op = "Engine.fetchUserInfo"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.UserInfoEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create userinfo request: %w", op, ErrTokenExchangeFailed)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Debug("userinfo request failed", "error", err)
		return nil, fmt.Errorf("%s: userinfo request failed: %w", op, ErrTokenExchangeFailed)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: userinfo request returned %d: %w", op, resp.StatusCode, ErrTokenExchangeFailed)
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode userinfo response: %w", op, ErrTokenExchangeFailed)
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%s: userinfo response is missing sub: %w", op, ErrTokenExchangeFailed)
	}
	return &UserProfile{
		Subject: sub,
		Claims:  claims,
	}, nil
}

// engineOptions is the set of available options for Engine functions
type engineOptions struct {
	withNow        func() time.Time
	withExpirySkew time.Duration
}

// engineDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func engineDefaults() engineOptions {
	return engineOptions{
		withNow: time.Now,
	}
}

// getEngineOpts gets the engine defaults and applies the opt overrides passed
// in.
func getEngineOpts(opt ...Option) engineOptions {
	opts := engineDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
