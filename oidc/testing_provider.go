package oidc

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xexe45/pingauth-go/oidc/internal/strutils"
)

// TestProvider is a local TLS server that implements the provider side of the
// authorization code flow with PKCE: /authorize, /token, /userinfo and
// /signoff under a fixed endpoint layout. It validates the PKCE challenge it
// saw on /authorize against the verifier presented on /token, and it records
// token requests so tests can assert on exactly what crossed the wire.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu                  sync.Mutex
	clientID            string
	allowedRedirectURIs []string
	expectedAuthCode    string
	pendingChallenge    string
	accessToken         string
	refreshToken        string
	rotatedRefreshToken string
	expiresIn           int
	omitIDToken         bool
	omitRefreshToken    bool
	failTokenExchange   bool
	disableUserInfo     bool
	replySubject        string
	replyUserinfo       map[string]interface{}
	tokenRequestCount   int
	lastTokenRequest    url.Values
	lastSignoffQuery    url.Values

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider on a random port. The
// server is stopped via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t: t,
		allowedRedirectURIs: []string{
			"https://example.com/callback",
		},
		expectedAuthCode: "test-auth-code",
		accessToken:      "test-access-token",
		refreshToken:     "test-refresh-token",
		expiresIn:        3600,
		replySubject:     "alice@example.com",
		replyUserinfo: map[string]interface{}{
			"name":  "Alice Doe",
			"email": "alice@example.com",
		},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the provider's base URL, suitable as a Config issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SetClientID configures the client id /authorize and /token will accept.
// When empty (the default) any client id is accepted.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetAllowedRedirectURIs configures the redirect URIs the provider accepts.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetExpectedAuthCode configures the code returned from /authorize and the
// only code /token will exchange.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAccessToken configures the access_token value /token issues.
func (p *TestProvider) SetAccessToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = token
}

// SetExpiresIn configures the expires_in (seconds) /token issues.
func (p *TestProvider) SetExpiresIn(seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = seconds
}

// SetRotatedRefreshToken makes refresh responses rotate to the given refresh
// token. When unset, refresh responses omit refresh_token entirely, the way
// providers that don't rotate do.
func (p *TestProvider) SetRotatedRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotatedRefreshToken = token
}

// OmitIDToken forces /token responses without an id_token.
func (p *TestProvider) OmitIDToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshToken forces code-exchange responses without a refresh_token.
func (p *TestProvider) OmitRefreshToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// FailTokenExchange makes /token reply invalid_grant to everything.
func (p *TestProvider) FailTokenExchange(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failTokenExchange = fail
}

// DisableUserInfo makes the userinfo endpoint return 404.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// SetUserInfoReply configures the subject and extra claims /userinfo returns.
func (p *TestProvider) SetUserInfoReply(sub string, claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
	p.replyUserinfo = claims
}

// TokenRequestCount reports how many POSTs /token has received.
func (p *TestProvider) TokenRequestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequestCount
}

// LastTokenRequest returns the form values of the most recent /token POST.
func (p *TestProvider) LastTokenRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenRequest
}

// LastSignoffQuery returns the query values of the most recent /signoff GET.
func (p *TestProvider) LastSignoffQuery() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSignoffQuery
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/authorize":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()

		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if !strutils.StrListContains(splitScopes(qv.Get("scope")), "openid") {
			p.writeAuthErrorResponse(w, req, "invalid_scope", "missing openid scope")
			return
		}
		if p.clientID != "" && qv.Get("client_id") != p.clientID {
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
			return
		}
		if !strutils.StrListContains(p.allowedRedirectURIs, qv.Get("redirect_uri")) {
			p.writeAuthErrorResponse(w, req, "invalid_request", "redirect_uri is not allowed")
			return
		}
		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}
		if qv.Get("code_challenge_method") != string(S256) {
			p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported code_challenge_method")
			return
		}
		challenge := qv.Get("code_challenge")
		if challenge == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing code_challenge parameter")
			return
		}
		p.pendingChallenge = challenge

		redirectURI := qv.Get("redirect_uri") +
			"?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "unparsable form body")
			return
		}
		p.tokenRequestCount++
		p.lastTokenRequest = req.PostForm

		if p.failTokenExchange {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "token exchange disabled")
			return
		}
		if p.clientID != "" && req.PostFormValue("client_id") != p.clientID {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unexpected client_id")
			return
		}

		switch req.PostFormValue("grant_type") {
		case "authorization_code":
			if !strutils.StrListContains(p.allowedRedirectURIs, req.PostFormValue("redirect_uri")) {
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
				return
			}
			if req.PostFormValue("code") != p.expectedAuthCode {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			}
			verifier := req.PostFormValue("code_verifier")
			if verifier == "" {
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing code_verifier")
				return
			}
			if p.pendingChallenge != "" {
				sum := sha256.Sum256([]byte(verifier))
				if base64.RawURLEncoding.EncodeToString(sum[:]) != p.pendingChallenge {
					_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "code_verifier does not match challenge")
					return
				}
			}

			reply := map[string]interface{}{
				"access_token": p.accessToken,
				"token_type":   "Bearer",
				"expires_in":   p.expiresIn,
				"scope":        "openid profile email",
			}
			if !p.omitIDToken {
				reply["id_token"] = testUnsignedJWT(p.t, p.Addr(), p.replySubject, req.PostFormValue("client_id"))
			}
			if !p.omitRefreshToken {
				reply["refresh_token"] = p.refreshToken
			}
			_ = p.writeJSON(w, reply)

		case "refresh_token":
			if req.PostFormValue("refresh_token") != p.refreshToken {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh token")
				return
			}
			p.accessToken = p.accessToken + "-refreshed"
			reply := map[string]interface{}{
				"access_token": p.accessToken,
				"token_type":   "Bearer",
				"expires_in":   p.expiresIn,
				"scope":        "openid profile email",
			}
			if p.rotatedRefreshToken != "" {
				p.refreshToken = p.rotatedRefreshToken
				reply["refresh_token"] = p.rotatedRefreshToken
			}
			_ = p.writeJSON(w, reply)

		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
		}

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if req.Header.Get("Authorization") != "Bearer "+p.accessToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{
			"sub": p.replySubject,
		}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		_ = p.writeJSON(w, reply)

	case "/signoff":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.lastSignoffQuery = req.URL.Query()
		if to := req.URL.Query().Get("post_logout_redirect_uri"); to != "" {
			http.Redirect(w, req, to, http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// testUnsignedJWT builds an alg "none" JWT. The engine treats the id_token as
// an opaque hint and never verifies signatures, so an unsigned token is all
// tests need.
func testUnsignedJWT(t *testing.T, issuer, subject, audience string) string {
	t.Helper()
	encode := func(v interface{}) string {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(data)
	}
	header := map[string]interface{}{
		"alg": "none",
		"typ": "JWT",
	}
	claims := map[string]interface{}{
		"iss": issuer,
		"sub": subject,
		"aud": audience,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	return fmt.Sprintf("%s.%s.", encode(header), encode(claims))
}

// splitScopes splits the space-joined scope parameter (RFC 6749 §3.3).
func splitScopes(scope string) []string {
	return strutils.RemoveDuplicatesStable(strings.Fields(scope), false)
}
