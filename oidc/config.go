package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	strutil "github.com/xexe45/pingauth-go/oidc/internal/strutils"
)

// DefaultRequestTimeout bounds every network call the engine makes (token
// exchange, refresh, userinfo) when the caller's context carries no deadline.
const DefaultRequestTimeout = 30 * time.Second

// Fixed endpoint paths relative to the issuer. This matches the PingOne for
// Customers layout; the provider is not discovered via
// /.well-known/openid-configuration.
const (
	authorizePath = "/authorize"
	tokenPath     = "/token"
	userInfoPath  = "/userinfo"
	logoutPath    = "/signoff"
)

// DefaultScopes are requested when the caller configures none. "openid" is
// always requested regardless.
var DefaultScopes = []string{"profile", "email"}

// Config represents the configuration for a public-client OIDC authorization
// code flow with PKCE. There is no client secret: possession of the PKCE
// verifier is what binds the code exchange to this client.
type Config struct {
	// ClientID is the relying party id
	ClientID string

	// Issuer is a case-sensitive URL using the http(s) scheme with scheme,
	// host, and optionally port and path components and no query or fragment
	// components. The provider endpoints are derived from it.
	Issuer string

	// RedirectURL is the URL the provider redirects back to with the
	// authorization code and state.
	RedirectURL string

	// LogoutRedirectURL is the optional URL the provider redirects back to
	// after a remote logout.
	LogoutRedirectURL string

	// Scopes is a list of additional oidc scopes to request of the provider.
	// The required "openid" scope is requested by default and should not be
	// part of this optional list.
	Scopes []string

	// ProviderCA is an optional CA cert PEM to use when sending requests to
	// the provider.
	ProviderCA string

	// RequestTimeout bounds provider calls made with a context that has no
	// deadline of its own.
	RequestTimeout time.Duration

	// Logger is an optional logger
	Logger hclog.Logger
}

// NewConfig composes a new config for an engine.
// Supported options: WithScopes, WithProviderCA, WithLogger,
// WithLogoutRedirectURL, WithRequestTimeout
func NewConfig(issuer string, clientID string, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:            strings.TrimSuffix(issuer, "/"),
		ClientID:          clientID,
		RedirectURL:       redirectURL,
		LogoutRedirectURL: opts.withLogoutRedirectURL,
		Scopes:            opts.withScopes,
		ProviderCA:        opts.withProviderCA,
		RequestTimeout:    opts.withRequestTimeout,
		Logger:            opts.withLogger,
	}
	if len(c.Scopes) == 0 {
		c.Scopes = append([]string{}, DefaultScopes...)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid configuration: %w", op, err)
	}
	return c, nil
}

// Validate the configuration. It verifies the issuer parses as an http(s)
// URL, but it doesn't verify the issuer is reachable.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid: %w", op, c.Issuer, ErrInvalidIssuer)
	}
	if !strutil.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%s: issuer %s scheme is not http or https: %w", op, c.Issuer, ErrInvalidIssuer)
	}
	for _, s := range c.Scopes {
		if s == "" {
			return fmt.Errorf("%s: empty scope: %w", op, ErrInvalidParameter)
		}
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%s: request timeout is negative: %w", op, ErrInvalidParameter)
	}
	return nil
}

// AuthorizationEndpoint is the provider URL the end user's browser is sent to
// when a login begins.
func (c *Config) AuthorizationEndpoint() string { return c.Issuer + authorizePath }

// TokenEndpoint is the provider URL codes and refresh tokens are exchanged
// against.
func (c *Config) TokenEndpoint() string { return c.Issuer + tokenPath }

// UserInfoEndpoint is the provider URL claims are fetched from with a bearer
// access token.
func (c *Config) UserInfoEndpoint() string { return c.Issuer + userInfoPath }

// LogoutEndpoint is the provider URL the end user's browser is sent to for a
// remote logout.
func (c *Config) LogoutEndpoint() string { return c.Issuer + logoutPath }

// Endpoint returns the derived oauth2 endpoint pair. AuthStyleInParams is
// required: a public client has no secret, so client_id must travel in the
// form body of token requests rather than in basic auth.
func (c *Config) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   c.AuthorizationEndpoint(),
		TokenURL:  c.TokenEndpoint(),
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// HTTPClient is a helper function that creates a new http client for the
// configured provider, trusting the optional ProviderCA PEM when one is set
// and the installed system CA chain otherwise.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()

	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}

	return &http.Client{
		Transport: tr,
	}, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options for Config functions
type configOptions struct {
	withScopes            []string
	withProviderCA        string
	withLogger            hclog.Logger
	withLogoutRedirectURL string
	withRequestTimeout    time.Duration
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{
		withRequestTimeout: DefaultRequestTimeout,
	}
}

// getConfigOpts gets the config defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes to request beyond "openid"
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithProviderCA provides an optional CA cert PEM for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithLogger provides an optional logger for the config
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogger = l
		}
	}
}

// WithLogoutRedirectURL provides an optional post-logout redirect URL which
// rides along on the provider logout redirect as post_logout_redirect_uri
func WithLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogoutRedirectURL = u
		}
	}
}

// WithRequestTimeout provides an optional timeout override for provider calls
// made with a context that has no deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRequestTimeout = d
		}
	}
}
