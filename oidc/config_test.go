package oidc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("https://auth.example.com/env/as", "client-id", "https://rp.example.com/callback")
		require.NoError(err)
		assert.Equal("https://auth.example.com/env/as", c.Issuer)
		assert.Equal("client-id", c.ClientID)
		assert.Equal(DefaultScopes, c.Scopes)
		assert.Equal(DefaultRequestTimeout, c.RequestTimeout)
	})
	t.Run("trailing-slash-trimmed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("https://auth.example.com/as/", "client-id", "https://rp.example.com/callback")
		require.NoError(err)
		assert.Equal("https://auth.example.com/as", c.Issuer)
	})
	t.Run("options", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("https://auth.example.com/as", "client-id", "https://rp.example.com/callback",
			WithScopes("profile"),
			WithLogoutRedirectURL("https://rp.example.com/"),
			WithRequestTimeout(5*time.Second),
		)
		require.NoError(err)
		assert.Equal([]string{"profile"}, c.Scopes)
		assert.Equal("https://rp.example.com/", c.LogoutRedirectURL)
		assert.Equal(5*time.Second, c.RequestTimeout)
	})

	tests := []struct {
		name        string
		issuer      string
		clientID    string
		redirectURL string
		opt         []Option
		wantErr     error
	}{
		{
			name:        "empty-client-id",
			issuer:      "https://auth.example.com/as",
			redirectURL: "https://rp.example.com/callback",
			wantErr:     ErrInvalidParameter,
		},
		{
			name:        "empty-issuer",
			clientID:    "client-id",
			redirectURL: "https://rp.example.com/callback",
			wantErr:     ErrInvalidParameter,
		},
		{
			name:     "empty-redirect",
			issuer:   "https://auth.example.com/as",
			clientID: "client-id",
			wantErr:  ErrInvalidParameter,
		},
		{
			name:        "bad-issuer-scheme",
			issuer:      "ldap://auth.example.com/as",
			clientID:    "client-id",
			redirectURL: "https://rp.example.com/callback",
			wantErr:     ErrInvalidIssuer,
		},
		{
			name:        "empty-scope",
			issuer:      "https://auth.example.com/as",
			clientID:    "client-id",
			redirectURL: "https://rp.example.com/callback",
			opt:         []Option{WithScopes("profile", "")},
			wantErr:     ErrInvalidParameter,
		},
		{
			name:        "negative-timeout",
			issuer:      "https://auth.example.com/as",
			clientID:    "client-id",
			redirectURL: "https://rp.example.com/callback",
			opt:         []Option{WithRequestTimeout(-time.Second)},
			wantErr:     ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := NewConfig(tt.issuer, tt.clientID, tt.redirectURL, tt.opt...)
			require.Error(err)
			assert.Nil(c)
			assert.True(errors.Is(err, tt.wantErr))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	t.Run("nil-config", func(t *testing.T) {
		assert := assert.New(t)
		var c *Config
		err := c.Validate()
		assert.True(errors.Is(err, ErrNilParameter))
	})
}

func TestConfig_Endpoints(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c, err := NewConfig("https://auth.example.com/env/as", "client-id", "https://rp.example.com/callback")
	require.NoError(err)
	assert.Equal("https://auth.example.com/env/as/authorize", c.AuthorizationEndpoint())
	assert.Equal("https://auth.example.com/env/as/token", c.TokenEndpoint())
	assert.Equal("https://auth.example.com/env/as/userinfo", c.UserInfoEndpoint())
	assert.Equal("https://auth.example.com/env/as/signoff", c.LogoutEndpoint())

	ep := c.Endpoint()
	assert.Equal(c.AuthorizationEndpoint(), ep.AuthURL)
	assert.Equal(c.TokenEndpoint(), ep.TokenURL)
	assert.Equal(oauth2.AuthStyleInParams, ep.AuthStyle)
}

func TestConfig_HTTPClient(t *testing.T) {
	t.Parallel()
	t.Run("no-ca", func(t *testing.T) {
		require := require.New(t)
		c, err := NewConfig("https://auth.example.com/as", "client-id", "https://rp.example.com/callback")
		require.NoError(err)
		client, err := c.HTTPClient()
		require.NoError(err)
		require.NotNil(client)
	})
	t.Run("valid-ca", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		c, err := NewConfig("https://auth.example.com/as", "client-id", "https://rp.example.com/callback",
			WithProviderCA(tp.CACert()))
		require.NoError(err)
		client, err := c.HTTPClient()
		require.NoError(err)
		require.NotNil(client)
	})
	t.Run("invalid-ca", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("https://auth.example.com/as", "client-id", "https://rp.example.com/callback",
			WithProviderCA("not a pem"))
		require.NoError(err)
		client, err := c.HTTPClient()
		require.Error(err)
		assert.Nil(client)
		assert.True(errors.Is(err, ErrInvalidCACert))
	})
}
