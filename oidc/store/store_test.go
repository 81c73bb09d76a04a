package store

import (
	"testing"
	"time"

	"github.com/xexe45/pingauth-go/oidc"
)

// testSession builds an authenticated session expiring an hour out. The
// expiry is truncated to whole seconds in UTC so a JSON round trip compares
// equal.
func testSession(t *testing.T) oidc.Session {
	t.Helper()
	return oidc.Session{
		Authenticated: true,
		User: &oidc.UserProfile{
			Subject: "alice@example.com",
			Claims: map[string]interface{}{
				"sub":   "alice@example.com",
				"name":  "Alice Doe",
				"email": "alice@example.com",
			},
		},
		AccessToken:  "test-access-token",
		IDToken:      "test-id-token",
		RefreshToken: "test-refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
}
