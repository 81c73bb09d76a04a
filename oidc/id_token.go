package oidc

import (
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IDToken is an oidc id_token
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// Claims decodes the IDToken payload into the claims pointed to. The token's
// signature is NOT verified: the engine only ever uses the id_token as an
// opaque logout hint and for display claims, never as an authorization input.
func (t IDToken) Claims(claims interface{}) error {
	const op = "IDToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	mapClaims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(string(t), mapClaims); err != nil {
		return fmt.Errorf("%s: unable to parse id_token: %w", op, err)
	}
	data, err := json.Marshal(mapClaims)
	if err != nil {
		return fmt.Errorf("%s: unable to marshal id_token claims: %w", op, err)
	}
	if err := json.Unmarshal(data, claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal id_token claims: %w", op, err)
	}
	return nil
}
