package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// base64url without padding, per RFC 7636
var urlSafeAlphabet = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestNewCodeVerifier(t *testing.T) {
	t.Parallel()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewCodeVerifier()
		require.NoError(err)
		assert.Equal(verifierLen, len(got.Verifier()))
		assert.Equal(S256, got.Method())

		challenge, err := CreateCodeChallenge(S256, got)
		require.NoError(err)
		assert.Equal(challenge, got.Challenge())
	})
	t.Run("length-band-and-alphabet", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		for i := 0; i < 64; i++ {
			v, err := NewCodeVerifier()
			require.NoError(err)
			assert.GreaterOrEqual(len(v.Verifier()), minVerifierLen)
			assert.LessOrEqual(len(v.Verifier()), maxVerifierLen)
			assert.Regexp(urlSafeAlphabet, v.Verifier())
			assert.Regexp(urlSafeAlphabet, v.Challenge())
		}
	})
	t.Run("unique", func(t *testing.T) {
		require := require.New(t)
		seen := map[string]bool{}
		for i := 0; i < 64; i++ {
			v, err := NewCodeVerifier()
			require.NoError(err)
			require.False(seen[v.Verifier()])
			seen[v.Verifier()] = true
		}
	})
	t.Run("copy", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := NewCodeVerifier()
		require.NoError(err)
		cp := v.Copy()
		assert.Equal(v.Verifier(), cp.Verifier())
		assert.Equal(v.Challenge(), cp.Challenge())
		assert.Equal(v.Method(), cp.Method())
		assert.NotSame(v, cp)
	})
}

func TestCreateCodeChallenge(t *testing.T) {
	t.Parallel()
	calcHash := func(data []byte) string {
		h := sha256.New()
		_, _ = h.Write(data)
		sum := h.Sum(nil)
		return base64.RawURLEncoding.EncodeToString(sum)
	}
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := NewCodeVerifier()
		require.NoError(err)
		challenge, err := CreateCodeChallenge(S256, v)
		require.NoError(err)
		assert.Equal(calcHash([]byte(v.Verifier())), challenge)
	})
	t.Run("deterministic", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := NewCodeVerifier()
		require.NoError(err)
		first, err := CreateCodeChallenge(S256, v)
		require.NoError(err)
		second, err := CreateCodeChallenge(S256, v)
		require.NoError(err)
		assert.Equal(first, second)
	})
	t.Run("distinct-verifiers-distinct-challenges", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v1, err := NewCodeVerifier()
		require.NoError(err)
		v2, err := NewCodeVerifier()
		require.NoError(err)
		c1, err := CreateCodeChallenge(S256, v1)
		require.NoError(err)
		c2, err := CreateCodeChallenge(S256, v2)
		require.NoError(err)
		assert.NotEqual(c1, c2)
	})
	t.Run("invalid-method", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		v, err := NewCodeVerifier()
		require.NoError(err)
		challenge, err := CreateCodeChallenge(ChallengeMethod("S512"), v)
		require.Error(err)
		assert.Empty(challenge)
		assert.True(errors.Is(err, ErrUnsupportedChallengeMethod))
	})
	t.Run("nil-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		challenge, err := CreateCodeChallenge(S256, nil)
		require.Error(err)
		assert.Empty(challenge)
		assert.True(errors.Is(err, ErrNilParameter))
	})
}

func TestNewState(t *testing.T) {
	t.Parallel()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewState()
		require.NoError(err)
		// 128 bits of entropy encodes to 22 base64url characters
		assert.Len(got, 22)
		assert.Regexp(urlSafeAlphabet, got)
	})
	t.Run("unique", func(t *testing.T) {
		require := require.New(t)
		seen := map[string]bool{}
		for i := 0; i < 64; i++ {
			s, err := NewState()
			require.NoError(err)
			require.False(seen[s])
			seen[s] = true
		}
	})
}
