package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://idp.example.test/realms/prescritto"
	testAudience = "prescritto-api"
)

type testIDP struct {
	key    *rsa.PrivateKey
	server *httptest.Server
	hits   int
}

func newTestIDP(t *testing.T) *testIDP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &testIDP{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		idp.hits++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": "k1",
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": idp.server.URL + "/jwks"})
	})
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (idp *testIDP) sign(t *testing.T, kid string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(idp.key)
	require.NoError(t, err)
	return signed
}

func validClaims() Claims {
	now := time.Now()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
		Email: "medico@hospital.test",
	}
}

func TestVerifierAcceptsValidToken(t *testing.T) {
	idp := newTestIDP(t)
	verifier := NewVerifier(NewJWKSCache(idp.server.URL+"/jwks", time.Hour, nil), testIssuer, testAudience)

	claims, err := verifier.Verify(context.Background(), idp.sign(t, "k1", validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "medico@hospital.test", claims.Email)

	// second verification is served from cache
	_, err = verifier.Verify(context.Background(), idp.sign(t, "k1", validClaims()))
	require.NoError(t, err)
	assert.Equal(t, 1, idp.hits)
}

func TestVerifierRejects(t *testing.T) {
	idp := newTestIDP(t)
	verifier := NewVerifier(NewJWKSCache(idp.server.URL+"/jwks", time.Hour, nil), testIssuer, testAudience)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other"}

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://evil.example.test"

	noSubject := validClaims()
	noSubject.Subject = ""

	cases := map[string]string{
		"expired":        idp.sign(t, "k1", expired),
		"wrong audience": idp.sign(t, "k1", wrongAudience),
		"wrong issuer":   idp.sign(t, "k1", wrongIssuer),
		"no subject":     idp.sign(t, "k1", noSubject),
		"unknown kid":    idp.sign(t, "k2", validClaims()),
		"garbage":        "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifierRejectsOtherSigner(t *testing.T) {
	idp := newTestIDP(t)
	verifier := NewVerifier(NewJWKSCache(idp.server.URL+"/jwks", time.Hour, nil), testIssuer, testAudience)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
	token.Header["kid"] = "k1"
	forged, err := token.SignedString(other)
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDiscoverJWKSURL(t *testing.T) {
	idp := newTestIDP(t)
	url, err := DiscoverJWKSURL(context.Background(), idp.server.URL+"/", nil)
	require.NoError(t, err)
	assert.Equal(t, idp.server.URL+"/jwks", url)
}
