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
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// newJWKSServer serves a one-key set at the well-known path and counts fetches.
func newJWKSServer(t *testing.T, kid string, pub *rsa.PublicKey, fetches *atomic.Int64) *httptest.Server {
	t.Helper()
	jwks := JWKS{Keys: []JWK{{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		if fetches != nil {
			fetches.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestVerifierAcceptsIssuedToken(t *testing.T) {
	key := newSigningKey(t)
	srv := newJWKSServer(t, "key-1", &key.PublicKey, nil)

	v := NewVerifier(srv.URL)
	token := signToken(t, key, "key-1", Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    srv.URL,
			Subject:   "u-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "analyst@example.com",
		Roles: []string{"analyst"},
	})

	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u-42", p.SubjectID)
	assert.Equal(t, "analyst@example.com", p.Email)
	assert.Equal(t, []string{"analyst"}, p.Roles)
}

func TestVerifierRejectsBadTokens(t *testing.T) {
	key := newSigningKey(t)
	srv := newJWKSServer(t, "key-1", &key.PublicKey, nil)
	v := NewVerifier(srv.URL)

	valid := jwt.RegisteredClaims{
		Issuer:    srv.URL,
		Subject:   "u-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	tests := []struct {
		name  string
		token string
	}{
		{
			name: "expired",
			token: signToken(t, key, "key-1", Claims{RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    srv.URL,
				Subject:   "u-42",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			}}),
		},
		{
			name: "wrong issuer",
			token: signToken(t, key, "key-1", Claims{RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "https://somewhere-else.example.com",
				Subject:   valid.Subject,
				ExpiresAt: valid.ExpiresAt,
			}}),
		},
		{
			name: "missing expiry",
			token: signToken(t, key, "key-1", Claims{RegisteredClaims: jwt.RegisteredClaims{
				Issuer:  srv.URL,
				Subject: valid.Subject,
			}}),
		},
		{
			name:  "unknown kid",
			token: signToken(t, key, "key-2", Claims{RegisteredClaims: valid}),
		},
		{
			name: "signed by another key",
			token: signToken(t, newSigningKey(t), "key-1",
				Claims{RegisteredClaims: valid}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			assert.Error(t, err)
		})
	}
}

func TestVerifierCachesJWKS(t *testing.T) {
	var fetches atomic.Int64
	key := newSigningKey(t)
	srv := newJWKSServer(t, "key-1", &key.PublicKey, &fetches)

	v := NewVerifier(srv.URL)
	token := signToken(t, key, "key-1", Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    srv.URL,
		Subject:   "u-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})

	for i := 0; i < 3; i++ {
		_, err := v.Verify(context.Background(), token)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), fetches.Load())
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	p := Principal{SubjectID: "u-7", Roles: []string{"operator"}}
	ctx := WithPrincipal(context.Background(), p)
	assert.Equal(t, p, PrincipalFromContext(ctx))

	// Without a principal the system identity takes over.
	fallback := PrincipalFromContext(context.Background())
	assert.Equal(t, "system", fallback.SubjectID)
	assert.True(t, fallback.HasRole("system"))
	assert.False(t, fallback.HasRole("admin"))
}
