package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/purchase-saga/internal/domain"
)

var testSecret = []byte("test-secret-key")

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestResolve_SubjectClaim(t *testing.T) {
	resolver := NewResolver(Config{Secret: testSecret}, nil)
	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	identity, err := resolver.Resolve(token)
	require.NoError(t, err)
	require.False(t, identity.IsAnonymous())
	require.Equal(t, "user-42", identity.ID())
	require.Equal(t, token, identity.Credential())
}

func TestResolve_UserIDFallback(t *testing.T) {
	resolver := NewResolver(Config{Secret: testSecret}, nil)

	stringID := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"userId": "b1c2"})
	identity, err := resolver.Resolve(stringID)
	require.NoError(t, err)
	require.Equal(t, "b1c2", identity.ID())

	numericID := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"userId": 17})
	identity, err = resolver.Resolve(numericID)
	require.NoError(t, err)
	require.Equal(t, "17", identity.ID())
}

func TestResolve_Rejections(t *testing.T) {
	resolver := NewResolver(Config{Secret: testSecret, Issuer: "user-service"}, nil)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong secret", token: signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u", "iss": "user-service"})},
		{name: "expired", token: signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"sub": "u", "iss": "user-service", "exp": time.Now().Add(-time.Minute).Unix(),
		})},
		{name: "wrong issuer", token: signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "u", "iss": "elsewhere"})},
		{name: "wrong algorithm", token: signToken(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{"sub": "u", "iss": "user-service"})},
		{name: "no subject", token: signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"iss": "user-service"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.Resolve(tt.token)
			require.ErrorIs(t, err, domain.ErrUnauthenticated)
		})
	}
}

func TestResolve_Anonymous(t *testing.T) {
	allowing := NewResolver(Config{AllowAnonymous: true}, nil)
	require.True(t, allowing.AllowsAnonymous())

	identity, err := allowing.Resolve("")
	require.NoError(t, err)
	require.True(t, identity.IsAnonymous())

	strict := NewResolver(Config{Secret: testSecret}, nil)
	_, err = strict.Resolve("")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestResolve_TokenWithoutSecretIsRejected(t *testing.T) {
	resolver := NewResolver(Config{AllowAnonymous: true}, nil)
	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "user-1"})

	_, err := resolver.Resolve(token)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}
