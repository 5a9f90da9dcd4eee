package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeertanaGupta/mediprior-V0/internal/models"
)

const secret = "test-secret"

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestParseAndValidate(t *testing.T) {
	token := signToken(t, Claims{
		UserID: "doc-1",
		Role:   models.RoleDoctor,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := ParseAndValidate(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", claims.UserID)
	assert.Equal(t, models.RoleDoctor, claims.Role)
}

func TestParseAndValidateRejects(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, Claims{UserID: "u1"})
		_, err := ParseAndValidate("other-secret", token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token := signToken(t, Claims{
			UserID: "u1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})
		_, err := ParseAndValidate(secret, token)
		assert.Error(t, err)
	})

	t.Run("missing user id", func(t *testing.T) {
		token := signToken(t, Claims{})
		_, err := ParseAndValidate(secret, token)
		assert.Error(t, err)
	})
}

func TestParseBearer(t *testing.T) {
	tok, err := ParseBearer("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	_, err = ParseBearer("")
	assert.Error(t, err)
	_, err = ParseBearer("Basic abc")
	assert.Error(t, err)
}
