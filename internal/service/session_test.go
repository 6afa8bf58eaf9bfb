package service

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "social_client/pkg/errors"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("any-secret"))
	require.NoError(t, err)
	return token
}

func TestResolveUserID(t *testing.T) {
	t.Run("explicit id wins", func(t *testing.T) {
		id, err := ResolveUserID("u-explicit", "garbage")
		require.NoError(t, err)
		assert.Equal(t, "u-explicit", id)
	})

	t.Run("sub claim with bearer prefix", func(t *testing.T) {
		id, err := ResolveUserID("", "Bearer "+signedToken(t, jwt.MapClaims{"sub": "u-1"}))
		require.NoError(t, err)
		assert.Equal(t, "u-1", id)
	})

	t.Run("mongo style _id claim", func(t *testing.T) {
		id, err := ResolveUserID("", signedToken(t, jwt.MapClaims{"_id": "665f1c"}))
		require.NoError(t, err)
		assert.Equal(t, "665f1c", id)
	})

	t.Run("numeric claim", func(t *testing.T) {
		id, err := ResolveUserID("", signedToken(t, jwt.MapClaims{"user_id": 42}))
		require.NoError(t, err)
		assert.Equal(t, "42", id)
	})

	t.Run("no claim", func(t *testing.T) {
		_, err := ResolveUserID("", signedToken(t, jwt.MapClaims{"role": "user"}))
		assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := ResolveUserID("", "not-a-token")
		assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ResolveUserID("", "")
		assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	})
}
