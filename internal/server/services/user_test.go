package services

import (
	"testing"

	"github.com/stretchr/testify/require"

	"couplesync/internal/common"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewUserService(nil, "test-secret")

	token, err := svc.GenerateJWT("user-123")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := svc.ValidateJWT(token)
	require.NoError(t, err)
	require.Equal(t, "user-123", userID)
}

func TestValidateJWTWrongSecret(t *testing.T) {
	issuer := NewUserService(nil, "secret-a")
	verifier := NewUserService(nil, "secret-b")

	token, err := issuer.GenerateJWT("user-123")
	require.NoError(t, err)

	_, err = verifier.ValidateJWT(token)
	require.ErrorIs(t, err, common.ErrAuthRequired)
}

func TestValidateJWTGarbage(t *testing.T) {
	svc := NewUserService(nil, "test-secret")

	_, err := svc.ValidateJWT("not-a-token")
	require.ErrorIs(t, err, common.ErrAuthRequired)
}
