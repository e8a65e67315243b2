package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "avery",
		Name: "avery",
		Role: "editor",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	claims, err := ParseToken(secret, issued)
	require.NoError(t, err)
	assert.Equal(t, "avery", claims.Sub)
	assert.Equal(t, "editor", claims.Role)
	assert.Equal(t, "jti-1", claims.JTI)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "avery",
		Name: "avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)

	_, err = ParseToken(secret, issued)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseTokenRejectsTampering(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), Claims{
		Sub:  "avery",
		Name: "avery",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	_, err = ParseToken([]byte("other"), issued)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken([]byte("secret"), "not.a.token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRequiresIdentity(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), Claims{Sub: "avery", Exp: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = ParseToken([]byte("secret"), issued)
	require.ErrorIs(t, err, ErrInvalidToken)
}
