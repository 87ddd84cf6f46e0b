package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret", "auth-service")

	token, err := v.Sign(Identity{UserID: 7, Username: "alice", Privileged: true}, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, 7, id.UserID)
	assert.Equal(t, "alice", id.Username)
	assert.True(t, id.Privileged)
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier("test-secret", "auth-service")

	token, err := v.Sign(Identity{UserID: 7, Username: "alice"}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewVerifier("secret-a", "auth-service")
	verifier := NewVerifier("secret-b", "auth-service")

	token, err := issuer.Sign(Identity{UserID: 7, Username: "alice"}, time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	minted := NewVerifier("test-secret", "someone-else")
	verifier := NewVerifier("test-secret", "auth-service")

	token, err := minted.Sign(Identity{UserID: 7, Username: "alice"}, time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsZeroUserID(t *testing.T) {
	v := NewVerifier("test-secret", "auth-service")

	token, err := v.Sign(Identity{Username: "nobody"}, time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
