package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	m, err := NewManager("secret", 15*time.Minute, "wes-match")
	require.NoError(t, err)

	token, exp, err := m.GenerateAccessToken("user-1", "alice")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Identity())
	assert.Equal(t, "alice", claims.Username)
	assert.WithinDuration(t, exp, claims.Expiry(), time.Second)
}

func TestValidateRejects(t *testing.T) {
	m, err := NewManager("secret", time.Minute, "")
	require.NoError(t, err)

	other, err := NewManager("other-secret", time.Minute, "")
	require.NoError(t, err)
	foreign, _, err := other.GenerateAccessToken("user-1", "")
	require.NoError(t, err)

	_, err = m.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	m.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _, err := m.GenerateAccessToken("user-1", "")
	require.NoError(t, err)
	m.now = time.Now
	_, err = m.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		Type:             "refresh",
	})
	signed, err := refresh.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSubjectOnlyToken(t *testing.T) {
	m, err := NewManager("secret", time.Minute, "")
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-9",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := m.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-9", claims.Identity())
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager("", time.Minute, "")
	assert.ErrorIs(t, err, ErrMissingKey)
}
