package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	id := uuid.New()
	tok, err := IssueToken(id, "root", "s3cret", "piogold-ico", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "bearer", tok.TokenType)

	claims, err := ValidateToken(tok.AccessToken, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, id, claims.AdminID)
	assert.Equal(t, "root", claims.Username)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestValidateToken_Rejects(t *testing.T) {
	tok, err := IssueToken(uuid.New(), "root", "s3cret", "piogold-ico", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken(tok.AccessToken, "other")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken(uuid.New(), "root", "s3cret", "piogold-ico", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken(expired.AccessToken, "s3cret")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = IssueToken(uuid.New(), "root", "", "x", time.Hour)
	assert.Error(t, err)
}
