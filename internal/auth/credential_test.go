package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-forumsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsigned(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return token
}

func TestParseCredential(t *testing.T) {
	tcases := []struct {
		name     string
		token    string
		userId   int
		username string
		err      error
	}{
		{
			name:     "valid token",
			token:    testutil.Token(t, 7, "pixelpunk", time.Hour),
			userId:   7,
			username: "pixelpunk",
		},
		{
			name:  "empty token",
			token: "",
			err:   ErrNoCredential,
		},
		{
			name:  "expired token",
			token: testutil.Token(t, 7, "pixelpunk", -time.Hour),
			err:   ErrCredentialExpired,
		},
		{
			name:   "subject claim fallback",
			token:  unsigned(t, jwt.MapClaims{"sub": "12"}),
			userId: 12,
		},
		{
			name:  "missing user id",
			token: unsigned(t, jwt.MapClaims{"username": "ghost"}),
			err:   ErrInvalidClaims,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cred, err := ParseCredential(tc.token)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err, "expected error %v", tc.err)
				return
			}
			require.NoError(t, err, "expected no error parsing credential")
			assert.Equal(t, tc.userId, cred.UserId(), "expected user id to match")
			assert.Equal(t, tc.username, cred.Username(), "expected username to match")
		})
	}
}

func TestParseCredential_malformed(t *testing.T) {
	_, err := ParseCredential("not-a-jwt")
	assert.Error(t, err, "expected error for malformed token")
}

func TestCredential_Destroy(t *testing.T) {
	token := testutil.Token(t, 1, "retro", time.Hour)
	cred, err := ParseCredential(token)
	require.NoError(t, err)

	bearer, err := cred.Bearer()
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+token, bearer, "expected bearer header value")

	cred.Destroy()

	_, err = cred.Token()
	assert.ErrorIs(t, err, ErrNoCredential, "expected destroyed credential to have no token")
	_, err = cred.Bearer()
	assert.ErrorIs(t, err, ErrNoCredential, "expected destroyed credential to have no bearer")
	assert.Equal(t, 1, cred.UserId(), "expected identity to survive destroy")
}
