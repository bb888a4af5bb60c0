package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var signingKey = []byte("forumsync-test-key")

func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// Token issues a signed token carrying the claims the backend puts in
// session tokens.
func Token(t *testing.T, userId int, username string, exp time.Duration) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user-id":  userId,
		"username": username,
		"exp":      time.Now().Add(exp).Unix(),
	})

	signed, err := token.SignedString(signingKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
