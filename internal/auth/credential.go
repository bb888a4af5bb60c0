package auth

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim   = "user-id"
	usernameClaim = "username"
	subjectClaim  = "sub"
	expClaim      = "exp"
)

var (
	ErrNoCredential      = errors.New("no credential")
	ErrCredentialExpired = errors.New("credential expired")
	ErrInvalidClaims     = errors.New("invalid token claims")
)

// Credential is the bearer token of an authenticated user. The signature is
// verified by the backend; the client only reads the claims it needs.
type Credential struct {
	mu        sync.RWMutex
	token     string
	userId    int
	username  string
	expiresAt time.Time
}

func ParseCredential(token string) (*Credential, error) {
	if token == "" {
		return nil, ErrNoCredential
	}

	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	userId, err := userIdFromClaims(claims)
	if err != nil {
		return nil, err
	}

	c := &Credential{
		token:  token,
		userId: userId,
	}
	if name, ok := claims[usernameClaim].(string); ok {
		c.username = name
	}
	if exp, ok := claims[expClaim].(float64); ok {
		c.expiresAt = time.Unix(int64(exp), 0).UTC()
		if time.Now().After(c.expiresAt) {
			return nil, ErrCredentialExpired
		}
	}

	return c, nil
}

func userIdFromClaims(claims jwt.MapClaims) (int, error) {
	switch v := claims[userIdClaim].(type) {
	case float64:
		return int(v), nil
	case string:
		if id, err := strconv.Atoi(v); err == nil {
			return id, nil
		}
	}

	if sub, ok := claims[subjectClaim].(string); ok {
		if id, err := strconv.Atoi(sub); err == nil {
			return id, nil
		}
	}

	return 0, fmt.Errorf("%w: missing user id", ErrInvalidClaims)
}

func (c *Credential) UserId() int {
	return c.userId
}

func (c *Credential) Username() string {
	return c.username
}

func (c *Credential) ExpiresAt() time.Time {
	return c.expiresAt
}

// Token returns the raw token, or ErrNoCredential once destroyed.
func (c *Credential) Token() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == "" {
		return "", ErrNoCredential
	}
	return c.token, nil
}

// Bearer returns the Authorization header value for REST calls and the
// websocket handshake.
func (c *Credential) Bearer() (string, error) {
	token, err := c.Token()
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

// Destroy forgets the token. Used on logout.
func (c *Credential) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}
