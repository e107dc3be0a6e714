package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"basket-shop/internal/apperror"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	identityKey = "identity"
	RoleAdmin   = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Email  string
	Role   string
}

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Issue signs a token for id. Used by tooling and tests; the storefront's
// identity provider issues the real ones with the same secret.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}

// Parse validates a token and returns its identity
func (v *Verifier) Parse(raw string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Identity{UserID: c.Subject, Email: c.Email, Role: c.Role}, nil
}

// Authenticate attaches the caller's identity when a bearer token is present.
// Anonymous requests pass through; a present but invalid token is rejected.
func Authenticate(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			abort(c, http.StatusUnauthorized, apperror.MsgLoginNeeded)
			return
		}

		id, err := v.Parse(raw)
		if err != nil {
			abort(c, http.StatusUnauthorized, apperror.MsgLoginNeeded)
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireUser rejects anonymous requests
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := FromContext(c); !ok {
			abort(c, http.StatusUnauthorized, apperror.MsgLoginNeeded)
			return
		}
		c.Next()
	}
}

// RequireRole rejects callers without role
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := FromContext(c)
		if !ok {
			abort(c, http.StatusUnauthorized, apperror.MsgLoginNeeded)
			return
		}
		if id.Role != role {
			abort(c, http.StatusForbidden, apperror.MsgForbidden)
			return
		}
		c.Next()
	}
}

// FromContext returns the identity set by Authenticate
func FromContext(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
