// Package auth validates participant identity tokens. Account
// registration and login live in the platform's identity service; this
// service only verifies the signed tokens it issues.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mentorlink/sessiond/internal/domain"
)

const identityKey = "identity"

var (
	ErrMissingToken = errors.New("missing identity token")
	ErrInvalidToken = errors.New("invalid identity token")
)

// Claims carries the authenticated participant identity.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 identity tokens.
type Validator struct {
	secret []byte
}

func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate parses the token and returns the participant identity.
func (v *Validator) Validate(tokenString string) (domain.UserID, error) {
	if tokenString == "" {
		return "", ErrMissingToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return domain.UserID(claims.Subject), nil
}

// Middleware authenticates REST calls. The token comes from the
// Authorization bearer header, with a query fallback for the websocket
// upgrade where custom headers are awkward for browsers.
func (v *Validator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		identity, err := v.Validate(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
			return
		}
		c.Set(identityKey, string(identity))
		c.Next()
	}
}

// Identity extracts the authenticated participant from the request
// context. Empty when the middleware did not run.
func Identity(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(identityKey))
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// Sign issues a token for a participant. Used by tests and by the
// peerctl development tooling; production tokens come from the
// platform's identity service with the same secret.
func Sign(secret string, id domain.UserID, name string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: string(id),
		},
	})
	return token.SignedString([]byte(secret))
}
