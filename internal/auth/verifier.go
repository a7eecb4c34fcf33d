// Package auth gates the session upgrade behind an HS256 bearer token.
//
// Browsers cannot set headers on a WebSocket handshake, so the token is also
// accepted from the "token" query parameter.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/brandonphelps/rusty-pellets/internal/model"
)

// ContextKeySubject is the gin context key holding the verified subject.
const ContextKeySubject = "auth.subject"

// Claims holds the verified token claims used by the bridge.
type Claims struct {
	Subject string
}

// Verifier validates HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth secret is empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// VerifyToken parses tokenString and checks its signature and expiry.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", model.ErrUnauthorized)
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid token claims", model.ErrUnauthorized)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing 'sub' claim", model.ErrUnauthorized)
	}

	return &Claims{Subject: sub}, nil
}

// ExtractToken returns the bearer token from the Authorization header, or
// from the "token" query parameter when the header is absent.
func ExtractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("%w: missing token", model.ErrUnauthorized)
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", fmt.Errorf("%w: invalid Authorization header format", model.ErrUnauthorized)
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", fmt.Errorf("%w: empty token", model.ErrUnauthorized)
	}

	return token, nil
}

// RequireToken rejects requests without a valid token with 401.
func (v *Verifier) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := ExtractToken(c.Request)
		if err == nil {
			var claims *Claims
			claims, err = v.VerifyToken(token)
			if err == nil {
				c.Set(ContextKeySubject, claims.Subject)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "UNAUTHORIZED",
				"message": err.Error(),
			},
		})
	}
}
