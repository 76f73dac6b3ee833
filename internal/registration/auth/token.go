// Package auth validates JWT credentials and turns them into an explicit
// Principal consumed by the handlers; the engine itself never reads
// transport headers.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// Principal is an already-verified identity and role.
type Principal struct {
	Subject string
	Role    string
}

// GenerateToken mints a signed token carrying the subject and role.
func GenerateToken(subject, role, secret string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour * 24).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken checks the token signature and returns the Principal it
// carries. Only HMAC-signed tokens are accepted.
func ValidateToken(tokenString, secret string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	subject, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if subject == "" || role == "" {
		return nil, fmt.Errorf("token missing subject or role")
	}
	return &Principal{Subject: subject, Role: role}, nil
}
