// Package auth issues and verifies the signed tokens used by the admin API.
package auth

import (
	"errors"
	"time"

	"github.com/akazakov/vpnmanager/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role issued today. The claim is kept so that
// scoped operator roles can be added without a token format change.
const RoleAdmin = "admin"

// Claims carries the registered claims plus the caller's role.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// GenerateToken returns a signed HS256 token for the given role.
func GenerateToken(role string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		Role: role,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// RoleFromToken verifies the token signature and expiry and returns the
// embedded role. All verification failures map to common.ErrInvalidToken.
func RoleFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errors.Join(common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", common.ErrInvalidToken
	}

	return claims.Role, nil
}
