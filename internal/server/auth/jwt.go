package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the authenticated wallet address next to the registered
// claims. Sessions are stateless: nothing is stored server-side.
type Claims struct {
	jwt.RegisteredClaims
	Address string `json:"address"`
}

// GenerateToken signs an HS256 session token for address that expires at
// now+validityDuration.
func GenerateToken(address string, secretKey []byte, now time.Time, validityDuration time.Duration) (string, time.Time, error) {
	expiresAt := now.Add(validityDuration)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Address: address,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// GetAddressFromToken validates tokenString and returns its address.
// Expired tokens yield common.ErrExpiredSession, every other failure
// common.ErrInvalidSession.
func GetAddressFromToken(tokenString string, secretKey []byte) (string, error) {
	return parseToken(tokenString, secretKey, time.Now)
}

func parseToken(tokenString string, secretKey []byte, now func() time.Time) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrExpiredSession
		}
		return "", common.ErrInvalidSession
	}

	if !token.Valid || claims.Address == "" {
		return "", common.ErrInvalidSession
	}

	return claims.Address, nil
}
