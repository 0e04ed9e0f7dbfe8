package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/env"
)

// JWTSecretKey signs operator tokens. Login fails when it is unset.
var JWTSecretKey string

const tokenTTL = 24 * time.Hour

func init() {
	JWTSecretKey, _ = env.GetEnvString("JWT_SECRET_KEY")
}

type OperatorClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func GenerateOperatorToken(username string) (string, error) {
	if JWTSecretKey == "" {
		return "", errors.New("JWT_SECRET_KEY not configured")
	}

	claims := OperatorClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(JWTSecretKey))
}

func ValidateOperatorToken(tokenString string) (*OperatorClaims, error) {
	if JWTSecretKey == "" {
		return nil, errors.New("JWT_SECRET_KEY not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(JWTSecretKey), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token claims")
}
