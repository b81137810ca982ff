// Package auth issues and verifies the access tokens used by the HTTP API.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	// Issuer is the registered claims issuer.
	Issuer = "ledgerdesk"
	// KeyID is the version of the signing key.
	KeyID = "v1"
	// AccessTokenDuration is the lifetime of an access token.
	AccessTokenDuration = 7 * 24 * time.Hour
)

// ClaimsMessage is the payload carried in an access token.
type ClaimsMessage struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// GenerateAccessToken signs a token for the named user with the instance secret.
func GenerateAccessToken(name string, expiresAt time.Time, secret []byte) (string, error) {
	registeredClaims := jwt.RegisteredClaims{
		Issuer:   Issuer,
		IssuedAt: jwt.NewNumericDate(time.Now()),
		Subject:  name,
	}
	if !expiresAt.IsZero() {
		registeredClaims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &ClaimsMessage{
		Name:             name,
		RegisteredClaims: registeredClaims,
	})
	token.Header["kid"] = KeyID

	accessToken, err := token.SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign access token")
	}
	return accessToken, nil
}

// ParseAccessToken verifies the signature and expiry and returns the claims.
func ParseAccessToken(accessToken string, secret []byte) (*ClaimsMessage, error) {
	claims := &ClaimsMessage{}
	_, err := jwt.ParseWithClaims(accessToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid access token")
	}
	return claims, nil
}
