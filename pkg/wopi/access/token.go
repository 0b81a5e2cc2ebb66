// Package access implements the Access Gate (spec §4.2, C2): minting and
// validating access tokens bound to a user and FileId, and resolving
// per-file permission through a pluggable source.
package access

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a presented access token can fail
// validation: bad signature, expired, wrong FileId binding, malformed.
// The Access Gate never distinguishes these to the caller — all of them
// produce the same 401 Invalid Token response.
var ErrInvalidToken = errors.New("access: invalid token")

// Claims is the WOPI access token payload. A token is only ever valid
// for the single FileId it was minted for; presenting it against any
// other id fails validation (step 1 of the Access Gate).
type Claims struct {
	jwt.RegisteredClaims

	// User is the user name the permission source is queried with.
	User string `json:"user"`

	// FileID is the FileId this token was minted for, lower-cased the
	// same way the request parser normalizes path FileIds.
	FileID string `json:"fid"`
}

// Minter mints signed access tokens.
type Minter struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewMinter returns a Minter signing with HMAC-SHA256 over secret. secret
// must be at least 32 bytes.
func NewMinter(secret []byte, issuer string, ttl time.Duration) (*Minter, error) {
	if len(secret) < 32 {
		return nil, errors.New("access: token secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Minter{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// Mint returns a signed access token binding user to fileID.
func (m *Minter) Mint(user, fileID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		User:   user,
		FileID: strings.ToLower(fileID),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("access: sign token: %w", err)
	}
	return signed, nil
}

// Validator validates access tokens presented on inbound requests.
type Validator struct {
	secret []byte
}

// NewValidator returns a Validator checking signatures with secret. A
// Minter and the paired Validator must share the same secret.
func NewValidator(secret []byte) *Validator {
	return &Validator{secret: secret}
}

// Validate parses raw and confirms it is bound to fileID (lower-cased
// the same way at comparison time). Any failure — bad signature,
// expiry, wrong binding, malformed token — returns ErrInvalidToken.
func (v *Validator) Validate(raw, fileID string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.FileID != strings.ToLower(fileID) {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
