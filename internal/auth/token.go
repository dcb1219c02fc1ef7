package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cloudcrate/internal/db"
	"cloudcrate/internal/errs"
)

// AccessClaims travel inside the short-lived access token. They carry
// everything a request handler needs without a database round trip.
type AccessClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Root  string `json:"root"`
	Admin bool   `json:"admin"`
	jwt.RegisteredClaims
}

// RefreshClaims travel inside the long-lived refresh token. Only the
// refresh endpoint accepts them.
type RefreshClaims struct {
	Email    string `json:"email"`
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// Tokens signs and validates access and refresh JWTs with distinct secrets.
type Tokens struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// IssueAccess creates a signed HS256 access token for the account.
func (t *Tokens) IssueAccess(acc *db.Account) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Name:  acc.Name,
		Email: acc.Email,
		Root:  acc.RootPath,
		Admin: acc.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.AccessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.AccessSecret)
}

// ParseAccess validates an access token's signature and expiry.
func (t *Tokens) ParseAccess(token string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := t.parse(token, &claims, t.AccessSecret); err != nil {
		return nil, err
	}
	return &claims, nil
}

// IssueRefresh creates a signed HS256 refresh token bound to one device.
func (t *Tokens) IssueRefresh(email, deviceID string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(t.RefreshTTL)
	claims := RefreshClaims{
		Email:    email,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.RefreshSecret)
	return signed, exp, err
}

// ParseRefresh validates a refresh token's signature and expiry.
func (t *Tokens) ParseRefresh(token string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := t.parse(token, &claims, t.RefreshSecret); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (t *Tokens) parse(token string, claims jwt.Claims, secret []byte) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: token expired", errs.ErrUnauthorized)
		}
		return errs.ErrUnauthorized
	}
	return nil
}
