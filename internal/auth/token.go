// Package auth issues and verifies the bearer tokens that carry an Actor.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/healthbook-scheduling/internal/authz"
)

var ErrBadToken = errors.New("invalid token")

const issuer = "healthbook-scheduling"

type Claims struct {
	Role       string `json:"role"`
	PatientID  string `json:"pid,omitempty"`
	ProviderID string `json:"prid,omitempty"`
	jwt.RegisteredClaims
}

// MakeToken signs an HS256 token for actor that expires after ttl. Every
// token gets its own jti.
func MakeToken(actor authz.Actor, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   actor.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if actor.PatientID != nil {
		c.PatientID = actor.PatientID.String()
	}
	if actor.ProviderID != nil {
		c.ProviderID = actor.ProviderID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func ParseToken(raw, secret string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		// block alg confusion
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadToken
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	c, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrBadToken
	}
	return c, nil
}

// Actor rebuilds the caller from verified claims. Links that do not parse
// as UUIDs reject the whole token.
func (c *Claims) Actor() (authz.Actor, error) {
	role, err := authz.ParseRole(c.Role)
	if err != nil {
		return authz.Actor{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}

	actor := authz.Actor{Role: role}
	if c.PatientID != "" {
		id, err := uuid.Parse(c.PatientID)
		if err != nil {
			return authz.Actor{}, fmt.Errorf("%w: patient id: %v", ErrBadToken, err)
		}
		actor.PatientID = &id
	}
	if c.ProviderID != "" {
		id, err := uuid.Parse(c.ProviderID)
		if err != nil {
			return authz.Actor{}, fmt.Errorf("%w: provider id: %v", ErrBadToken, err)
		}
		actor.ProviderID = &id
	}
	return actor, nil
}

// ActorFromToken verifies raw and returns the actor it carries.
func ActorFromToken(raw, secret string) (authz.Actor, error) {
	c, err := ParseToken(raw, secret)
	if err != nil {
		return authz.Actor{}, err
	}
	return c.Actor()
}
