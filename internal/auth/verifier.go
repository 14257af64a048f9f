// Package auth verifies bearer credentials and exposes the verified identity
// to the rest of the relay. It only verifies: token minting, rotation, and
// revocation belong to the identity service.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
)

var (
	// ErrMissingCredential is returned when no credential was supplied at all.
	ErrMissingCredential = errors.New("missing credential")
	// ErrMalformedCredential is returned when the credential is not a
	// syntactically well-formed signed token.
	ErrMalformedCredential = errors.New("malformed credential")
	// ErrInvalidCredential is returned when the signature check fails or the
	// token is outside its validity window.
	ErrInvalidCredential = errors.New("invalid or expired credential")
	// ErrWrongPurpose is returned when the token carries a purpose claim
	// outside the accepted set (e.g. a refresh token on the relay).
	ErrWrongPurpose = errors.New("credential has wrong purpose")
	// ErrMissingSubject is returned when neither the canonical nor the legacy
	// subject claim is present.
	ErrMissingSubject = errors.New("credential has no subject")
)

// relayClaims is the raw JWT claim set accepted by the relay. The subject may
// arrive under the registered "sub" claim or the legacy "userId" claim.
type relayClaims struct {
	jwt.RegisteredClaims
	LegacyUserID string   `json:"userId,omitempty"`
	Email        string   `json:"email,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Purpose      string   `json:"purpose,omitempty"`
}

// Verifier validates HS256-signed bearer tokens against a shared secret and
// normalizes their claims.
type Verifier struct {
	secret   []byte
	purposes map[string]struct{}
	logger   zerolog.Logger
}

// NewVerifier creates a Verifier. acceptedPurposes lists the purpose claim
// values the relay admits; a token without a purpose claim is always admitted.
func NewVerifier(secret string, acceptedPurposes []string, logger zerolog.Logger) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	purposes := make(map[string]struct{}, len(acceptedPurposes))
	for _, p := range acceptedPurposes {
		purposes[p] = struct{}{}
	}
	return &Verifier{
		secret:   []byte(secret),
		purposes: purposes,
		logger:   logger.With().Str("component", "Verifier").Logger(),
	}, nil
}

// Verify validates raw and returns the normalized claims. The subject is
// taken from the canonical "sub" claim first and the legacy "userId" claim
// second, and is mirrored into both SubjectID and UserID on the output.
func (v *Verifier) Verify(raw string) (*tracking.TokenClaims, error) {
	if raw == "" {
		return nil, ErrMissingCredential
	}

	claims := &relayClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	},
		// The validity window is [iat, exp]; the parser only checks exp
		// unless iat validation is asked for explicitly.
		jwt.WithIssuedAt(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, ErrMalformedCredential
		}
		return nil, ErrInvalidCredential
	}
	if !token.Valid {
		return nil, ErrInvalidCredential
	}

	if claims.Purpose != "" {
		if _, ok := v.purposes[claims.Purpose]; !ok {
			return nil, ErrWrongPurpose
		}
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.LegacyUserID
	}
	if subject == "" {
		return nil, ErrMissingSubject
	}

	normalized := &tracking.TokenClaims{
		SubjectID: subject,
		UserID:    subject,
		Email:     claims.Email,
		Roles:     claims.Roles,
		Purpose:   claims.Purpose,
	}
	if claims.IssuedAt != nil {
		normalized.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		normalized.ExpiresAt = claims.ExpiresAt.Time
	}
	return normalized, nil
}

// VerifyOptional is the non-failing entry point used on the WebSocket
// handshake path, where the token arrives as a query parameter. It returns
// nil on any failure so the caller can close the handshake instead of
// handling an error.
func (v *Verifier) VerifyOptional(raw string) *tracking.TokenClaims {
	claims, err := v.Verify(raw)
	if err != nil {
		v.logger.Debug().Err(err).Msg("Optional credential rejected.")
		return nil
	}
	return claims
}
