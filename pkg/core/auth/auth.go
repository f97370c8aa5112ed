/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package auth implements the dual-mode protected-route boundary: a
// shared-secret token for machine callers, or a signed identity assertion
// from the external identity broker for human callers. Either is sufficient.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carverauto/sandgate/pkg/models"
)

var (
	// ErrAssertionInvalid marks a signed assertion that failed verification.
	ErrAssertionInvalid = errors.New("identity assertion invalid")

	errUnexpectedAlg = errors.New("unexpected assertion signing method")
	errMissingKid    = errors.New("assertion header missing key id")
)

// IdentityClaims are the verified claims of an identity assertion.
type IdentityClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies either credential mode.
type Authenticator struct {
	cfg  *models.AuthConfig
	keys *JWKSCache
}

// New creates an Authenticator. A nil http client uses a sane default.
func New(cfg *models.AuthConfig, client *http.Client) *Authenticator {
	return &Authenticator{
		cfg:  cfg,
		keys: NewJWKSCache(cfg.JWKSURL, client),
	}
}

// VerifySharedToken checks the machine-caller shared secret in constant time.
// An empty configured token disables this mode entirely.
func (a *Authenticator) VerifySharedToken(presented string) bool {
	if a.cfg.SharedToken == "" || presented == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(a.cfg.SharedToken), []byte(presented)) == 1
}

// VerifyAssertion validates a signed identity assertion against the broker's
// JWKS, including issuer and audience when configured.
func (a *Authenticator) VerifyAssertion(ctx context.Context, raw string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}

	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}

	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("%w: %v", errUnexpectedAlg, token.Header["alg"])
		}

		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errMissingKid
		}

		return a.keys.Key(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssertionInvalid, err)
	}

	if !token.Valid {
		return nil, ErrAssertionInvalid
	}

	return claims, nil
}

// Enabled reports whether any authentication mode is configured. When neither
// is, the boundary is open (development fallback).
func (a *Authenticator) Enabled() bool {
	return a.cfg.SharedToken != "" || a.cfg.JWKSURL != ""
}

// AssertionHeader is the request header carrying the identity assertion.
func (a *Authenticator) AssertionHeader() string {
	return a.cfg.AssertionHeader
}
