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

package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// JWK represents a single RSA public key in JWK format
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSet is a set of JWK keys
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

var (
	errKeyNotFound   = errors.New("no key in JWKS matches the assertion key id")
	errJWKSFetch     = errors.New("failed to fetch identity broker JWKS")
	errNotRSAKey     = errors.New("JWKS key is not an RSA signing key")
	errNoJWKSURL     = errors.New("identity broker JWKS URL not configured")
	errBadKeyEncoded = errors.New("malformed JWKS key material")
)

const jwksCacheTTL = time.Hour

// JWKSCache fetches and caches the identity broker's signing keys.
type JWKSCache struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

// NewJWKSCache creates a key cache for the given JWKS endpoint.
func NewJWKSCache(url string, client *http.Client) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &JWKSCache{url: url, client: client}
}

// Key returns the RSA public key for kid, refreshing the cache when the kid
// is unknown or the cache is stale.
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if c.url == "" {
		return nil, errNoJWKSURL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stale := time.Since(c.fetched) > jwksCacheTTL

	if key, ok := c.keys[kid]; ok && !stale {
		return key, nil
	}

	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}

	if key, ok := c.keys[kid]; ok {
		return key, nil
	}

	return nil, errKeyNotFound
}

func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: %w", errJWKSFetch, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errJWKSFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", errJWKSFetch, resp.StatusCode)
	}

	var set JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: %w", errJWKSFetch, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))

	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}

		pub, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			continue
		}

		keys[jwk.Kid] = pub
	}

	c.keys = keys
	c.fetched = time.Now()

	return nil
}

func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	if jwk.N == "" || jwk.E == "" {
		return nil, errNotRSAKey
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadKeyEncoded, err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadKeyEncoded, err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
