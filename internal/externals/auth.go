// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package externals

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceTokenSigner signs the short-lived bearer token the job runner
// presents to the config server and tester cloud on every request,
// identifying itself as "hostedjob-runner".
type ServiceTokenSigner struct {
	PrivateKey ed25519.PrivateKey
	Issuer     string
	TTL        time.Duration
}

// NewServiceTokenSigner returns a signer with a 5-minute token TTL.
func NewServiceTokenSigner(key ed25519.PrivateKey, issuer string) *ServiceTokenSigner {
	return &ServiceTokenSigner{PrivateKey: key, Issuer: issuer, TTL: 5 * time.Minute}
}

// Token mints a fresh bearer token scoped to audience (e.g. "config-server",
// "tester-cloud").
func (s *ServiceTokenSigner) Token(audience string) (string, error) {
	if s == nil || s.PrivateKey == nil {
		return "", nil
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.Issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("externals: signing service token: %w", err)
	}
	return signed, nil
}
