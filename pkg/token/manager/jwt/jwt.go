// Copyright 2018-2024 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package jwt

import (
	"context"
	"time"

	"github.com/davgate/davgate/pkg/auth"
	"github.com/davgate/davgate/pkg/errtypes"
	"github.com/davgate/davgate/pkg/sharedconf"
	"github.com/davgate/davgate/pkg/token"
	"github.com/davgate/davgate/pkg/token/manager/registry"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const defaultExpiration int64 = 86400 // 1 day

func init() {
	registry.Register("jwt", New)
}

type config struct {
	Secret  string `mapstructure:"secret"`
	Issuer  string `mapstructure:"issuer"`
	Expires int64  `mapstructure:"expires"`
}

type manager struct {
	conf *config
}

// claims carry the principal identity next to the registered set.
type claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

func parseConfig(m map[string]interface{}) (*config, error) {
	c := &config{}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "error decoding conf")
	}
	return c, nil
}

// New returns an implementation of the token manager that uses JWT as tokens.
func New(value map[string]interface{}) (token.Manager, error) {
	c, err := parseConfig(value)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing config")
	}

	c.Secret = sharedconf.GetJWTSecret(c.Secret)
	if c.Secret == "" {
		return nil, errors.New("jwt: secret is not set in config")
	}
	if c.Expires == 0 {
		c.Expires = defaultExpiration
	}

	return &manager{conf: c}, nil
}

func (m *manager) MintToken(ctx context.Context, p *auth.Principal) (string, error) {
	ttl := time.Duration(m.conf.Expires) * time.Second
	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   p.ID,
			Issuer:    m.conf.Issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Username: p.Username,
		Role:     p.Role,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	tkn, err := t.SignedString([]byte(m.conf.Secret))
	if err != nil {
		return "", errors.Wrapf(err, "error signing token for user %s", p.ID)
	}
	return tkn, nil
}

func (m *manager) DismantleToken(ctx context.Context, tkn string) (*auth.Principal, *token.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.conf.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.conf.Issuer))
	}

	t, err := jwt.ParseWithClaims(tkn, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(m.conf.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil, errtypes.TokenExpired("token is past its expiry")
		}
		return nil, nil, errtypes.TokenInvalid(err.Error())
	}

	cl, ok := t.Claims.(*claims)
	if !ok || !t.Valid {
		return nil, nil, errtypes.TokenInvalid("token claims are not valid")
	}
	if cl.Subject == "" {
		return nil, nil, errtypes.TokenInvalid("token misses subject claim")
	}
	if cl.Username == "" {
		return nil, nil, errtypes.TokenInvalid("token misses username claim")
	}

	p := &auth.Principal{ID: cl.Subject, Username: cl.Username, Role: cl.Role}
	verified := &token.Claims{ID: cl.ID}
	if cl.ExpiresAt != nil {
		verified.ExpiresAt = cl.ExpiresAt.Time
	}
	return p, verified, nil
}
