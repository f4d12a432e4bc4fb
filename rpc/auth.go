package rpc

import (
	"errors"
	"net/http"
	"strings"

	"stationd/native/station"

	"github.com/golang-jwt/jwt/v5"
)

// stationClaims is the bearer token payload this server expects: the
// subject resolves to a Principal, and an optional controller flag grants
// the IsController bypass station.Authorizer.IsAllowed short-circuits on.
type stationClaims struct {
	jwt.RegisteredClaims
	Controller bool `json:"controller,omitempty"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	// HMACSecret verifies HMAC-signed (HS256/HS384/HS512) tokens. An
	// empty secret does not turn verification off: it is used as the key
	// like any other value.
	HMACSecret []byte
	Issuer     string
}

var errMissingBearer = errors.New("missing bearer token")

// authenticate extracts and verifies the bearer token from r, returning
// the station.Context to authorize the call with.
func (cfg AuthConfig) authenticate(r *http.Request) (station.Context, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return station.Context{}, errMissingBearer
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &stationClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return cfg.HMACSecret, nil
	}, opts...)
	if err != nil {
		return station.Context{}, err
	}

	return station.Context{
		Principal:    station.Principal(claims.Subject),
		IsController: claims.Controller,
	}, nil
}
