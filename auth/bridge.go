// Package auth holds the credential side of the real-time layer: the bridge
// handing out the bearer token and vendor id that every transport needs.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"console-realtime/contract"
)

// DefaultVendorID is used when the bridge cannot resolve a vendor id.
const DefaultVendorID = "1"

// Bridge is a static AuthBridge over values issued out-of-band (login flow,
// environment). It satisfies contract.AuthBridge.
type Bridge struct {
	token    string
	vendorID string
}

func NewBridge(token, vendorID string) *Bridge {
	return &Bridge{token: token, vendorID: vendorID}
}

// BearerToken returns the configured credential, possibly empty.
func (b *Bridge) BearerToken() string {
	return b.token
}

// VendorID returns the tenant/vendor id, falling back to DefaultVendorID
// when none was resolved.
func (b *Bridge) VendorID() string {
	if b.vendorID == "" {
		return DefaultVendorID
	}
	return b.vendorID
}

var _ contract.AuthBridge = (*Bridge)(nil)

// TokenExpiry peeks at the expiry claim of a JWT bearer credential without
// verifying its signature. The caller only wants to know whether the token
// is worth presenting; verification belongs to the issuing backend.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// Expired reports whether a JWT bearer credential carries an expiry claim in
// the past. Tokens that are not JWTs or have no expiry are never expired.
func Expired(token string, now time.Time) bool {
	exp, err := TokenExpiry(token)
	if err != nil || exp.IsZero() {
		return false
	}
	return exp.Before(now)
}
