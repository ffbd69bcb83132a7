package chat

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider supplies the bearer credential for the transport handshake.
// It is consulted once per Connect call; mid-session refresh is not handled,
// so a reconnect after expiry fails and surfaces as a disconnect.
type TokenProvider interface {
	AuthToken() string
}

// StaticToken is a TokenProvider returning a fixed token. An empty value
// means the handshake is unauthenticated.
type StaticToken string

func (t StaticToken) AuthToken() string { return string(t) }

// TokenExpiry extracts the expiry claim from a JWT without verifying the
// signature. Used only to warn when connecting with an already-expired token;
// the broker remains the authority on validity.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
