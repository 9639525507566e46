package backend

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is an authenticated backend session.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// newSession builds a Session from a signin payload. The expiry comes
// from the token's own exp claim when present; the backend's expires_in
// hint is the fallback for opaque tokens. The signature is NOT verified
// here, the server did that; the client only needs the expiry to fail
// fast before a doomed request.
func newSession(token string, expiresIn int64, now time.Time) Session {
	s := Session{Token: token}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.ExpiresAt = exp.Time
			return s
		}
	}

	if expiresIn > 0 {
		s.ExpiresAt = now.Add(time.Duration(expiresIn) * time.Second)
	}
	return s
}

// Valid reports whether the session can still authorize requests. A
// session with no known expiry never self-invalidates.
func (s Session) Valid(now time.Time) bool {
	if s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}
