// Package nokia is a client for the administrative HTTP endpoints of
// Nokia consumer WiFi routers (the "Nokia WiFi" app API). It holds a
// cookie-style session, logs in on demand, and lists the devices the
// router currently sees.
package nokia

import (
	"errors"
	"fmt"
)

// Device is one entry of the router's connected-device list. It lives
// for a single poll; callers key it by MAC address.
type Device struct {
	IP          string `json:"ip"`
	Name        string `json:"name"`
	ConnectedTo string `json:"connected_to"`
}

// ErrAuthFailure is returned when the router rejects the credentials,
// answers the login with a malformed body, or keeps answering 403 after
// repeated re-logins.
var ErrAuthFailure = errors.New("router authentication failed")

// ErrUnreachable wraps network-level failures: DNS, connect, TLS, and
// timeouts. Pollers treat it as transient.
var ErrUnreachable = errors.New("router unreachable")

// RequestError is a non-2xx answer that is not handled by re-login.
type RequestError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: router returned status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s: router returned status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Session is the token pair issued by login_app.cgi. Either token may be
// absent before the first login.
type Session struct {
	SID  *string
	LSID *string
}

// Authenticated reports whether both tokens are present.
func (s Session) Authenticated() bool {
	return s.SID != nil && s.LSID != nil
}

// cookieHeader renders the tokens the way the router expects them.
func (s Session) cookieHeader() string {
	return *s.SID + "; " + *s.LSID
}
