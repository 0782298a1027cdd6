package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/graaaaa/worldlog-companion/internal/api/streamauth"
)

const authRealm = `Basic realm="WorldLog Companion"`

// csrfMiddleware rejects state-changing requests (POST, PUT, DELETE) whose
// Origin, or Referer when Origin is absent, is not an allowed host.
func csrfMiddleware(allowedHosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			source, header := r.Header.Get("Origin"), "origin"
			if source == "" {
				source, header = r.Header.Get("Referer"), "referer"
			}
			if source == "" {
				writeError(w, http.StatusForbidden, "Forbidden: missing origin/referer", nil)
				return
			}
			u, err := url.Parse(source)
			if err != nil || !isAllowedHost(u.Host, allowedHosts) {
				writeError(w, http.StatusForbidden, "Forbidden: invalid "+header, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isAllowedHost reports whether host, with or without port, is a loopback
// name or in allowedHosts.
func isAllowedHost(host string, allowedHosts []string) bool {
	name := stripPort(host)
	if name == "localhost" || name == "127.0.0.1" || name == "::1" {
		return true
	}
	for _, allowed := range allowedHosts {
		if name == stripPort(allowed) {
			return true
		}
	}
	return false
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}

// securityHeadersMiddleware adds security headers to all responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	csp := strings.Join([]string{
		"default-src 'self'",
		"script-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
		"connect-src 'self' ws: wss:",
		"font-src 'self'",
		"base-uri 'none'",
		"frame-ancestors 'none'",
		"form-action 'self'",
	}, "; ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", csp)
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// constantTimeEqualString compares two strings in constant time,
// independent of their lengths.
func constantTimeEqualString(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}

// credentialChecker validates Basic Auth and tracks failures per client IP.
type credentialChecker struct {
	username, password string
	failures           *AuthFailureLimiter
}

// locked writes a 429 and returns true when ip is locked out.
func (c credentialChecker) locked(w http.ResponseWriter, ip string) bool {
	if c.failures == nil || !c.failures.IsLocked(ip) {
		return false
	}
	w.Header().Set("Retry-After", strconv.Itoa(c.failures.LockoutSecondsRemaining(ip)))
	writeError(w, http.StatusTooManyRequests, "Too Many Requests", nil)
	return true
}

// check reports whether r carries valid credentials. sent is false when no
// credentials were sent at all.
func (c credentialChecker) check(r *http.Request) (valid, sent bool) {
	u, p, ok := r.BasicAuth()
	if !ok {
		return false, false
	}
	return constantTimeEqualString(u, c.username) && constantTimeEqualString(p, c.password), true
}

// reject records a failure for ip, if credentials were sent, and writes
// either 401 or, when that failure triggers a lockout, 429.
func (c credentialChecker) reject(w http.ResponseWriter, ip string, sent bool) {
	if sent && c.failures != nil && c.failures.RecordFailure(ip) < 0 {
		c.locked(w, ip)
		return
	}
	w.Header().Set("WWW-Authenticate", authRealm)
	writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
}

func (c credentialChecker) succeed(ip string) {
	if c.failures != nil {
		c.failures.RecordSuccess(ip)
	}
}

// basicAuthMiddleware requires HTTP Basic Auth. afl may be nil.
func basicAuthMiddleware(username, password string, afl *AuthFailureLimiter) func(http.Handler) http.Handler {
	c := credentialChecker{username: username, password: password, failures: afl}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)
			if c.locked(w, ip) {
				return
			}
			valid, sent := c.check(r)
			if !valid {
				c.reject(w, ip, sent)
				return
			}
			c.succeed(ip)
			next.ServeHTTP(w, r)
		})
	}
}

// streamAuthMiddleware accepts Basic Auth or a ?token= issued for scope.
func streamAuthMiddleware(username, password string, issuer *streamauth.Issuer, scope streamauth.Scope, afl *AuthFailureLimiter) func(http.Handler) http.Handler {
	c := credentialChecker{username: username, password: password, failures: afl}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)
			if c.locked(w, ip) {
				return
			}
			valid, sent := c.check(r)
			if valid {
				c.succeed(ip)
				next.ServeHTTP(w, r)
				return
			}
			if token := r.URL.Query().Get("token"); token != "" && issuer != nil {
				if _, err := issuer.Verify(token, scope); err == nil {
					next.ServeHTTP(w, r)
					return
				}
				sent = true
			}
			c.reject(w, ip, sent)
		})
	}
}
