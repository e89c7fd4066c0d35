// Package session attaches the authenticated session to a request context.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
)

// Info is the read-only view of the caller's session.
type Info struct {
	UserID      string    `json:"userID"`
	LastActive  time.Time `json:"lastActive"`
	SessionInfo Client    `json:"sessionInfo"`
	SignedIn    time.Time `json:"signedIn"`
}

// Client describes where a session was opened from.
type Client struct {
	Device string `json:"device"`
	IP     string `json:"ip"`
}

type ctxKey struct{}

func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(ctxKey{}).(Info)
	return info, ok
}

// Verifier checks a raw token for a purpose.
type Verifier interface {
	Verify(purpose token.Purpose, raw string) (*token.Claims, error)
}

// Middleware requires a valid bearer access token and stores the session it
// describes in the request context.
func Middleware(v Verifier, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := v.Verify(token.PurposeAccess, raw)
			if err != nil {
				logger.Debugw("rejected access token", "path", r.URL.Path, "err", err)
				unauthorized(w)
				return
			}
			info := Info{
				UserID:      claims.Subject,
				LastActive:  time.Now().UTC(),
				SessionInfo: Client{Device: claims.Device, IP: claims.IP},
			}
			if claims.IssuedAt != nil {
				info.SignedIn = claims.IssuedAt.UTC()
			}
			next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
		})
	}
}

// ClientResolver derives the device and address of the caller.
// X-Forwarded-For is only honoured when the direct peer is a trusted proxy.
type ClientResolver struct {
	trusted []netip.Prefix
}

// NewClientResolver accepts CIDR ranges or single addresses. With none,
// forwarding headers are ignored.
func NewClientResolver(proxies []string) (*ClientResolver, error) {
	cr := &ClientResolver{}
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			addr, err := netip.ParseAddr(p)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", p, err)
			}
			cr.trusted = append(cr.trusted, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", p, err)
		}
		cr.trusted = append(cr.trusted, prefix.Masked())
	}
	return cr, nil
}

// Client returns the caller's user agent and address. Behind trusted proxies
// the address is the right-most X-Forwarded-For hop that is not a proxy.
func (cr *ClientResolver) Client(r *http.Request) Client {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	if cr != nil && cr.trusts(ip) {
		hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			ip = hop
			if !cr.trusts(hop) {
				break
			}
		}
	}
	return Client{Device: r.UserAgent(), IP: ip}
}

func (cr *ClientResolver) trusts(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range cr.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Unauthorized"})
}
