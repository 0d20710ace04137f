package api

import (
	"context"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sakura-kun-88/startup-compass-89/pkg/identity"
)

// WalletHeader carries the connected wallet when bearer tokens are not
// required.
const WalletHeader = "X-Wallet-Address"

type requestIDKey struct{}

// RequestID injects X-Request-ID into the context and response, reusing the
// client's value when present.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WalletResolver finds the caller's wallet on a request.
type WalletResolver struct {
	// Validator checks bearer tokens. Nil disables tokens.
	Validator *identity.Validator
	// RequireToken ignores WalletHeader.
	RequireToken bool
}

// Resolve attaches the caller's address to the request context when one is
// presented. It only rejects requests that present bad credentials; routes
// decide for themselves whether a wallet is required.
func (wr WalletResolver) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if wr.Validator == nil {
				WriteUnauthorized(w, "Session tokens are not configured")
				return
			}
			addr, err := wr.Validator.Validate(parts[1])
			if err != nil {
				WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithAddress(r.Context(), addr)))
			return
		}

		if h := r.Header.Get(WalletHeader); h != "" && !wr.RequireToken {
			addr, err := identity.ParseAddress(h)
			if err != nil {
				WriteUnauthorized(w, "Malformed wallet address")
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithAddress(r.Context(), addr)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireWallet is the connect-wallet gate: without an address in the
// context the request is refused.
func RequireWallet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := identity.FromContext(r.Context()); !ok {
			WriteUnauthorized(w, "Connect a wallet to submit")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiter keeps one token bucket per caller: the wallet address when
// known, otherwise the client IP.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     3 * time.Minute,
		now:      time.Now,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > time.Minute {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.idle {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Middleware enforces the limit. Run it after WalletResolver.Resolve so
// wallets are limited by address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if addr, ok := identity.FromContext(r.Context()); ok {
			key = addr.String()
		}
		res := rl.limiter(key).Reserve()
		if !res.OK() {
			WriteTooManyRequests(w, 1)
			return
		}
		if d := res.Delay(); d > 0 {
			res.Cancel()
			WriteTooManyRequests(w, int(math.Ceil(d.Seconds())))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}
