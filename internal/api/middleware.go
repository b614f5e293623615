package api

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"golang.org/x/time/rate"
)

func (s *ChatRelayApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}

// visitorLimiter gives each client IP a budget of max requests per fixed
// window, counted from the IP's first request in that window. Each window
// is backed by a bucket of max tokens that refills one token per window,
// so nothing is refilled before the window is replaced.
type visitorLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	window   time.Duration
	swept    time.Time
	now      func() time.Time
}

type visitor struct {
	limiter     *rate.Limiter
	windowStart time.Time
}

func newVisitorLimiter(max int, window time.Duration) *visitorLimiter {
	return &visitorLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(window),
		burst:    max,
		window:   window,
		now:      time.Now,
	}
}

func (v *visitorLimiter) Allow(ip string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	v.evict(now)

	vis, ok := v.visitors[ip]
	if !ok || now.Sub(vis.windowStart) >= v.window {
		vis = &visitor{
			limiter:     rate.NewLimiter(v.limit, v.burst),
			windowStart: now,
		}
		v.visitors[ip] = vis
	}

	return vis.limiter.AllowN(now, 1)
}

// evict drops visitors whose window has ended, at most once per window.
// Callers hold mu.
func (v *visitorLimiter) evict(now time.Time) {
	if now.Sub(v.swept) < v.window {
		return
	}
	v.swept = now

	for ip, vis := range v.visitors {
		if now.Sub(vis.windowStart) >= v.window {
			delete(v.visitors, ip)
		}
	}
}

func (v *visitorLimiter) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.visitors)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// forwardedFor applies handlers.ProxyHeaders only to requests whose peer is
// a trusted proxy. Anyone else keeps the socket address, whatever headers
// they send.
func (s *ChatRelayApp) forwardedFor(next http.Handler) http.Handler {
	proxied := handlers.ProxyHeaders(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.trustedPeer(r) {
			proxied.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *ChatRelayApp) trustedPeer(r *http.Request) bool {
	if len(s.trustedProxies) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(clientIP(r))
	if err != nil {
		return false
	}

	addr = addr.Unmap()
	for _, p := range s.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}

	return false
}

func (s *ChatRelayApp) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.visitors.Allow(clientIP(r)) {
			errResp := NewTooManyRequestsError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		next.ServeHTTP(w, r)
	})
}
