package http

import (
	"net"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const maxTrackedClients = 10_000

// rateLimiter keeps one token bucket per client address. The least recently
// seen clients are forgotten once maxTrackedClients is reached.
type rateLimiter struct {
	perMinute int
	clients   *lru.Cache[string, *rate.Limiter]
}

func newRateLimiter(perMinute int) *rateLimiter {
	clients, _ := lru.New[string, *rate.Limiter](maxTrackedClients) // size is a positive constant
	return &rateLimiter{perMinute: perMinute, clients: clients}
}

func (l *rateLimiter) allow(client string) bool {
	lim, ok := l.clients.Get(client)
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
		// A concurrent first request may have stored a limiter already.
		if prev, found, _ := l.clients.PeekOrAdd(client, lim); found {
			lim = prev
		}
	}
	return lim.Allow()
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
