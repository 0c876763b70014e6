package gateway

import (
	"net"
	"sync"
	"time"
)

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxHosts = 10000
)

// authRateLimiter counts failed credential checks per remote host inside a
// sliding window. Hosts over the limit are refused until their oldest
// failure ages out.
type authRateLimiter struct {
	mu    sync.Mutex
	hosts map[string][]time.Time
	now   func() time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{hosts: make(map[string][]time.Time), now: time.Now}
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}

// recent drops failures older than the window. Caller holds mu.
func (l *authRateLimiter) recent(host string, now time.Time) []time.Time {
	cutoff := now.Add(-authRateWindow)
	kept := l.hosts[host][:0]
	for _, at := range l.hosts[host] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(l.hosts, host)
		return nil
	}
	l.hosts[host] = kept
	return kept
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recent(remoteHost(remoteAddr), l.now())) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := remoteHost(remoteAddr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, tracked := l.hosts[host]; !tracked && len(l.hosts) >= authRateMaxHosts {
		l.evict(now)
	}
	l.hosts[host] = append(l.recent(host, now), now)
}

// evict makes room for a new host: stale hosts go first, then the one whose
// oldest failure is the earliest. Caller holds mu.
func (l *authRateLimiter) evict(now time.Time) {
	var (
		victim string
		oldest time.Time
	)
	for host := range l.hosts {
		times := l.recent(host, now)
		if times == nil {
			continue
		}
		if victim == "" || times[0].Before(oldest) {
			victim, oldest = host, times[0]
		}
	}
	if len(l.hosts) >= authRateMaxHosts && victim != "" {
		delete(l.hosts, victim)
	}
}
