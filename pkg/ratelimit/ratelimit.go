// Package ratelimit provides per-client token-bucket admission control.
//
// Each client gets its own bucket; the buckets refill continuously at the
// configured rate and allow short bursts up to the bucket size. Clients on
// the allowlist bypass limiting entirely.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Config holds limiter settings.
type Config struct {
	// Enabled toggles limiting. When off every request is admitted.
	Enabled bool `koanf:"enabled"`

	// RequestsPerMinute is the sustained refill rate per client.
	RequestsPerMinute int `koanf:"requests_per_minute"`

	// Burst is the bucket capacity per client.
	Burst int `koanf:"burst"`

	// AllowlistPath points at a file of client IDs exempt from limiting,
	// one per line. Empty disables the allowlist. The file is watched and
	// reloaded on change.
	AllowlistPath string `koanf:"allowlist_path"`

	// EvictAfter is how long an idle client's bucket is kept before its
	// state is dropped.
	EvictAfter time.Duration `koanf:"evict_after"`
}

// DefaultConfig returns limiter defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             10,
		EvictAfter:        10 * time.Minute,
	}
}

// Decision is the outcome of an admission check, carrying everything the
// HTTP layer needs for the X-RateLimit response headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per client.
type Limiter struct {
	cfg       Config
	allowlist *allowlist

	mu      sync.Mutex
	buckets map[string]*bucket

	stopJanitor chan struct{}
	janitorDone chan struct{}
}

// New creates a limiter. If an allowlist path is configured the file is
// loaded now and watched for changes.
func New(cfg Config) (*Limiter, error) {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = DefaultConfig().EvictAfter
	}

	l := &Limiter{
		cfg:         cfg,
		buckets:     make(map[string]*bucket),
		stopJanitor: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}

	if cfg.AllowlistPath != "" {
		al, err := newAllowlist(cfg.AllowlistPath)
		if err != nil {
			return nil, err
		}
		l.allowlist = al
	}

	go l.janitor()
	return l, nil
}

// Allow runs the admission check for one request from the given client.
func (l *Limiter) Allow(clientID string) Decision {
	now := time.Now()
	exempt := Decision{
		Allowed:   true,
		Limit:     l.cfg.RequestsPerMinute,
		Remaining: l.cfg.Burst,
		ResetAt:   now,
	}
	if !l.cfg.Enabled {
		return exempt
	}
	if l.allowlist != nil && l.allowlist.contains(clientID) {
		return exempt
	}

	lim := l.bucketFor(clientID, now)

	res := lim.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	if delay > 0 {
		// Not admitting; hand the token back.
		res.CancelAt(now)
		return Decision{
			Allowed:    false,
			Limit:      l.cfg.RequestsPerMinute,
			Remaining:  0,
			RetryAfter: delay,
			ResetAt:    now.Add(delay),
		}
	}

	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   true,
		Limit:     l.cfg.RequestsPerMinute,
		Remaining: remaining,
		ResetAt:   now,
	}
	if remaining == 0 {
		d.ResetAt = now.Add(time.Duration(float64(time.Minute) / float64(l.cfg.RequestsPerMinute)))
	}
	return d
}

func (l *Limiter) bucketFor(clientID string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[clientID]
	if !ok {
		b = &bucket{
			lim: rate.NewLimiter(rate.Limit(float64(l.cfg.RequestsPerMinute)/60.0), l.cfg.Burst),
		}
		l.buckets[clientID] = b
	}
	b.lastSeen = now
	return b.lim
}

// janitor drops buckets idle beyond the eviction window so the per-client
// map does not grow with every address ever seen.
func (l *Limiter) janitor() {
	defer close(l.janitorDone)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopJanitor:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.cfg.EvictAfter)
			l.mu.Lock()
			evicted := 0
			for id, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, id)
					evicted++
				}
			}
			l.mu.Unlock()
			if evicted > 0 {
				log.Debug().
					Str("component", "ratelimit").
					Int("evicted", evicted).
					Msg("Evicted idle client buckets")
			}
		}
	}
}

// ClientCount returns how many client buckets are currently tracked.
func (l *Limiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// evictIdle runs one eviction sweep immediately. Test hook.
func (l *Limiter) evictIdle(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}

// Close stops the janitor and the allowlist watcher.
func (l *Limiter) Close() error {
	close(l.stopJanitor)
	<-l.janitorDone
	if l.allowlist != nil {
		return l.allowlist.close()
	}
	return nil
}
