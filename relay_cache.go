package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// RelayCache deduplicates relays of the same authorization. One caller at a
// time holds the claim on a key; concurrent callers wait for its outcome.
// Final outcomes are kept for the TTL so retries are answered without a
// second submission. Any other outcome releases the key, so a retry after
// the cause is fixed relays again.
type RelayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*relayEntry
	now     func() time.Time
}

type relayEntry struct {
	settled  chan struct{}
	response *RelayResponse
	expires  time.Time
}

// NewRelayCache creates a cache that keeps final outcomes for ttl
func NewRelayCache(ttl time.Duration) *RelayCache {
	return &RelayCache{
		ttl:     ttl,
		entries: make(map[string]*relayEntry),
		now:     time.Now,
	}
}

// GenerateRelayKey derives the cache key of an authorization.
// (authorizer, nonce) is the on-chain uniqueness key, so two requests that
// share it can never both succeed.
func GenerateRelayKey(authorizer, nonce string) string {
	hash := sha256.Sum256([]byte(strings.ToLower(authorizer) + ":" + strings.ToLower(nonce)))
	return hex.EncodeToString(hash[:])
}

// IsFinal reports whether no later relay of the same authorization can
// change resp: the transfer was confirmed, or the chain rejected it because
// the nonce is already consumed. Other reverts do not consume the nonce.
func IsFinal(resp *RelayResponse) bool {
	if resp == nil {
		return false
	}
	if resp.Success {
		return true
	}
	return resp.Transaction != "" && resp.Error != nil && resp.Error.Reason == ReasonAuthorizationAlreadyUsed
}

// Acquire returns either the response to serve for key or a claim to relay
// it. A cached final response is returned directly. While another caller
// holds the claim, Acquire waits and returns that caller's response; if the
// holder released without one, Acquire competes for the claim again.
// The error is non-nil only when ctx ends while waiting.
func (c *RelayCache) Acquire(ctx context.Context, key string) (*RelayResponse, *RelayClaim, error) {
	for {
		c.mu.Lock()
		entry, ok := c.entries[key]
		if ok && isSettled(entry) && !c.now().Before(entry.expires) {
			delete(c.entries, key)
			ok = false
		}
		if !ok {
			entry = &relayEntry{settled: make(chan struct{})}
			c.entries[key] = entry
			c.mu.Unlock()
			return nil, &RelayClaim{cache: c, key: key, entry: entry}, nil
		}
		c.mu.Unlock()

		select {
		case <-entry.settled:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		if entry.response != nil {
			return entry.response, nil, nil
		}
	}
}

// Len returns the number of tracked keys, claimed or cached
func (c *RelayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *RelayCache) settle(cl *RelayClaim, resp *RelayResponse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	final := IsFinal(resp)
	cl.entry.response = resp
	if final {
		cl.entry.expires = c.now().Add(c.ttl)
	} else if c.entries[cl.key] == cl.entry {
		delete(c.entries, cl.key)
	}
	close(cl.entry.settled)

	c.cleanupExpiredLocked()
	return final
}

// cleanupExpiredLocked removes expired final entries. Must be called with lock held.
func (c *RelayCache) cleanupExpiredLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if isSettled(entry) && !now.Before(entry.expires) {
			delete(c.entries, key)
		}
	}
}

func isSettled(entry *relayEntry) bool {
	select {
	case <-entry.settled:
		return true
	default:
		return false
	}
}

// RelayClaim is the exclusive right to relay one authorization key
type RelayClaim struct {
	cache *RelayCache
	key   string
	entry *relayEntry
	once  sync.Once
}

// Settle publishes resp to waiting callers and reports whether it was cached
// as final. Only the first Settle or Release of a claim has an effect.
func (cl *RelayClaim) Settle(resp *RelayResponse) bool {
	final := false
	cl.once.Do(func() {
		final = cl.cache.settle(cl, resp)
	})
	return final
}

// Release gives up the claim without a response, letting a waiting caller
// take it over. It is a no-op after Settle.
func (cl *RelayClaim) Release() {
	cl.Settle(nil)
}
