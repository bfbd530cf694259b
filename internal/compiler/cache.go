package compiler

import (
	"time"

	"github.com/zjrosen/sassbridge/internal/cachemanager"
	"github.com/zjrosen/sassbridge/internal/protocol"
)

// NewResponseCache creates an in-memory cache for WithResponseCache. Entries
// are keyed by the SHA-256 of the request payload, so a changed source,
// option or URL never hits. Only string compiles are cached: a file's
// payload does not cover the partials it imports.
func NewResponseCache(ttl time.Duration) *cachemanager.InMemoryCacheManager[string, protocol.Response] {
	if ttl <= 0 {
		ttl = cachemanager.DefaultExpiration
	}
	return cachemanager.NewInMemoryCacheManager[string, protocol.Response]("responses", ttl, cachemanager.DefaultCleanupInterval)
}
