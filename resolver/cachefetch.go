package resolver

import (
	"context"
	"net/http"
	"time"

	"github.com/agent-uri/agentcore/descriptor"
	"github.com/agent-uri/agentcore/problem"
)

type fetchOutcome struct {
	body []byte
	cm   CacheMetadata
}

// fetchRaw resolves url through the cache, deduplicating
// concurrent revalidation probes against the same key with singleflight, and
// returns the resulting bytes plus cache provenance. A non-200/304 response
// (other than a cache hit) is a failure, letting the well-known chain try
// the next step.
func (r *Resolver) fetchRaw(ctx context.Context, url string) ([]byte, CacheMetadata, error) {
	now := time.Now()
	entry, hit := r.cache.Get(url)
	if hit && now.Before(entry.ExpiresAt) {
		return entry.Body, CacheMetadata{ETag: entry.ETag, LastModified: entry.LastModified, ExpiresAt: entry.ExpiresAt, FromCache: true}, nil
	}

	v, err, _ := r.group.Do(url, func() (any, error) {
		etag, lastModified := "", ""
		if hit {
			etag, lastModified = entry.ETag, entry.LastModified
		}
		fr, err := r.fetcher.Fetch(ctx, url, etag, lastModified)
		if err != nil {
			return nil, err
		}

		if fr.NotModified {
			if !hit {
				// A 304 with nothing cached is nonsensical; treat as a miss.
				return nil, problem.New(problem.ResolutionError, "received 304 with no cached entry").WithInstance(url)
			}
			expiresAt := now.Add(ttlFor(fr, r.ttlDefault))
			refreshed := entry
			refreshed.ExpiresAt = expiresAt
			r.cache.Put(url, refreshed)
			return fetchOutcome{body: entry.Body, cm: CacheMetadata{ETag: entry.ETag, LastModified: entry.LastModified, ExpiresAt: expiresAt, FromCache: true}}, nil
		}

		if fr.StatusCode != http.StatusOK {
			return nil, problem.New(problem.NetworkError, "resolver fetch returned non-200").WithInstance(url).WithExtension("status", fr.StatusCode)
		}

		expiresAt := now.Add(ttlFor(fr, r.ttlDefault))
		newEntry := CacheEntry{Body: fr.Body, ETag: fr.ETag, LastModified: fr.LastModified, StoredAt: now, ExpiresAt: expiresAt}
		r.cache.Put(url, newEntry)
		return fetchOutcome{body: fr.Body, cm: CacheMetadata{ETag: fr.ETag, LastModified: fr.LastModified, ExpiresAt: expiresAt, FromCache: false}}, nil
	})
	if err != nil {
		return nil, CacheMetadata{}, err
	}
	outcome := v.(fetchOutcome)
	return outcome.body, outcome.cm, nil
}

// fetchDescriptor fetches and parses a descriptor at url, evicting the cache
// entry and re-fetching once if a cached body fails to parse (poisoned-entry
// recovery).
func (r *Resolver) fetchDescriptor(ctx context.Context, url string) (*descriptor.AgentDescriptor, CacheMetadata, error) {
	body, cm, err := r.fetchRaw(ctx, url)
	if err != nil {
		return nil, CacheMetadata{}, err
	}
	d, perr := descriptor.Parse(body, descriptor.ParseOptions{Strict: r.strict})
	if perr != nil {
		if cm.FromCache {
			r.cache.Delete(url)
			body, cm, err = r.fetchRaw(ctx, url)
			if err != nil {
				return nil, CacheMetadata{}, err
			}
			d, perr = descriptor.Parse(body, descriptor.ParseOptions{Strict: r.strict})
			if perr != nil {
				return nil, CacheMetadata{}, perr
			}
			return d, cm, nil
		}
		return nil, CacheMetadata{}, perr
	}
	return d, cm, nil
}

// ttlFor computes the cache lifetime of a fetch result: the response's own
// Cache-Control max-age when present, else cache_ttl_default_s.
func ttlFor(fr *FetchResult, def time.Duration) time.Duration {
	if fr.MaxAgeSecs >= 0 {
		return time.Duration(fr.MaxAgeSecs) * time.Second
	}
	return def
}
