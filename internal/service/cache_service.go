package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/store"
)

// CacheService is the content-addressed deduplication cache. A hit
// short-circuits the whole pipeline; entries are never invalidated early and
// staleness is bounded purely by TTL. TTL 0 disables the cache.
type CacheService struct {
	store store.Store
	ttl   time.Duration
}

// NewCacheService creates the dedup cache.
func NewCacheService(s store.Store, ttl time.Duration) *CacheService {
	return &CacheService{store: s, ttl: ttl}
}

// Enabled reports whether caching is active.
func (c *CacheService) Enabled() bool {
	return c.ttl > 0
}

func cacheKey(ownerID, contentHash string, tool model.ToolType, optionsHash string) string {
	return fmt.Sprintf("cache:%s:%s:%s:%s", ownerID, tool, contentHash, optionsHash)
}

// Lookup returns the cached entry for the exact (owner, content, tool,
// options) combination within TTL, or nil on miss. Errors are swallowed:
// cache failures fall back to the non-cached path.
func (c *CacheService) Lookup(ctx context.Context, ownerID, contentHash string, tool model.ToolType, optionsHash string) *model.CacheEntry {
	if !c.Enabled() || contentHash == "" {
		return nil
	}

	data, err := c.store.Get(ctx, cacheKey(ownerID, contentHash, tool, optionsHash))
	if err != nil {
		if err != store.ErrNotFound {
			log.Printf("[Cache] lookup failed: %v", err)
		}
		return nil
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Printf("[Cache] corrupt entry dropped: %v", err)
		return nil
	}

	// All four key components must match and the entry must be within TTL.
	if entry.OwnerID != ownerID || entry.ContentHash != contentHash ||
		entry.Tool != tool || entry.OptionsHash != optionsHash {
		return nil
	}
	if time.Since(entry.CreatedAt) > c.ttl {
		return nil
	}

	return &entry
}

// Store records a computed output for future dedup. Best effort.
func (c *CacheService) Store(ctx context.Context, ownerID, contentHash string, tool model.ToolType, optionsHash, outputPath, fileName string) {
	if !c.Enabled() || contentHash == "" {
		return
	}

	entry := model.CacheEntry{
		OwnerID:     ownerID,
		ContentHash: contentHash,
		Tool:        tool,
		OptionsHash: optionsHash,
		OutputPath:  outputPath,
		FileName:    fileName,
		CreatedAt:   time.Now(),
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		log.Printf("[Cache] failed to marshal entry: %v", err)
		return
	}
	if err := c.store.Set(ctx, cacheKey(ownerID, contentHash, tool, optionsHash), data, c.ttl); err != nil {
		log.Printf("[Cache] failed to store entry: %v", err)
	}
}

// OptionsHash computes the canonical digest of a job's option set combined
// with the tool type: map keys sorted, array elements sorted, so two requests
// differing only in ordering still match.
func OptionsHash(tool model.ToolType, options map[string]any) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write([]byte(canonicalize(options)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize renders a JSON-ish value deterministically.
func canonicalize(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%q:%s", k, canonicalize(val[k])))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []any:
		parts := make([]string, 0, len(val))
		for _, e := range val {
			parts = append(parts, canonicalize(e))
		}
		sort.Strings(parts)
		return "[" + strings.Join(parts, ",") + "]"
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
