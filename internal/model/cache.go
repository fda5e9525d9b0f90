package model

import "time"

// CacheEntry records a previously computed output for deduplication.
// A hit is only valid when owner, content hash, tool type and options hash all
// match and the entry is younger than the cache TTL.
type CacheEntry struct {
	OwnerID     string    `json:"ownerId"`
	ContentHash string    `json:"contentHash"`
	Tool        ToolType  `json:"tool"`
	OptionsHash string    `json:"optionsHash"`
	OutputPath  string    `json:"outputPath"`
	FileName    string    `json:"fileName"`
	CreatedAt   time.Time `json:"createdAt"`
}
