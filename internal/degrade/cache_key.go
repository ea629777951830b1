package degrade

import (
	"strconv"

	"pampax/internal/cache"
)

// CacheKey builds the degradation cache key spec §4.9 specifies:
// (policy_id, budget, ordered item ids + content hashes).
func CacheKey(policyID string, budget int, items []Item) string {
	ids := make([]interface{}, len(items))
	for i, it := range items {
		ids[i] = it.ID + ":" + contentHash(it.Content)
	}
	k := cache.Generate("degrade", map[string]interface{}{
		"policyId": policyID,
		"budget":   budget,
		"items":    ids,
	})
	return k.String()
}

func contentHash(content string) string {
	// A cheap, stable proxy for content identity: callers that already
	// track a chunk's ContentHash should prefer passing Item.ID as the
	// hash-qualified id instead of relying on this fallback.
	sum := 0
	for _, b := range []byte(content) {
		sum = sum*31 + int(b)
	}
	return strconv.Itoa(sum)
}
