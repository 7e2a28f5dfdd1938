package judge

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/speccheck/speccheck/internal/models"
)

// CacheKey content-addresses one judgment: the requirement id and text, the
// sorted relative file list, and each file's content digest. Architecture
// level judgments use the same scheme over the whole index, so identical
// (requirement, context) pairs hash identically at either granularity.
func CacheKey(req models.Requirement, files []string, digests map[string]string) string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(req.SpecFile + "\x00" + req.ID + "\x00" + req.Text + "\x00"))
	for _, f := range sorted {
		h.Write([]byte(f + "\x00" + digests[f] + "\x00"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// verdictCache memoizes verdicts for the lifetime of a single check,
// bounded so a pathological requirement set cannot grow it indefinitely.
type verdictCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]models.Verdict
}

func newVerdictCache(max int) *verdictCache {
	if max <= 0 {
		max = 512
	}
	return &verdictCache{max: max, entries: map[string]models.Verdict{}}
}

func (c *verdictCache) get(key string) (models.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *verdictCache) put(key string, v models.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		return
	}
	c.entries[key] = v
}
