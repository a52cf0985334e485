package shake

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/zeebo/xxh3"
)

// Fingerprint digests the raw rows and labels together with the digest of
// the rate tables the observed lines came from.
func (in Input) Fingerprint(tables uint64) uint64 {
	h := xxh3.New()
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[:8], tables)
	_, _ = h.Write(buf[:8])
	for _, row := range in.ShakeOff {
		_, _ = h.WriteString("o" + row.Key + "\x00")
		binary.LittleEndian.PutUint64(buf[:8], uint64(int64(row.TwoJ)))
		binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(row.Probability))
		_, _ = h.Write(buf[:16])
	}
	for _, row := range in.ShakeUp {
		_, _ = h.WriteString("u" + row.Key + "\x00" + row.Order + "\x00")
		binary.LittleEndian.PutUint64(buf[:8], uint64(int64(row.TwoJ)))
		binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(row.Probability))
		_, _ = h.Write(buf[:16])
	}
	for _, label := range in.Labels {
		_, _ = h.WriteString("l" + label + "\x00")
	}
	return h.Sum64()
}

// Cache keeps the most recently built Tables and rebuilds only when the
// fingerprint changes. It is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	key    uint64
	tables *Tables
	builds int
}

// Get returns the cached tables for in, building them when needed.
func (c *Cache) Get(in Input, tablesFingerprint uint64) *Tables {
	key := in.Fingerprint(tablesFingerprint)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tables != nil && c.key == key {
		return c.tables
	}
	c.tables = Build(in)
	c.key = key
	c.builds++
	return c.tables
}

// Builds reports how many times the cache rebuilt its tables.
func (c *Cache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}
