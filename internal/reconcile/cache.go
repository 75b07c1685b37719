package reconcile

import (
	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"

	"github.com/hexworld/server/internal/game"
	"github.com/hexworld/server/internal/network"
)

// SceneCache keeps encoded scene chunks per scene revision, so a burst of
// joins against an unchanged map encodes it once.
type SceneCache struct {
	cache *ristretto.Cache[uint64, [][]byte]
}

// NewSceneCache creates a cache bounded to maxBytes of encoded chunks.
func NewSceneCache(maxBytes int64) (*SceneCache, error) {
	cache, err := ristretto.NewCache[uint64, [][]byte](&ristretto.Config[uint64, [][]byte]{
		NumCounters: 1000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "scene cache")
	}
	return &SceneCache{cache: cache}, nil
}

// Chunks returns the encoded chunks for the scene's current revision.
func (c *SceneCache) Chunks(s *game.Scene) ([][]byte, error) {
	rev := s.Revision()
	if chunks, ok := c.cache.Get(rev); ok {
		return chunks, nil
	}

	chunks, err := network.EncodeSceneChunks(s.Entries())
	if err != nil {
		return nil, err
	}
	var cost int64
	for _, ch := range chunks {
		cost += int64(len(ch))
	}
	c.cache.Set(rev, chunks, max(cost, 1))
	c.cache.Wait()
	return chunks, nil
}

// Close releases the cache's background goroutines.
func (c *SceneCache) Close() {
	c.cache.Close()
}
