package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
)

// PermissionCache stores derived state keyed by workstream: resolved
// permissions and subtree snapshots. Evict removes every entry tagged to any
// of the given nodes and returns the number of keys dropped; the broker
// treats an Evict error as a failed mutation.
//
// Every node carries a monotonic epoch that Evict bumps. Fills pass the
// epoch observed before the underlying read started and are dropped when it
// no longer matches, so a result computed from a pre-eviction snapshot can
// never be written back after the eviction that superseded it.
type PermissionCache interface {
	Epoch(ctx context.Context, nodeID uuid.UUID) uint64
	GetResolution(ctx context.Context, workstreamID, userID uuid.UUID) (Resolution, bool)
	SetResolution(ctx context.Context, workstreamID, userID uuid.UUID, res Resolution, epoch uint64)
	GetTree(ctx context.Context, rootID uuid.UUID) ([]workstream.Workstream, bool)
	SetTree(ctx context.Context, rootID uuid.UUID, nodes []workstream.Workstream, epoch uint64)
	Evict(ctx context.Context, nodeIDs []uuid.UUID) (int, error)
}

func resolutionKey(workstreamID, userID uuid.UUID) string {
	return fmt.Sprintf("perm:%s:%s", workstreamID, userID)
}

func treeKey(rootID uuid.UUID) string {
	return fmt.Sprintf("tree:%s", rootID)
}

// memoryCache is the in-process cache. Every entry is indexed by the
// workstream it derives from so eviction by node is a map walk, not a scan.
type memoryCache struct {
	mu        sync.RWMutex
	entries   map[string]any
	nodeIndex map[uuid.UUID]map[string]struct{}
	epochs    map[uuid.UUID]uint64
}

func NewMemoryCache() PermissionCache {
	return &memoryCache{
		entries:   make(map[string]any),
		nodeIndex: make(map[uuid.UUID]map[string]struct{}),
		epochs:    make(map[uuid.UUID]uint64),
	}
}

func (c *memoryCache) Epoch(_ context.Context, nodeID uuid.UUID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochs[nodeID]
}

func (c *memoryCache) get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *memoryCache) set(nodeID uuid.UUID, key string, value any, epoch uint64) {
	if nodeID == uuid.Nil || key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs[nodeID] != epoch {
		// An eviction ran after this fill's source read; the value may
		// predate committed state.
		return
	}
	c.entries[key] = value
	if _, ok := c.nodeIndex[nodeID]; !ok {
		c.nodeIndex[nodeID] = make(map[string]struct{})
	}
	c.nodeIndex[nodeID][key] = struct{}{}
}

func (c *memoryCache) GetResolution(_ context.Context, workstreamID, userID uuid.UUID) (Resolution, bool) {
	v, ok := c.get(resolutionKey(workstreamID, userID))
	if !ok {
		return Resolution{}, false
	}
	res, ok := v.(Resolution)
	return res, ok
}

func (c *memoryCache) SetResolution(_ context.Context, workstreamID, userID uuid.UUID, res Resolution, epoch uint64) {
	c.set(workstreamID, resolutionKey(workstreamID, userID), res, epoch)
}

func (c *memoryCache) GetTree(_ context.Context, rootID uuid.UUID) ([]workstream.Workstream, bool) {
	v, ok := c.get(treeKey(rootID))
	if !ok {
		return nil, false
	}
	nodes, ok := v.([]workstream.Workstream)
	return nodes, ok
}

func (c *memoryCache) SetTree(_ context.Context, rootID uuid.UUID, nodes []workstream.Workstream, epoch uint64) {
	c.set(rootID, treeKey(rootID), nodes, epoch)
}

func (c *memoryCache) Evict(_ context.Context, nodeIDs []uuid.UUID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for _, nodeID := range nodeIDs {
		c.epochs[nodeID]++
		for key := range c.nodeIndex[nodeID] {
			if _, ok := c.entries[key]; ok {
				delete(c.entries, key)
				evicted++
			}
		}
		delete(c.nodeIndex, nodeID)
	}
	return evicted, nil
}
