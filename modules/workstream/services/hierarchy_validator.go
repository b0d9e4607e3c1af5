package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
)

// HierarchyValidator guards structural mutations: no node may become its own
// ancestor, and depth stays consistent with the parent chain. It is consulted
// on every move; creates need no cycle check since a fresh node has no
// descendants.
type HierarchyValidator struct {
	repo Repository
}

func NewHierarchyValidator(repo Repository) *HierarchyValidator {
	return &HierarchyValidator{repo: repo}
}

// WouldCreateCycle reports whether making candidateParent the parent of node
// would close a cycle. Equivalent to asking whether candidateParent lies in
// node's subtree; implemented as a walk up candidateParent's ancestor chain,
// which is bounded by tree height instead of subtree size.
func (v *HierarchyValidator) WouldCreateCycle(ctx context.Context, nodeID, candidateParentID uuid.UUID) (bool, error) {
	if nodeID == candidateParentID {
		return true, nil
	}
	ancestors, err := GetAncestors(ctx, v.repo, candidateParentID)
	if err != nil {
		return false, err
	}
	for _, ancestor := range ancestors {
		if ancestor.ID == nodeID {
			return true, nil
		}
	}
	return false, nil
}

// RecomputeDepths returns the depth updates for a moved node and its whole
// subtree in one pass. Every node keeps its distance to the moved node, so
// the new depth is the old depth shifted by the move delta.
func RecomputeDepths(moved workstream.Workstream, newParentDepth int, subtree []workstream.Workstream) []DepthUpdate {
	newDepth := newParentDepth + 1
	delta := newDepth - moved.Depth

	updates := make([]DepthUpdate, 0, len(subtree)+1)
	updates = append(updates, DepthUpdate{ID: moved.ID, Depth: newDepth})
	for _, node := range subtree {
		if node.ID == moved.ID {
			continue
		}
		updates = append(updates, DepthUpdate{ID: node.ID, Depth: node.Depth + delta})
	}
	return updates
}
