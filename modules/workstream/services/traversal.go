package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
)

// maxTraversalDepth bounds ancestor walks. The depth invariant keeps real
// chains far below this; hitting it means corrupted parent pointers.
const maxTraversalDepth = 10000

var errHierarchyCorrupted = errors.New("hierarchy corrupted: ancestor chain exceeds maximum depth")

// AncestorSource is the minimal read surface GetAncestors needs.
type AncestorSource interface {
	GetWorkstream(ctx context.Context, id uuid.UUID) (workstream.Workstream, error)
}

// DescendantSource is the minimal read surface GetDescendants needs.
type DescendantSource interface {
	GetChildren(ctx context.Context, parentIDs []uuid.UUID) ([]workstream.Workstream, error)
}

// GetAncestors walks parent pointers from the immediate parent up to the
// root, nearest first. It has no side effects and may be restarted freely.
func GetAncestors(ctx context.Context, source AncestorSource, id uuid.UUID) ([]workstream.Workstream, error) {
	node, err := source.GetWorkstream(ctx, id)
	if err != nil {
		return nil, err
	}

	seen := map[uuid.UUID]struct{}{node.ID: {}}
	ancestors := make([]workstream.Workstream, 0, node.Depth)
	for node.ParentID != nil {
		if len(ancestors) >= maxTraversalDepth {
			return nil, errHierarchyCorrupted
		}
		parent, err := source.GetWorkstream(ctx, *node.ParentID)
		if err != nil {
			return nil, fmt.Errorf("ancestor %s: %w", *node.ParentID, err)
		}
		if _, dup := seen[parent.ID]; dup {
			return nil, errHierarchyCorrupted
		}
		seen[parent.ID] = struct{}{}
		ancestors = append(ancestors, parent)
		node = parent
	}
	return ancestors, nil
}

// GetDescendants collects the full subtree below id, unbounded depth, via
// breadth-first expansion batched one level per query. The returned set
// excludes the node itself and carries no ordering guarantee.
func GetDescendants(ctx context.Context, source DescendantSource, id uuid.UUID) ([]workstream.Workstream, error) {
	var descendants []workstream.Workstream
	seen := map[uuid.UUID]struct{}{id: {}}
	frontier := []uuid.UUID{id}
	for len(frontier) > 0 {
		children, err := source.GetChildren(ctx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, child := range children {
			if _, dup := seen[child.ID]; dup {
				return nil, errHierarchyCorrupted
			}
			seen[child.ID] = struct{}{}
			descendants = append(descendants, child)
			frontier = append(frontier, child.ID)
		}
	}
	return descendants, nil
}
