package workstream

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type classifies a workstream within the coordination hierarchy.
type Type string

const (
	TypeProductLine Type = "product_line"
	TypeInitiative  Type = "initiative"
	TypeExperiment  Type = "experiment"
)

func (t Type) Valid() bool {
	switch t {
	case TypeProductLine, TypeInitiative, TypeExperiment:
		return true
	}
	return false
}

func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown workstream type: %q", s)
	}
	return t, nil
}

// Workstream is one node of the hierarchy. ParentID forms a forest: the
// parent relation never cycles, and Depth always equals the parent's depth
// plus one (roots have depth 1). OwnerID is a weak reference; it becomes nil
// when the owning user is removed.
type Workstream struct {
	ID          uuid.UUID
	Name        string
	Description string
	Type        Type
	Status      Status
	OwnerID     *uuid.UUID
	ParentID    *uuid.UUID
	Depth       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (w Workstream) IsRoot() bool {
	return w.ParentID == nil
}

// OwnedBy reports whether userID currently owns the workstream.
func (w Workstream) OwnedBy(userID uuid.UUID) bool {
	return w.OwnerID != nil && *w.OwnerID == userID && userID != uuid.Nil
}
