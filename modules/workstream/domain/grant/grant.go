package grant

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level is a permission level in ascending order of capability.
type Level string

const (
	LevelNone  Level = "none"
	LevelView  Level = "view"
	LevelEdit  Level = "edit"
	LevelAdmin Level = "admin"
)

var levelRank = map[Level]int{
	LevelNone:  0,
	LevelView:  1,
	LevelEdit:  2,
	LevelAdmin: 3,
}

// Grantable reports whether the level may appear on a stored grant. "none"
// exists only as a resolution result.
func (l Level) Grantable() bool {
	switch l {
	case LevelView, LevelEdit, LevelAdmin:
		return true
	}
	return false
}

// AtLeast reports whether l meets the minimum required level.
func (l Level) AtLeast(minimum Level) bool {
	return levelRank[l] >= levelRank[minimum]
}

// Max returns the higher of the two levels.
func Max(a, b Level) Level {
	if levelRank[a] >= levelRank[b] {
		return a
	}
	return b
}

func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Grantable() {
		return "", fmt.Errorf("unknown permission level: %q", s)
	}
	return l, nil
}

// Scope controls how far down the subtree a grant reaches.
type Scope string

const (
	ScopeSelf               Scope = "self"
	ScopeSelfAndDescendants Scope = "self_and_descendants"
)

func (s Scope) Valid() bool {
	return s == ScopeSelf || s == ScopeSelfAndDescendants
}

func ParseScope(s string) (Scope, error) {
	scope := Scope(s)
	if !scope.Valid() {
		return "", fmt.Errorf("unknown grant scope: %q", s)
	}
	return scope, nil
}

// Grant authorizes a user to act on one workstream at a declared scope.
// The (WorkstreamID, UserID, Level) tuple is unique; changing scope updates
// the grant in place.
type Grant struct {
	ID           uuid.UUID
	WorkstreamID uuid.UUID
	UserID       uuid.UUID
	Level        Level
	Scope        Scope
	GrantedBy    uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
