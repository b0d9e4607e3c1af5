package reviewtask

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOpen Status = "open"
	StatusDone Status = "done"
)

// ReviewTask asks a human to reassign ownership of a workstream after its
// owner was removed. PreviousOwnerRef is inert context (plain text, no
// foreign key) so the task stays valid after the user row is gone.
type ReviewTask struct {
	ID               uuid.UUID
	WorkstreamID     uuid.UUID
	WorkstreamName   string
	PreviousOwnerRef string
	Reason           string
	Status           Status
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}
