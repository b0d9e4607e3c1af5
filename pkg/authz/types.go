package authz

import (
	"strings"

	"github.com/google/uuid"
)

const (
	globalDomain     = "global"
	subjectPrefix    = "user"
	subjectSeparator = ":"

	// ObjectWorkstreams and ActionOverride name the single capability this
	// policy layer decides for the engine: platform-wide admin override.
	ObjectWorkstreams = "workstreams"
	ActionOverride    = "override"
)

// Request encapsulates the parameters of one Casbin evaluation.
type Request struct {
	Subject string
	Domain  string
	Object  string
	Action  string
}

// NewRequest constructs a Request with the global domain as default.
func NewRequest(subject, object, action string) Request {
	return Request{
		Subject: subject,
		Domain:  globalDomain,
		Object:  object,
		Action:  action,
	}
}

// SubjectForUser builds a subject identifier in the form user:{userID}.
func SubjectForUser(userID uuid.UUID) string {
	userPart := "anonymous"
	if userID != uuid.Nil {
		userPart = userID.String()
	}
	builder := strings.Builder{}
	builder.Grow(len(subjectPrefix) + len(subjectSeparator) + len(userPart))
	builder.WriteString(subjectPrefix)
	builder.WriteString(subjectSeparator)
	builder.WriteString(userPart)
	return builder.String()
}
