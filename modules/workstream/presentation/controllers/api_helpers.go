package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/grant"
	"github.com/cadenzahq/cadenza/modules/workstream/domain/reviewtask"
	"github.com/cadenzahq/cadenza/modules/workstream/domain/workstream"
	"github.com/cadenzahq/cadenza/modules/workstream/services"
	"github.com/cadenzahq/cadenza/pkg/composables"
)

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func writeJSON[T any](w http.ResponseWriter, status int, payload T) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeAPIError(w http.ResponseWriter, status int, requestID, code, message string) {
	meta := map[string]string{}
	if requestID != "" {
		meta["request_id"] = requestID
	}
	writeJSON(w, status, apiError{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}

func writeServiceError(w http.ResponseWriter, requestID string, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		writeAPIError(w, svcErr.Status, requestID, svcErr.Code, svcErr.Message)
		return
	}
	if errors.Is(err, composables.ErrNoActor) {
		writeAPIError(w, http.StatusUnauthorized, requestID, "WS_UNAUTHENTICATED", "authentication required")
		return
	}
	writeAPIError(w, http.StatusInternalServerError, requestID, "WS_INTERNAL", err.Error())
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[name])
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request, requestID string) (T, bool) {
	var body T
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_BODY", "request body is not valid JSON")
		return body, false
	}
	return body, true
}

type workstreamResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	OwnerID     *string `json:"owner_id"`
	ParentID    *string `json:"parent_id"`
	Depth       int     `json:"depth"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func toWorkstreamResponse(ws workstream.Workstream) workstreamResponse {
	return workstreamResponse{
		ID:          ws.ID.String(),
		Name:        ws.Name,
		Description: ws.Description,
		Type:        string(ws.Type),
		Status:      string(ws.Status),
		OwnerID:     uuidString(ws.OwnerID),
		ParentID:    uuidString(ws.ParentID),
		Depth:       ws.Depth,
		CreatedAt:   ws.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   ws.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toWorkstreamResponses(nodes []workstream.Workstream) []workstreamResponse {
	out := make([]workstreamResponse, 0, len(nodes))
	for _, ws := range nodes {
		out = append(out, toWorkstreamResponse(ws))
	}
	return out
}

type grantResponse struct {
	ID           string `json:"id"`
	WorkstreamID string `json:"workstream_id"`
	UserID       string `json:"user_id"`
	Level        string `json:"level"`
	Scope        string `json:"scope"`
	GrantedBy    string `json:"granted_by"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toGrantResponse(g grant.Grant) grantResponse {
	return grantResponse{
		ID:           g.ID.String(),
		WorkstreamID: g.WorkstreamID.String(),
		UserID:       g.UserID.String(),
		Level:        string(g.Level),
		Scope:        string(g.Scope),
		GrantedBy:    g.GrantedBy.String(),
		CreatedAt:    g.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    g.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type resolutionResponse struct {
	Level          string  `json:"level"`
	Source         string  `json:"source"`
	FromAncestorID *string `json:"from_ancestor_id,omitempty"`
}

func toResolutionResponse(res services.Resolution) resolutionResponse {
	return resolutionResponse{
		Level:          string(res.Level),
		Source:         string(res.Source),
		FromAncestorID: uuidString(res.FromAncestorID),
	}
}

type reviewTaskResponse struct {
	ID               string  `json:"id"`
	WorkstreamID     string  `json:"workstream_id"`
	WorkstreamName   string  `json:"workstream_name"`
	PreviousOwnerRef string  `json:"previous_owner_ref"`
	Reason           string  `json:"reason"`
	Status           string  `json:"status"`
	CreatedAt        string  `json:"created_at"`
	ResolvedAt       *string `json:"resolved_at,omitempty"`
}

func toReviewTaskResponse(task reviewtask.ReviewTask) reviewTaskResponse {
	out := reviewTaskResponse{
		ID:               task.ID.String(),
		WorkstreamID:     task.WorkstreamID.String(),
		WorkstreamName:   task.WorkstreamName,
		PreviousOwnerRef: task.PreviousOwnerRef,
		Reason:           task.Reason,
		Status:           string(task.Status),
		CreatedAt:        task.CreatedAt.UTC().Format(time.RFC3339),
	}
	if task.ResolvedAt != nil {
		resolved := task.ResolvedAt.UTC().Format(time.RFC3339)
		out.ResolvedAt = &resolved
	}
	return out
}

func uuidString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
