package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cadenzahq/cadenza/modules/workstream/domain/reviewtask"
	"github.com/cadenzahq/cadenza/modules/workstream/services"
	"github.com/cadenzahq/cadenza/pkg/application"
	"github.com/cadenzahq/cadenza/pkg/composables"
)

// WorkstreamAPIController is the JSON surface over the hierarchy and
// permission services. It parses and authenticates; every business rule,
// including permission gating, lives in the services.
type WorkstreamAPIController struct {
	app        application.Application
	workstream *services.WorkstreamService
	grants     *services.GrantService
	perms      *services.PermissionService
	ownership  *services.OwnershipService
	apiPrefix  string
}

func NewWorkstreamAPIController(app application.Application) application.Controller {
	return &WorkstreamAPIController{
		app:        app,
		workstream: app.Service(services.WorkstreamService{}).(*services.WorkstreamService),
		grants:     app.Service(services.GrantService{}).(*services.GrantService),
		perms:      app.Service(services.PermissionService{}).(*services.PermissionService),
		ownership:  app.Service(services.OwnershipService{}).(*services.OwnershipService),
		apiPrefix:  "/api/v1",
	}
}

func (c *WorkstreamAPIController) Key() string {
	return c.apiPrefix
}

func (c *WorkstreamAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("/workstreams", c.instrumentAPI("create", c.Create)).Methods(http.MethodPost)
	api.HandleFunc("/workstreams:bulk-fetch", c.instrumentAPI("bulk_fetch", c.BulkFetch)).Methods(http.MethodPost)
	api.HandleFunc("/workstreams/{id}", c.instrumentAPI("get", c.Get)).Methods(http.MethodGet)
	api.HandleFunc("/workstreams/{id}", c.instrumentAPI("update", c.Update)).Methods(http.MethodPatch)
	api.HandleFunc("/workstreams/{id}", c.instrumentAPI("delete", c.Delete)).Methods(http.MethodDelete)
	api.HandleFunc("/workstreams/{id}:move", c.instrumentAPI("move", c.Move)).Methods(http.MethodPost)
	api.HandleFunc("/workstreams/{id}:transition", c.instrumentAPI("transition", c.Transition)).Methods(http.MethodPost)
	api.HandleFunc("/workstreams/{id}:transfer-ownership", c.instrumentAPI("transfer_ownership", c.TransferOwnership)).Methods(http.MethodPost)
	api.HandleFunc("/workstreams/{id}/ancestors", c.instrumentAPI("ancestors", c.Ancestors)).Methods(http.MethodGet)
	api.HandleFunc("/workstreams/{id}/descendants", c.instrumentAPI("descendants", c.Descendants)).Methods(http.MethodGet)
	api.HandleFunc("/workstreams/{id}/tree", c.instrumentAPI("tree", c.Tree)).Methods(http.MethodGet)
	api.HandleFunc("/workstreams/{id}/permission", c.instrumentAPI("permission", c.EffectivePermission)).Methods(http.MethodGet)
	api.HandleFunc("/workstreams/{id}/can", c.instrumentAPI("can", c.CanPerform)).Methods(http.MethodGet)

	api.HandleFunc("/workstreams/{id}/grants", c.instrumentAPI("grant_create", c.CreateGrant)).Methods(http.MethodPost)
	api.HandleFunc("/workstreams/{id}/grants", c.instrumentAPI("grant_list", c.ListGrants)).Methods(http.MethodGet)
	api.HandleFunc("/grants/{id}", c.instrumentAPI("grant_update", c.UpdateGrant)).Methods(http.MethodPatch)
	api.HandleFunc("/grants/{id}", c.instrumentAPI("grant_revoke", c.RevokeGrant)).Methods(http.MethodDelete)

	api.HandleFunc("/review-tasks", c.instrumentAPI("review_task_list", c.ListReviewTasks)).Methods(http.MethodGet)
	api.HandleFunc("/review-tasks/{id}:complete", c.instrumentAPI("review_task_complete", c.CompleteReviewTask)).Methods(http.MethodPost)

	api.HandleFunc("/users/{id}:removed", c.instrumentAPI("user_removed", c.UserRemoved)).Methods(http.MethodPost)
}

type createWorkstreamRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	ParentID    *uuid.UUID `json:"parent_id"`
}

func (c *WorkstreamAPIController) Create(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	body, ok := decodeBody[createWorkstreamRequest](w, r, requestID)
	if !ok {
		return
	}
	ws, err := c.workstream.Create(r.Context(), services.CreateWorkstreamInput{
		Name:        body.Name,
		Description: body.Description,
		Type:        body.Type,
		Status:      body.Status,
		ParentID:    body.ParentID,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkstreamResponse(ws))
}

func (c *WorkstreamAPIController) Get(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	ws, err := c.workstream.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkstreamResponse(ws))
}

type updateWorkstreamRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (c *WorkstreamAPIController) Update(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	body, ok := decodeBody[updateWorkstreamRequest](w, r, requestID)
	if !ok {
		return
	}
	ws, err := c.workstream.Update(r.Context(), id, services.UpdateWorkstreamInput{
		Name:        body.Name,
		Description: body.Description,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkstreamResponse(ws))
}

func (c *WorkstreamAPIController) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	if err := c.workstream.Delete(r.Context(), id); err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveWorkstreamRequest struct {
	NewParentID *uuid.UUID `json:"new_parent_id"`
}

func (c *WorkstreamAPIController) Move(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	body, ok := decodeBody[moveWorkstreamRequest](w, r, requestID)
	if !ok {
		return
	}
	ws, err := c.workstream.Move(r.Context(), id, body.NewParentID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkstreamResponse(ws))
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (c *WorkstreamAPIController) Transition(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	body, ok := decodeBody[transitionRequest](w, r, requestID)
	if !ok {
		return
	}
	ws, err := c.workstream.Transition(r.Context(), id, body.Status)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkstreamResponse(ws))
}

type transferOwnershipRequest struct {
	NewOwnerID uuid.UUID `json:"new_owner_id"`
}

func (c *WorkstreamAPIController) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	body, ok := decodeBody[transferOwnershipRequest](w, r, requestID)
	if !ok {
		return
	}
	if body.NewOwnerID == uuid.Nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_BODY", "new_owner_id is required")
		return
	}
	ws, err := c.workstream.TransferOwnership(r.Context(), id, body.NewOwnerID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkstreamResponse(ws))
}

func (c *WorkstreamAPIController) Ancestors(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	nodes, err := c.workstream.Ancestors(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkstreamResponses(nodes))
}

func (c *WorkstreamAPIController) Descendants(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	nodes, err := c.workstream.Descendants(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkstreamResponses(nodes))
}

func (c *WorkstreamAPIController) Tree(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	nodes, err := c.workstream.Tree(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkstreamResponses(nodes))
}

type bulkFetchRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// BulkFetch returns the subset of the requested workstreams the caller may
// view. Inaccessible items are omitted, never reported per-item.
func (c *WorkstreamAPIController) BulkFetch(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	body, ok := decodeBody[bulkFetchRequest](w, r, requestID)
	if !ok {
		return
	}
	nodes, err := c.workstream.BulkGet(r.Context(), body.IDs)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkstreamResponses(nodes))
}

// EffectivePermission resolves the caller's level on the workstream, or
// another user's when user_id is given and the caller holds the platform
// override.
func (c *WorkstreamAPIController) EffectivePermission(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	actor, err := composables.UseActor(r.Context())
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	subject := actor
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_QUERY", "user_id is not a valid uuid")
			return
		}
		if userID != actor.UserID && !actor.GlobalOverride {
			writeAPIError(w, http.StatusForbidden, requestID, "WS_PERMISSION_DENIED", "cannot resolve permissions for another user")
			return
		}
		subject = composables.Actor{UserID: userID}
	}
	res, err := c.perms.EffectivePermission(r.Context(), subject, id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toResolutionResponse(res))
}

func (c *WorkstreamAPIController) CanPerform(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	action := r.URL.Query().Get("action")
	if action == "" {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_QUERY", "action is required")
		return
	}
	actor, err := composables.UseActor(r.Context())
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	allowed, err := c.perms.CanPerform(r.Context(), actor, id, services.Action(action))
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

type createGrantRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Level  string    `json:"level"`
	Scope  string    `json:"scope"`
}

func (c *WorkstreamAPIController) CreateGrant(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	workstreamID, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	body, ok := decodeBody[createGrantRequest](w, r, requestID)
	if !ok {
		return
	}
	g, err := c.grants.Create(r.Context(), services.CreateGrantInput{
		WorkstreamID: workstreamID,
		UserID:       body.UserID,
		Level:        body.Level,
		Scope:        body.Scope,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGrantResponse(g))
}

func (c *WorkstreamAPIController) ListGrants(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	workstreamID, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "workstream id is not a valid uuid")
		return
	}
	grants, err := c.grants.List(r.Context(), workstreamID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, toGrantResponse(g))
	}
	writeJSON(w, http.StatusOK, out)
}

type updateGrantRequest struct {
	Level string `json:"level"`
	Scope string `json:"scope"`
}

func (c *WorkstreamAPIController) UpdateGrant(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "grant id is not a valid uuid")
		return
	}
	body, ok := decodeBody[updateGrantRequest](w, r, requestID)
	if !ok {
		return
	}
	g, err := c.grants.Update(r.Context(), id, services.UpdateGrantInput{
		Level: body.Level,
		Scope: body.Scope,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantResponse(g))
}

func (c *WorkstreamAPIController) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "grant id is not a valid uuid")
		return
	}
	if err := c.grants.Revoke(r.Context(), id); err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *WorkstreamAPIController) ListReviewTasks(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	status := reviewtask.StatusOpen
	if raw := r.URL.Query().Get("status"); raw != "" {
		switch reviewtask.Status(raw) {
		case reviewtask.StatusOpen, reviewtask.StatusDone:
			status = reviewtask.Status(raw)
		default:
			writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_QUERY", "status must be open or done")
			return
		}
	}
	tasks, err := c.ownership.ListReviewTasks(r.Context(), status)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	out := make([]reviewTaskResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, toReviewTaskResponse(task))
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *WorkstreamAPIController) CompleteReviewTask(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "review task id is not a valid uuid")
		return
	}
	if err := c.ownership.CompleteReviewTask(r.Context(), id); err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UserRemoved is the hook the identity provider calls after deleting a
// user. Orphaning never fails the user deletion with a per-workstream
// error; it answers with the created review tasks.
func (c *WorkstreamAPIController) UserRemoved(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	userID, err := pathUUID(r, "id")
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "WS_INVALID_ID", "user id is not a valid uuid")
		return
	}
	tasks, err := c.ownership.HandleUserRemoved(r.Context(), userID)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	out := make([]reviewTaskResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, toReviewTaskResponse(task))
	}
	writeJSON(w, http.StatusOK, out)
}
