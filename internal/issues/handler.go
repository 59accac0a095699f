// Package issues provides HTTP handlers and business logic for tracked
// cluster issues and the relations between them.
package issues

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/cluster-issues/internal/authz"
	"github.com/bissquit/cluster-issues/internal/domain"
	"github.com/bissquit/cluster-issues/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler handles HTTP requests for the issues module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new issues handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers all HTTP routes for the issues module. The
// namespace access gate is expected to be installed on the surrounding
// router group.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/issues", func(r chi.Router) {
		r.Get("/", h.ListIssues)
		r.Post("/", h.CreateIssue)
		r.Get("/grouped", h.GetGrouped)
		r.Get("/stats", h.GetStats)
		r.Get("/by-scope/{scopeType}", h.ListByScope)
		r.Get("/{id}", h.GetIssue)
		r.Patch("/{id}", h.UpdateIssue)
		r.Delete("/{id}", h.DeleteIssue)
		r.Post("/{id}/related", h.AddRelated)
		r.Delete("/{id}/related/{relatedId}", h.RemoveRelated)
	})
}

// CreateScopeRequest identifies the resource a new issue concerns.
type CreateScopeRequest struct {
	ResourceType string `json:"resourceType" validate:"required,min=1,max=255"`
	ResourceName string `json:"resourceName" validate:"required,min=1,max=255"`
}

// CreateLinkRequest represents one reference link in a request body.
type CreateLinkRequest struct {
	Title string `json:"title" validate:"required,min=1,max=255"`
	URL   string `json:"url" validate:"required,url"`
}

// CreateIssueRequest represents the request body for creating an issue.
type CreateIssueRequest struct {
	Title       string              `json:"title" validate:"required,min=1,max=255"`
	Description string              `json:"description" validate:"required"`
	Severity    string              `json:"severity" validate:"required,oneof=info minor major critical"`
	IssueType   string              `json:"issueType" validate:"required,min=1,max=64"`
	State       string              `json:"state" validate:"omitempty,oneof=ACTIVE RESOLVED"`
	Namespace   string              `json:"namespace" validate:"required,min=1,max=253"`
	Scope       CreateScopeRequest  `json:"scope" validate:"required"`
	Links       []CreateLinkRequest `json:"links" validate:"omitempty,dive"`
}

// ToInput converts the request to a service input.
func (r *CreateIssueRequest) ToInput() CreateIssueInput {
	links := make([]LinkInput, 0, len(r.Links))
	for _, l := range r.Links {
		links = append(links, LinkInput{Title: l.Title, URL: l.URL})
	}

	return CreateIssueInput{
		Title:       r.Title,
		Description: r.Description,
		Severity:    domain.Severity(r.Severity),
		IssueType:   domain.IssueType(r.IssueType),
		State:       domain.IssueState(r.State),
		Namespace:   r.Namespace,
		Scope: ScopeInput{
			ResourceType: r.Scope.ResourceType,
			ResourceName: r.Scope.ResourceName,
		},
		Links: links,
	}
}

// UpdateIssueRequest represents the request body for a partial update.
// Absent fields are left untouched; a present links array replaces the
// whole link set.
type UpdateIssueRequest struct {
	Title       *string             `json:"title" validate:"omitempty,min=1,max=255"`
	Description *string             `json:"description"`
	Severity    *string             `json:"severity" validate:"omitempty,oneof=info minor major critical"`
	IssueType   *string             `json:"issueType" validate:"omitempty,min=1,max=64"`
	State       *string             `json:"state" validate:"omitempty,oneof=ACTIVE RESOLVED"`
	ResolvedAt  *time.Time          `json:"resolvedAt"`
	Links       []CreateLinkRequest `json:"links" validate:"omitempty,dive"`
}

// ToInput converts the request to a service input. rawLinksPresent reports
// whether the links key appeared in the JSON body at all.
func (r *UpdateIssueRequest) ToInput(rawLinksPresent bool) UpdateIssueInput {
	input := UpdateIssueInput{
		Title:       r.Title,
		Description: r.Description,
		ResolvedAt:  r.ResolvedAt,
		LinksSet:    rawLinksPresent,
	}
	if r.Severity != nil {
		sev := domain.Severity(*r.Severity)
		input.Severity = &sev
	}
	if r.IssueType != nil {
		it := domain.IssueType(*r.IssueType)
		input.IssueType = &it
	}
	if r.State != nil {
		st := domain.IssueState(*r.State)
		input.State = &st
	}
	if rawLinksPresent {
		input.Links = make([]LinkInput, 0, len(r.Links))
		for _, l := range r.Links {
			input.Links = append(input.Links, LinkInput{Title: l.Title, URL: l.URL})
		}
	}
	return input
}

// AddRelatedRequest represents the request body for relating two issues.
type AddRelatedRequest struct {
	RelatedID string `json:"relatedId" validate:"required,uuid"`
}

// ListIssues handles GET /issues request.
func (h *Handler) ListIssues(w http.ResponseWriter, r *http.Request) {
	filter, err := parseQueryFilter(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.FindIssues(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// GetIssue handles GET /issues/{id} request. Access is denied when the
// issue belongs to a namespace other than the one the gate authorized.
func (h *Handler) GetIssue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	issue, err := h.service.FindIssueByID(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if ns := authz.NamespaceFromContext(r.Context()); ns != "" && issue.Namespace != ns {
		httputil.Error(w, http.StatusForbidden, "access denied to this namespace")
		return
	}

	httputil.JSON(w, http.StatusOK, issue)
}

// CreateIssue handles POST /issues request. Creating an issue that
// duplicates an ACTIVE one (same namespace, type and scope) updates the
// existing issue and responds 200 instead of 201.
func (h *Handler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	var req CreateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	issue, consolidated, err := h.service.CreateIssue(r.Context(), req.ToInput())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if consolidated {
		status = http.StatusOK
	}
	httputil.JSON(w, status, issue)
}

// UpdateIssue handles PATCH /issues/{id} request.
func (h *Handler) UpdateIssue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	var req UpdateIssueRequest
	if err := decodeRawPatch(raw, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	_, linksPresent := raw["links"]
	issue, err := h.service.UpdateIssue(r.Context(), id, req.ToInput(linksPresent))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, issue)
}

// DeleteIssue handles DELETE /issues/{id} request.
func (h *Handler) DeleteIssue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteIssue(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddRelated handles POST /issues/{id}/related request.
func (h *Handler) AddRelated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AddRelatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.service.AddRelatedIssue(r.Context(), id, req.RelatedID); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, map[string]string{
		"sourceId": id,
		"targetId": req.RelatedID,
	})
}

// RemoveRelated handles DELETE /issues/{id}/related/{relatedId} request.
func (h *Handler) RemoveRelated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	relatedID := chi.URLParam(r, "relatedId")

	if err := h.service.RemoveRelatedIssue(r.Context(), id, relatedID); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetGrouped handles GET /issues/grouped request.
func (h *Handler) GetGrouped(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		httputil.Error(w, http.StatusBadRequest, "namespace parameter is required")
		return
	}

	result, err := h.service.GroupByRelation(r.Context(), namespace)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// ListByScope handles GET /issues/by-scope/{scopeType} request.
func (h *Handler) ListByScope(w http.ResponseWriter, r *http.Request) {
	scopeType := chi.URLParam(r, "scopeType")

	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		httputil.Error(w, http.StatusBadRequest, "namespace parameter is required")
		return
	}

	result, err := h.service.FindByScope(r.Context(), namespace, scopeType)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// GetStats handles GET /issues/stats request.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		httputil.Error(w, http.StatusBadRequest, "namespace parameter is required")
		return
	}

	stats, err := h.service.GetStats(r.Context(), namespace)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrIssueNotFound, Status: http.StatusNotFound},
		{Error: ErrRelationNotFound, Status: http.StatusNotFound},
		{Error: ErrRelationExists, Status: http.StatusConflict},
		{Error: ErrSelfRelation, Status: http.StatusBadRequest},
	})
}

func parseQueryFilter(r *http.Request) (QueryFilter, error) {
	q := r.URL.Query()

	filter := QueryFilter{
		Namespace:    q.Get("namespace"),
		ResourceType: q.Get("resourceType"),
		ResourceName: q.Get("resourceName"),
		Search:       q.Get("search"),
	}

	if v := q.Get("severity"); v != "" {
		sev := domain.Severity(v)
		filter.Severity = &sev
	}
	if v := q.Get("issueType"); v != "" {
		it := domain.IssueType(v)
		filter.IssueType = &it
	}
	if v := q.Get("state"); v != "" {
		st := domain.IssueState(v)
		filter.State = &st
	}

	var err error
	if filter.Limit, err = parsePositiveInt(q.Get("limit"), DefaultLimit); err != nil {
		return filter, err
	}
	if filter.Offset, err = parsePositiveInt(q.Get("offset"), 0); err != nil {
		return filter, err
	}

	return filter, nil
}

func parsePositiveInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid pagination parameter: %q", raw)
	}
	return n, nil
}

// decodeRawPatch re-marshals the already parsed patch object into the
// typed request so field presence can be checked on the raw map.
func decodeRawPatch(raw map[string]json.RawMessage, req *UpdateIssueRequest) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, req)
}
