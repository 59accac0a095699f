package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/cluster-issues/internal/authz"
	"github.com/bissquit/cluster-issues/internal/domain"
)

func newTestHandler() (*Handler, *mockRepository) {
	repo := newMockRepository()
	return NewHandler(NewService(repo)), repo
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequestWithContext(t, router, method, path, body, nil)
}

// doRequestWithContext runs a request with an optional gate-authorized
// namespace, as the access middleware would have recorded it.
func doRequestWithContext(t *testing.T, router http.Handler, method, path, body string, ctxFn func(context.Context) context.Context) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if ctxFn != nil {
		req = req.WithContext(ctxFn(req.Context()))
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createIssueViaAPI(t *testing.T, router http.Handler, namespace, name string) domain.Issue {
	t.Helper()

	body := fmt.Sprintf(`{
		"title": "%s failure",
		"description": "it broke",
		"severity": "major",
		"issueType": "build",
		"namespace": "%s",
		"scope": {"resourceType": "component", "resourceName": "%s"}
	}`, name, namespace, name)

	rec := doRequest(t, router, http.MethodPost, "/issues", body)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var issue domain.Issue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issue))
	return issue
}

func TestCreateIssue_Handler(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	issue := createIssueViaAPI(t, router, "team-alpha", "frontend")

	assert.NotEmpty(t, issue.ID)
	assert.Equal(t, "team-alpha", issue.Namespace)
	assert.Equal(t, domain.IssueStateActive, issue.State)
}

func TestCreateIssue_DuplicateReturns200(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	first := createIssueViaAPI(t, router, "team-alpha", "frontend")

	body := `{
		"title": "frontend failure again",
		"description": "still broken",
		"severity": "critical",
		"issueType": "build",
		"namespace": "team-alpha",
		"scope": {"resourceType": "component", "resourceName": "frontend"}
	}`
	rec := doRequest(t, router, http.MethodPost, "/issues", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var issue domain.Issue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issue))
	assert.Equal(t, first.ID, issue.ID)
}

func TestCreateIssue_ValidationError(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	rec := doRequest(t, router, http.MethodPost, "/issues", `{"title": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation error")
}

func TestCreateIssue_InvalidSeverity(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	body := `{
		"title": "x",
		"description": "y",
		"severity": "catastrophic",
		"issueType": "build",
		"namespace": "team-alpha",
		"scope": {"resourceType": "component", "resourceName": "frontend"}
	}`
	rec := doRequest(t, router, http.MethodPost, "/issues", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListIssues_Handler(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)
	createIssueViaAPI(t, router, "team-alpha", "frontend")
	createIssueViaAPI(t, router, "team-beta", "backend")

	rec := doRequest(t, router, http.MethodGet, "/issues?namespace=team-alpha", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result ListResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, DefaultLimit, result.Limit)
	require.Len(t, result.Data, 1)
	assert.Equal(t, "team-alpha", result.Data[0].Namespace)
}

func TestListIssues_InvalidPagination(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	rec := doRequest(t, router, http.MethodGet, "/issues?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/issues?offset=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetIssue_Handler(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)
	issue := createIssueViaAPI(t, router, "team-alpha", "frontend")

	rec := doRequest(t, router, http.MethodGet, "/issues/"+issue.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Issue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, issue.ID, got.ID)
}

func TestGetIssue_NotFound(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	rec := doRequest(t, router, http.MethodGet, "/issues/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetIssue_ForeignNamespaceDenied(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)
	issue := createIssueViaAPI(t, router, "team-alpha", "frontend")

	rec := doRequestWithContext(t, router, http.MethodGet, "/issues/"+issue.ID, "",
		func(ctx context.Context) context.Context {
			return authz.ContextWithNamespace(ctx, "team-beta")
		})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequestWithContext(t, router, http.MethodGet, "/issues/"+issue.ID, "",
		func(ctx context.Context) context.Context {
			return authz.ContextWithNamespace(ctx, "team-alpha")
		})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateIssue_Handler(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)
	issue := createIssueViaAPI(t, router, "team-alpha", "frontend")

	rec := doRequest(t, router, http.MethodPatch, "/issues/"+issue.ID, `{"state": "RESOLVED"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Issue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.IssueStateResolved, got.State)
	assert.NotNil(t, got.ResolvedAt)
	assert.Equal(t, issue.DetectedAt.UTC(), got.DetectedAt.UTC(), "detection time never changes")
}

func TestUpdateIssue_LinksAbsentVsEmpty(t *testing.T) {
	h, repo := newTestHandler()
	router := newTestRouter(h)
	issue := createIssueViaAPI(t, router, "team-alpha", "frontend")
	repo.issues[issue.ID].Links = []domain.Link{{ID: "l1", Title: "logs", URL: "https://logs.example.com"}}

	rec := doRequest(t, router, http.MethodPatch, "/issues/"+issue.ID, `{"title": "renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, repo.issues[issue.ID].Links, 1)

	rec = doRequest(t, router, http.MethodPatch, "/issues/"+issue.ID, `{"links": []}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, repo.issues[issue.ID].Links)
}

func TestUpdateIssue_NotFoundHandler(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	rec := doRequest(t, router, http.MethodPatch, "/issues/missing", `{"title": "x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteIssue_Handler(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)
	issue := createIssueViaAPI(t, router, "team-alpha", "frontend")

	rec := doRequest(t, router, http.MethodDelete, "/issues/"+issue.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/issues/"+issue.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddRelated_Handler(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)
	a := createIssueViaAPI(t, router, "team-alpha", "frontend")
	b := createIssueViaAPI(t, router, "team-alpha", "backend")

	body := fmt.Sprintf(`{"relatedId": "%s"}`, b.ID)
	rec := doRequest(t, router, http.MethodPost, "/issues/"+a.ID+"/related", body)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var edge map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edge))
	assert.Equal(t, a.ID, edge["sourceId"])
	assert.Equal(t, b.ID, edge["targetId"])

	// Same pair again, reversed, is a conflict.
	body = fmt.Sprintf(`{"relatedId": "%s"}`, a.ID)
	rec = doRequest(t, router, http.MethodPost, "/issues/"+b.ID+"/related", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAddRelated_SelfRelation(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)
	a := createIssueViaAPI(t, router, "team-alpha", "frontend")

	body := fmt.Sprintf(`{"relatedId": "%s"}`, a.ID)
	rec := doRequest(t, router, http.MethodPost, "/issues/"+a.ID+"/related", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveRelated_Handler(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)
	a := createIssueViaAPI(t, router, "team-alpha", "frontend")
	b := createIssueViaAPI(t, router, "team-alpha", "backend")

	body := fmt.Sprintf(`{"relatedId": "%s"}`, b.ID)
	rec := doRequest(t, router, http.MethodPost, "/issues/"+a.ID+"/related", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Removal works from the target's side too.
	rec = doRequest(t, router, http.MethodDelete, "/issues/"+b.ID+"/related/"+a.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/issues/"+a.ID+"/related/"+b.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddRelated_InvalidBody(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	rec := doRequest(t, router, http.MethodPost, "/issues/some-id/related", `{"relatedId": "not-a-uuid"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetGrouped_RequiresNamespace(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	rec := doRequest(t, router, http.MethodGet, "/issues/grouped", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetGrouped_NotShadowedByIDRoute(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)
	a := createIssueViaAPI(t, router, "team-alpha", "frontend")
	_ = a

	rec := doRequest(t, router, http.MethodGet, "/issues/grouped?namespace=team-alpha", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result GroupedResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.StandaloneIssues, 1)
}

func TestGetStats_Handler(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)
	createIssueViaAPI(t, router, "team-alpha", "frontend")

	rec := doRequest(t, router, http.MethodGet, "/issues/stats?namespace=team-alpha", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalIssues)

	rec = doRequest(t, router, http.MethodGet, "/issues/stats", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListByScope_Handler(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)
	createIssueViaAPI(t, router, "team-alpha", "frontend")

	rec := doRequest(t, router, http.MethodGet, "/issues/by-scope/component?namespace=team-alpha", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result []domain.Issue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result, 1)

	rec = doRequest(t, router, http.MethodGet, "/issues/by-scope/component", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
