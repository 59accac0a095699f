//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/cluster-issues/internal/testutil"
)

// issueResponse mirrors the issue JSON the API returns.
type issueResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	IssueType   string     `json:"issueType"`
	State       string     `json:"state"`
	Namespace   string     `json:"namespace"`
	DetectedAt  time.Time  `json:"detectedAt"`
	ResolvedAt  *time.Time `json:"resolvedAt"`
	ScopeID     string     `json:"scopeId"`
	Scope       struct {
		ID                string `json:"id"`
		ResourceType      string `json:"resourceType"`
		ResourceName      string `json:"resourceName"`
		ResourceNamespace string `json:"resourceNamespace"`
	} `json:"scope"`
	Links []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		URL     string `json:"url"`
		IssueID string `json:"issueId"`
	} `json:"links"`
	RelatedFrom []relatedRef `json:"relatedFrom"`
	RelatedTo   []relatedRef `json:"relatedTo"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type relatedRef struct {
	ID    string `json:"id"`
	Issue struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Namespace string `json:"namespace"`
		Scope     struct {
			ResourceName string `json:"resourceName"`
		} `json:"scope"`
	} `json:"issue"`
}

type issueListResponse struct {
	Data   []issueResponse `json:"data"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// randomName returns a unique resource name so tests sharing the database
// never collide on duplicate consolidation.
func randomName(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

type issueOption func(map[string]interface{})

func withSeverity(severity string) issueOption {
	return func(m map[string]interface{}) {
		m["severity"] = severity
	}
}

func withIssueType(issueType string) issueOption {
	return func(m map[string]interface{}) {
		m["issueType"] = issueType
	}
}

func withLinks(links ...map[string]string) issueOption {
	return func(m map[string]interface{}) {
		m["links"] = links
	}
}

func withResourceType(resourceType string) issueOption {
	return func(m map[string]interface{}) {
		scope := m["scope"].(map[string]interface{})
		scope["resourceType"] = resourceType
	}
}

// createIssue creates an issue and registers cleanup for it.
func createIssue(t *testing.T, client *testutil.Client, namespace, resourceName string, opts ...issueOption) issueResponse {
	t.Helper()

	payload := map[string]interface{}{
		"title":       resourceName + " failure",
		"description": "integration test issue",
		"severity":    "major",
		"issueType":   "build",
		"namespace":   namespace,
		"scope": map[string]interface{}{
			"resourceType": "component",
			"resourceName": resourceName,
		},
	}
	for _, opt := range opts {
		opt(payload)
	}

	resp, err := client.POST("/api/v1/issues", payload)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var issue issueResponse
	testutil.DecodeJSON(t, resp, &issue)

	t.Cleanup(func() {
		deleteIssue(t, client, issue.ID, namespace)
	})

	return issue
}

// deleteIssue removes an issue. Does not fail if already deleted.
func deleteIssue(t *testing.T, client *testutil.Client, id, namespace string) {
	t.Helper()
	resp, err := client.DELETE("/api/v1/issues/" + id + "?namespace=" + namespace)
	if err != nil {
		t.Logf("cleanup warning (issue %s): %v", id, err)
		return
	}
	resp.Body.Close()
}

// relateIssues creates a relation edge between two issues.
func relateIssues(t *testing.T, client *testutil.Client, namespace, sourceID, targetID string) {
	t.Helper()
	resp, err := client.POST("/api/v1/issues/"+sourceID+"/related?namespace="+namespace,
		map[string]string{"relatedId": targetID})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

// getIssue fetches an issue by ID within a namespace.
func getIssue(t *testing.T, client *testutil.Client, id, namespace string) issueResponse {
	t.Helper()
	resp, err := client.GET("/api/v1/issues/" + id + "?namespace=" + namespace)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var issue issueResponse
	testutil.DecodeJSON(t, resp, &issue)
	return issue
}
