// Package domain contains the core data model for tracked cluster issues.
package domain

import "time"

// Severity represents how serious an issue is.
type Severity string

// Severity levels.
const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityMinor, SeverityMajor, SeverityCritical:
		return true
	}
	return false
}

// IssueType categorizes the origin of an issue. The set is open: unknown
// values are stored as-is so detectors can introduce new categories without
// a schema change.
type IssueType string

// Known issue types.
const (
	IssueTypeBuild      IssueType = "build"
	IssueTypeTest       IssueType = "test"
	IssueTypeRelease    IssueType = "release"
	IssueTypeDependency IssueType = "dependency"
	IssueTypePipeline   IssueType = "pipeline"
)

// IssueState represents the lifecycle state of an issue.
type IssueState string

// Issue states.
const (
	IssueStateActive   IssueState = "ACTIVE"
	IssueStateResolved IssueState = "RESOLVED"
)

// IsValid checks if the issue state is valid.
func (s IssueState) IsValid() bool {
	return s == IssueStateActive || s == IssueStateResolved
}

// Issue represents a tracked problem scoped to a cluster namespace and a
// resource within it.
type Issue struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    Severity   `json:"severity"`
	IssueType   IssueType  `json:"issueType"`
	State       IssueState `json:"state"`
	Namespace   string     `json:"namespace"`
	DetectedAt  time.Time  `json:"detectedAt"`
	ResolvedAt  *time.Time `json:"resolvedAt"`
	ScopeID     string     `json:"scopeId"`
	Scope       IssueScope `json:"scope"`
	Links       []Link     `json:"links"`
	// Related holds the issues this one points to, RelatedBy the issues
	// pointing at this one. Both carry the related issue's own scope.
	Related   []RelatedRef `json:"relatedFrom"`
	RelatedBy []RelatedRef `json:"relatedTo"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// IsResolved returns true if the issue is in the resolved state.
func (i *Issue) IsResolved() bool {
	return i.State == IssueStateResolved
}

// IssueScope identifies the resource an issue concerns. Each scope belongs
// to exactly one issue and shares its lifecycle.
type IssueScope struct {
	ID                string `json:"id"`
	ResourceType      string `json:"resourceType"`
	ResourceName      string `json:"resourceName"`
	ResourceNamespace string `json:"resourceNamespace"`
}

// Link is a reference URL attached to an issue.
type Link struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	IssueID string `json:"issueId"`
}

// RelatedIssue is a directed edge between two issues. Exactly one edge may
// exist per unordered pair: (a,b) and (b,a) are the same relationship.
type RelatedIssue struct {
	ID       string `json:"id"`
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

// RelatedRef is one expanded relation edge as seen from an issue: the edge
// itself plus the issue on the other end with its scope loaded.
type RelatedRef struct {
	ID    string              `json:"id"`
	Issue RelatedIssueSummary `json:"issue"`
}

// RelatedIssueSummary is the related issue's own data carried on a relation
// edge. Links are loaded only where the API expands them (grouped view).
type RelatedIssueSummary struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Severity    Severity   `json:"severity"`
	IssueType   IssueType  `json:"issueType"`
	State       IssueState `json:"state"`
	Namespace   string     `json:"namespace"`
	DetectedAt  time.Time  `json:"detectedAt"`
	ResolvedAt  *time.Time `json:"resolvedAt"`
	Scope       IssueScope `json:"scope"`
	Links       []Link     `json:"links,omitempty"`
}
