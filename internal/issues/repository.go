package issues

import (
	"context"
	"time"

	"github.com/bissquit/cluster-issues/internal/domain"
)

// Repository defines the interface for issue data operations.
//
// Implementations must make every multi-record mutation atomic: a failed
// create, update or delete leaves no partial scope, link or relation rows.
type Repository interface {
	ListIssues(ctx context.Context, filter QueryFilter) ([]domain.Issue, int, error)
	GetIssue(ctx context.Context, id string) (*domain.Issue, error)
	CreateIssue(ctx context.Context, issue *domain.Issue) error
	UpdateIssue(ctx context.Context, id string, fields UpdateFields, links []domain.Link, replaceLinks bool) error
	DeleteIssue(ctx context.Context, id string) error
	IssueExists(ctx context.Context, id string) (bool, error)

	// FindActiveDuplicate returns the ID of an ACTIVE issue in the namespace
	// with the same type and scope, or "" when none exists.
	FindActiveDuplicate(ctx context.Context, namespace string, issueType domain.IssueType, resourceType, resourceName string) (string, error)

	// Relation edges. CreateRelation relies on the storage-level uniqueness
	// constraint over the unordered pair and reports a violation as
	// ErrRelationExists; DeleteRelation removes whichever orientation is
	// stored and reports ErrRelationNotFound when neither exists.
	RelationExists(ctx context.Context, a, b string) (bool, error)
	CreateRelation(ctx context.Context, sourceID, targetID string) error
	DeleteRelation(ctx context.Context, a, b string) error

	// ListGroupedIssues returns issues in the namespace with at least one
	// outgoing relation edge, each expanded with its targets (scope and
	// links included).
	ListGroupedIssues(ctx context.Context, namespace string) ([]domain.Issue, error)

	// ListStandaloneIssues returns issues in the namespace whose IDs are not
	// in excludeIDs, with scope and links but no relation expansion.
	ListStandaloneIssues(ctx context.Context, namespace string, excludeIDs []string) ([]domain.Issue, error)

	ListByScopeType(ctx context.Context, namespace, resourceType string) ([]domain.Issue, error)
	Stats(ctx context.Context, namespace string) (*Stats, error)
}

// QueryFilter represents filter criteria for listing issues.
type QueryFilter struct {
	Namespace    string
	Severity     *domain.Severity
	IssueType    *domain.IssueType
	State        *domain.IssueState
	ResourceType string
	ResourceName string
	Search       string
	Limit        int
	Offset       int
}

// UpdateFields holds the patch applied to an issue. Nil fields are left
// untouched.
type UpdateFields struct {
	Title       *string
	Description *string
	Severity    *domain.Severity
	IssueType   *domain.IssueType
	State       *domain.IssueState
	ResolvedAt  *time.Time
}

// Stats aggregates issue counts for a namespace.
type Stats struct {
	TotalIssues          int            `json:"totalIssues"`
	ActiveCriticalIssues int            `json:"activeCriticalIssues"`
	IssuesByType         map[string]int `json:"issuesByType"`
	IssuesBySeverity     map[string]int `json:"issuesBySeverity"`
}
