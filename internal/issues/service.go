package issues

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/cluster-issues/internal/domain"
)

// DefaultLimit is the page size applied when a list request does not set one.
const DefaultLimit = 50

// Service implements issue business logic.
type Service struct {
	repo Repository
}

// NewService creates a new issue service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateIssueInput holds data for creating an issue.
type CreateIssueInput struct {
	Title       string
	Description string
	Severity    domain.Severity
	IssueType   domain.IssueType
	State       domain.IssueState
	Namespace   string
	Scope       ScopeInput
	Links       []LinkInput
}

// ScopeInput identifies the resource a new issue concerns.
type ScopeInput struct {
	ResourceType string
	ResourceName string
}

// LinkInput holds data for one reference link.
type LinkInput struct {
	Title string
	URL   string
}

// UpdateIssueInput holds a partial update. Nil fields are left untouched.
// A non-nil Links replaces the entire link set, including an empty slice
// which clears it.
type UpdateIssueInput struct {
	Title       *string
	Description *string
	Severity    *domain.Severity
	IssueType   *domain.IssueType
	State       *domain.IssueState
	ResolvedAt  *time.Time
	Links       []LinkInput
	// LinksSet distinguishes "links absent from the patch" from "links
	// supplied as an empty list".
	LinksSet bool
}

// ListResult is a page of issues with pagination metadata.
type ListResult struct {
	Data   []domain.Issue `json:"data"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// GroupedResult partitions a namespace's issues by relation edges.
type GroupedResult struct {
	GroupedIssues    []domain.Issue `json:"groupedIssues"`
	StandaloneIssues []domain.Issue `json:"standaloneIssues"`
}

// FindIssues retrieves issues matching the filter, with scope, links and
// both relation directions expanded.
func (s *Service) FindIssues(ctx context.Context, filter QueryFilter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	data, total, err := s.repo.ListIssues(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}

	return &ListResult{
		Data:   data,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// FindIssueByID retrieves a single issue with full relation expansion.
func (s *Service) FindIssueByID(ctx context.Context, id string) (*domain.Issue, error) {
	return s.repo.GetIssue(ctx, id)
}

// CreateIssue creates a new issue with its scope and links as one atomic
// unit. When an ACTIVE issue with the same namespace, type and scope already
// exists, it is updated in place instead and consolidated is true.
func (s *Service) CreateIssue(ctx context.Context, input CreateIssueInput) (issue *domain.Issue, consolidated bool, err error) {
	existingID, err := s.repo.FindActiveDuplicate(ctx, input.Namespace, input.IssueType, input.Scope.ResourceType, input.Scope.ResourceName)
	if err != nil {
		return nil, false, fmt.Errorf("check for duplicate issue: %w", err)
	}

	if existingID != "" {
		patch := UpdateIssueInput{
			Title:       &input.Title,
			Description: &input.Description,
			Severity:    &input.Severity,
		}
		if input.State != "" {
			patch.State = &input.State
		}
		updated, err := s.UpdateIssue(ctx, existingID, patch)
		if err != nil {
			return nil, false, fmt.Errorf("consolidate duplicate issue: %w", err)
		}
		return updated, true, nil
	}

	state := input.State
	if state == "" {
		state = domain.IssueStateActive
	}

	newIssue := &domain.Issue{
		Title:       input.Title,
		Description: input.Description,
		Severity:    input.Severity,
		IssueType:   input.IssueType,
		State:       state,
		Namespace:   input.Namespace,
		DetectedAt:  time.Now().UTC(),
		Scope: domain.IssueScope{
			ResourceType:      input.Scope.ResourceType,
			ResourceName:      input.Scope.ResourceName,
			ResourceNamespace: input.Namespace,
		},
		Links: linksFromInput(input.Links, ""),
	}

	if err := s.repo.CreateIssue(ctx, newIssue); err != nil {
		return nil, false, fmt.Errorf("create issue: %w", err)
	}

	return newIssue, false, nil
}

// UpdateIssue applies a partial update. When state transitions into RESOLVED
// and the issue was not resolved before, resolvedAt is stamped with the
// update time unless the patch supplies its own value. A non-nil link set
// replaces all existing links in the same transaction.
func (s *Service) UpdateIssue(ctx context.Context, id string, input UpdateIssueInput) (*domain.Issue, error) {
	existing, err := s.repo.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := UpdateFields{
		Title:       input.Title,
		Description: input.Description,
		Severity:    input.Severity,
		IssueType:   input.IssueType,
		State:       input.State,
	}

	if input.State != nil && *input.State == domain.IssueStateResolved && !existing.IsResolved() && input.ResolvedAt == nil {
		now := time.Now().UTC()
		fields.ResolvedAt = &now
	} else if input.ResolvedAt != nil {
		fields.ResolvedAt = input.ResolvedAt
	}

	var links []domain.Link
	if input.LinksSet {
		links = linksFromInput(input.Links, id)
	}

	if err := s.repo.UpdateIssue(ctx, id, fields, links, input.LinksSet); err != nil {
		return nil, err
	}

	return s.repo.GetIssue(ctx, id)
}

// DeleteIssue removes an issue together with its scope, links and any
// relation edges touching it.
func (s *Service) DeleteIssue(ctx context.Context, id string) error {
	return s.repo.DeleteIssue(ctx, id)
}

// AddRelatedIssue connects two issues. The relationship is undirected for
// uniqueness purposes: a second edge in either orientation is a conflict.
func (s *Service) AddRelatedIssue(ctx context.Context, sourceID, targetID string) error {
	if sourceID == targetID {
		return ErrSelfRelation
	}

	for _, id := range []string{sourceID, targetID} {
		exists, err := s.repo.IssueExists(ctx, id)
		if err != nil {
			return fmt.Errorf("check issue %s: %w", id, err)
		}
		if !exists {
			return ErrIssueNotFound
		}
	}

	// Friendly pre-check; the unique index over the normalized pair is
	// authoritative under concurrent calls.
	exists, err := s.repo.RelationExists(ctx, sourceID, targetID)
	if err != nil {
		return fmt.Errorf("check relation: %w", err)
	}
	if exists {
		return ErrRelationExists
	}

	return s.repo.CreateRelation(ctx, sourceID, targetID)
}

// RemoveRelatedIssue removes the relation between two issues, whichever
// orientation is stored.
func (s *Service) RemoveRelatedIssue(ctx context.Context, sourceID, targetID string) error {
	return s.repo.DeleteRelation(ctx, sourceID, targetID)
}

// GroupByRelation partitions a namespace's issues into grouped and
// standalone sets. Grouped issues are those with at least one outgoing
// relation edge, expanded with their targets. Standalone issues are the
// rest, excluding any issue targeted by a grouped one. An issue that only
// appears as the target of edges is not itself grouped.
func (s *Service) GroupByRelation(ctx context.Context, namespace string) (*GroupedResult, error) {
	grouped, err := s.repo.ListGroupedIssues(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("list grouped issues: %w", err)
	}

	seen := make(map[string]struct{}, len(grouped))
	exclude := make([]string, 0, len(grouped))
	for _, issue := range grouped {
		if _, ok := seen[issue.ID]; !ok {
			seen[issue.ID] = struct{}{}
			exclude = append(exclude, issue.ID)
		}
		for _, rel := range issue.Related {
			if _, ok := seen[rel.Issue.ID]; !ok {
				seen[rel.Issue.ID] = struct{}{}
				exclude = append(exclude, rel.Issue.ID)
			}
		}
	}

	standalone, err := s.repo.ListStandaloneIssues(ctx, namespace, exclude)
	if err != nil {
		return nil, fmt.Errorf("list standalone issues: %w", err)
	}

	return &GroupedResult{
		GroupedIssues:    grouped,
		StandaloneIssues: standalone,
	}, nil
}

// FindByScope retrieves a namespace's issues whose scope matches the
// resource type exactly, most recently detected first.
func (s *Service) FindByScope(ctx context.Context, namespace, resourceType string) ([]domain.Issue, error) {
	return s.repo.ListByScopeType(ctx, namespace, resourceType)
}

// GetStats aggregates issue counts for a namespace.
func (s *Service) GetStats(ctx context.Context, namespace string) (*Stats, error) {
	return s.repo.Stats(ctx, namespace)
}

func linksFromInput(inputs []LinkInput, issueID string) []domain.Link {
	links := make([]domain.Link, 0, len(inputs))
	for _, l := range inputs {
		links = append(links, domain.Link{
			Title:   l.Title,
			URL:     l.URL,
			IssueID: issueID,
		})
	}
	return links
}
