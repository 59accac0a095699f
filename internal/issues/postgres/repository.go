// Package postgres provides the PostgreSQL implementation of the issues
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bissquit/cluster-issues/internal/domain"
	"github.com/bissquit/cluster-issues/internal/issues"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is an interface for database operations that both *pgxpool.Pool
// and pgx.Tx implement.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository implements the issues.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const issueColumns = `
	i.id, i.title, i.description, i.severity, i.issue_type, i.state,
	i.namespace, i.detected_at, i.resolved_at, i.scope_id,
	i.created_at, i.updated_at,
	s.id, s.resource_type, s.resource_name, s.resource_namespace
`

const issueFrom = `
	FROM issues i
	JOIN issue_scopes s ON s.id = i.scope_id
`

// detected_at descending; created_at and id keep the order stable for
// issues detected in the same instant.
const issueOrder = ` ORDER BY i.detected_at DESC, i.created_at, i.id`

func scanIssue(row pgx.Row) (*domain.Issue, error) {
	var issue domain.Issue
	err := row.Scan(
		&issue.ID,
		&issue.Title,
		&issue.Description,
		&issue.Severity,
		&issue.IssueType,
		&issue.State,
		&issue.Namespace,
		&issue.DetectedAt,
		&issue.ResolvedAt,
		&issue.ScopeID,
		&issue.CreatedAt,
		&issue.UpdatedAt,
		&issue.Scope.ID,
		&issue.Scope.ResourceType,
		&issue.Scope.ResourceName,
		&issue.Scope.ResourceNamespace,
	)
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func collectIssues(rows pgx.Rows) ([]domain.Issue, error) {
	defer rows.Close()

	result := make([]domain.Issue, 0)
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		result = append(result, *issue)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return result, nil
}

// ListIssues retrieves issues matching the filter along with the total
// match count, with scope, links and both relation directions assembled.
func (r *Repository) ListIssues(ctx context.Context, filter issues.QueryFilter) ([]domain.Issue, int, error) {
	conds := make([]string, 0, 8)
	args := make([]any, 0, 8)

	addCond := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Namespace != "" {
		addCond("i.namespace = $%d", filter.Namespace)
	}
	if filter.Severity != nil {
		addCond("i.severity = $%d", *filter.Severity)
	}
	if filter.IssueType != nil {
		addCond("i.issue_type = $%d", *filter.IssueType)
	}
	if filter.State != nil {
		addCond("i.state = $%d", *filter.State)
	}
	if filter.ResourceType != "" {
		addCond("s.resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceName != "" {
		addCond("s.resource_name = $%d", filter.ResourceName)
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("(i.title ILIKE $%d OR i.description ILIKE $%d)", len(args), len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*)" + issueFrom + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}

	args = append(args, filter.Limit)
	limitClause := fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	offsetClause := fmt.Sprintf(" OFFSET $%d", len(args))

	query := "SELECT " + issueColumns + issueFrom + where + issueOrder + limitClause + offsetClause
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}

	result, err := collectIssues(rows)
	if err != nil {
		return nil, 0, err
	}

	if err := r.attachLinks(ctx, result); err != nil {
		return nil, 0, err
	}
	if err := r.attachRelations(ctx, result, false); err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

// GetIssue retrieves a single issue by ID with scope, links and both
// relation directions assembled.
func (r *Repository) GetIssue(ctx context.Context, id string) (*domain.Issue, error) {
	query := "SELECT " + issueColumns + issueFrom + " WHERE i.id = $1"
	issue, err := scanIssue(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, issues.ErrIssueNotFound
		}
		return nil, fmt.Errorf("get issue: %w", err)
	}

	single := []domain.Issue{*issue}
	if err := r.attachLinks(ctx, single); err != nil {
		return nil, err
	}
	if err := r.attachRelations(ctx, single, false); err != nil {
		return nil, err
	}

	return &single[0], nil
}

// CreateIssue inserts the issue, its scope and any links as one transaction.
func (r *Repository) CreateIssue(ctx context.Context, issue *domain.Issue) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	scopeQuery := `
		INSERT INTO issue_scopes (resource_type, resource_name, resource_namespace)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	err = tx.QueryRow(ctx, scopeQuery,
		issue.Scope.ResourceType,
		issue.Scope.ResourceName,
		issue.Scope.ResourceNamespace,
	).Scan(&issue.Scope.ID)
	if err != nil {
		return fmt.Errorf("create issue scope: %w", err)
	}
	issue.ScopeID = issue.Scope.ID

	issueQuery := `
		INSERT INTO issues (title, description, severity, issue_type, state, namespace, detected_at, scope_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, issueQuery,
		issue.Title,
		issue.Description,
		issue.Severity,
		issue.IssueType,
		issue.State,
		issue.Namespace,
		issue.DetectedAt,
		issue.ScopeID,
	).Scan(&issue.ID, &issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	for idx := range issue.Links {
		issue.Links[idx].IssueID = issue.ID
		if err := insertLink(ctx, tx, &issue.Links[idx]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	issue.Related = make([]domain.RelatedRef, 0)
	issue.RelatedBy = make([]domain.RelatedRef, 0)
	return nil
}

// UpdateIssue applies the patch and, when replaceLinks is set, swaps the
// entire link set, all in one transaction.
func (r *Repository) UpdateIssue(ctx context.Context, id string, fields issues.UpdateFields, links []domain.Link, replaceLinks bool) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	sets := []string{"updated_at = NOW()"}
	args := []any{id}

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if fields.Title != nil {
		addSet("title", *fields.Title)
	}
	if fields.Description != nil {
		addSet("description", *fields.Description)
	}
	if fields.Severity != nil {
		addSet("severity", *fields.Severity)
	}
	if fields.IssueType != nil {
		addSet("issue_type", *fields.IssueType)
	}
	if fields.State != nil {
		addSet("state", *fields.State)
	}
	if fields.ResolvedAt != nil {
		addSet("resolved_at", *fields.ResolvedAt)
	}

	query := "UPDATE issues SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	result, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	if result.RowsAffected() == 0 {
		return issues.ErrIssueNotFound
	}

	if replaceLinks {
		if _, err := tx.Exec(ctx, `DELETE FROM links WHERE issue_id = $1`, id); err != nil {
			return fmt.Errorf("delete issue links: %w", err)
		}
		for idx := range links {
			links[idx].IssueID = id
			if err := insertLink(ctx, tx, &links[idx]); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteIssue removes relation edges, links, the issue row and its scope in
// one transaction, in foreign-key dependency order.
func (r *Repository) DeleteIssue(ctx context.Context, id string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	var scopeID string
	err = tx.QueryRow(ctx, `SELECT scope_id FROM issues WHERE id = $1`, id).Scan(&scopeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return issues.ErrIssueNotFound
		}
		return fmt.Errorf("get issue scope: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM related_issues WHERE source_id = $1 OR target_id = $1`, id); err != nil {
		return fmt.Errorf("delete issue relations: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM links WHERE issue_id = $1`, id); err != nil {
		return fmt.Errorf("delete issue links: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM issues WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM issue_scopes WHERE id = $1`, scopeID); err != nil {
		return fmt.Errorf("delete issue scope: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IssueExists reports whether an issue with the given ID exists.
func (r *Repository) IssueExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM issues WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check issue exists: %w", err)
	}
	return exists, nil
}

// FindActiveDuplicate returns the ID of an ACTIVE issue with the same
// namespace, type and scope, or "" when none exists.
func (r *Repository) FindActiveDuplicate(ctx context.Context, namespace string, issueType domain.IssueType, resourceType, resourceName string) (string, error) {
	query := `
		SELECT i.id
		FROM issues i
		JOIN issue_scopes s ON s.id = i.scope_id
		WHERE i.namespace = $1
		  AND i.issue_type = $2
		  AND i.state = $3
		  AND s.resource_type = $4
		  AND s.resource_name = $5
		LIMIT 1
	`
	var id string
	err := r.db.QueryRow(ctx, query, namespace, issueType, domain.IssueStateActive, resourceType, resourceName).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("find duplicate issue: %w", err)
	}
	return id, nil
}

// RelationExists reports whether an edge exists between two issues in
// either orientation.
func (r *Repository) RelationExists(ctx context.Context, a, b string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM related_issues
			WHERE (source_id = $1 AND target_id = $2)
			   OR (source_id = $2 AND target_id = $1)
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, a, b).Scan(&exists); err != nil {
		return false, fmt.Errorf("check relation exists: %w", err)
	}
	return exists, nil
}

// CreateRelation inserts a directed edge. The unique index over the
// normalized pair makes a concurrent duplicate impossible; its violation is
// reported as ErrRelationExists.
func (r *Repository) CreateRelation(ctx context.Context, sourceID, targetID string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO related_issues (source_id, target_id) VALUES ($1, $2)`, sourceID, targetID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return issues.ErrRelationExists
			case "23514":
				return issues.ErrSelfRelation
			case "23503":
				return issues.ErrIssueNotFound
			}
		}
		return fmt.Errorf("create relation: %w", err)
	}
	return nil
}

// DeleteRelation removes the edge between two issues, whichever orientation
// is stored.
func (r *Repository) DeleteRelation(ctx context.Context, a, b string) error {
	query := `
		DELETE FROM related_issues
		WHERE (source_id = $1 AND target_id = $2)
		   OR (source_id = $2 AND target_id = $1)
	`
	result, err := r.db.Exec(ctx, query, a, b)
	if err != nil {
		return fmt.Errorf("delete relation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return issues.ErrRelationNotFound
	}
	return nil
}

// ListGroupedIssues retrieves the namespace's issues that are the source of
// at least one relation edge, each with its targets fully expanded.
func (r *Repository) ListGroupedIssues(ctx context.Context, namespace string) ([]domain.Issue, error) {
	query := "SELECT " + issueColumns + issueFrom + `
		WHERE i.namespace = $1
		  AND EXISTS (SELECT 1 FROM related_issues rel WHERE rel.source_id = i.id)
	` + issueOrder
	rows, err := r.db.Query(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("list grouped issues: %w", err)
	}

	result, err := collectIssues(rows)
	if err != nil {
		return nil, err
	}

	if err := r.attachLinks(ctx, result); err != nil {
		return nil, err
	}
	if err := r.attachRelations(ctx, result, true); err != nil {
		return nil, err
	}

	return result, nil
}

// ListStandaloneIssues retrieves the namespace's issues excluding the given
// IDs, with scope and links but no relation expansion.
func (r *Repository) ListStandaloneIssues(ctx context.Context, namespace string, excludeIDs []string) ([]domain.Issue, error) {
	if excludeIDs == nil {
		excludeIDs = []string{}
	}

	query := "SELECT " + issueColumns + issueFrom + `
		WHERE i.namespace = $1
		  AND NOT (i.id = ANY($2))
	` + issueOrder
	rows, err := r.db.Query(ctx, query, namespace, excludeIDs)
	if err != nil {
		return nil, fmt.Errorf("list standalone issues: %w", err)
	}

	result, err := collectIssues(rows)
	if err != nil {
		return nil, err
	}

	if err := r.attachLinks(ctx, result); err != nil {
		return nil, err
	}
	ensureEmptyRelations(result)

	return result, nil
}

// ListByScopeType retrieves the namespace's issues whose scope resource
// type matches exactly, with scope and links.
func (r *Repository) ListByScopeType(ctx context.Context, namespace, resourceType string) ([]domain.Issue, error) {
	query := "SELECT " + issueColumns + issueFrom + `
		WHERE i.namespace = $1
		  AND s.resource_type = $2
	` + issueOrder
	rows, err := r.db.Query(ctx, query, namespace, resourceType)
	if err != nil {
		return nil, fmt.Errorf("list issues by scope: %w", err)
	}

	result, err := collectIssues(rows)
	if err != nil {
		return nil, err
	}

	if err := r.attachLinks(ctx, result); err != nil {
		return nil, err
	}
	ensureEmptyRelations(result)

	return result, nil
}

// Stats aggregates issue counts for a namespace.
func (r *Repository) Stats(ctx context.Context, namespace string) (*issues.Stats, error) {
	stats := &issues.Stats{
		IssuesByType:     make(map[string]int),
		IssuesBySeverity: make(map[string]int),
	}

	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM issues WHERE namespace = $1`, namespace).Scan(&stats.TotalIssues)
	if err != nil {
		return nil, fmt.Errorf("count issues: %w", err)
	}

	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM issues WHERE namespace = $1 AND state = $2 AND severity = $3`,
		namespace, domain.IssueStateActive, domain.SeverityCritical,
	).Scan(&stats.ActiveCriticalIssues)
	if err != nil {
		return nil, fmt.Errorf("count active critical issues: %w", err)
	}

	if err := r.groupCount(ctx, namespace, "issue_type", stats.IssuesByType); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, namespace, "severity", stats.IssuesBySeverity); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *Repository) groupCount(ctx context.Context, namespace, column string, dest map[string]int) error {
	query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM issues WHERE namespace = $1 GROUP BY %s`, column, column)
	rows, err := r.db.Query(ctx, query, namespace)
	if err != nil {
		return fmt.Errorf("group issues by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		dest[key] = count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return nil
}

func insertLink(ctx context.Context, q querier, link *domain.Link) error {
	query := `
		INSERT INTO links (title, url, issue_id)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	if err := q.QueryRow(ctx, query, link.Title, link.URL, link.IssueID).Scan(&link.ID); err != nil {
		return fmt.Errorf("create link: %w", err)
	}
	return nil
}

// attachLinks loads links for all given issues with a single batch query.
func (r *Repository) attachLinks(ctx context.Context, list []domain.Issue) error {
	if len(list) == 0 {
		return nil
	}

	ids := issueIDs(list)
	rows, err := r.db.Query(ctx,
		`SELECT id, title, url, issue_id FROM links WHERE issue_id = ANY($1) ORDER BY id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}
	defer rows.Close()

	byIssue := make(map[string][]domain.Link, len(list))
	for rows.Next() {
		var link domain.Link
		if err := rows.Scan(&link.ID, &link.Title, &link.URL, &link.IssueID); err != nil {
			return fmt.Errorf("scan link: %w", err)
		}
		byIssue[link.IssueID] = append(byIssue[link.IssueID], link)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate links: %w", err)
	}

	for i := range list {
		links := byIssue[list[i].ID]
		if links == nil {
			links = make([]domain.Link, 0)
		}
		list[i].Links = links
	}
	return nil
}

// attachRelations loads both relation directions for all given issues with
// two batch queries. With withLinks set, related issues also carry their
// link sets (used by the grouped view).
func (r *Repository) attachRelations(ctx context.Context, list []domain.Issue, withLinks bool) error {
	if len(list) == 0 {
		return nil
	}

	ids := issueIDs(list)

	outgoing, err := r.loadEdges(ctx, ids, true)
	if err != nil {
		return err
	}
	incoming, err := r.loadEdges(ctx, ids, false)
	if err != nil {
		return err
	}

	if withLinks {
		if err := r.attachSummaryLinks(ctx, outgoing); err != nil {
			return err
		}
	}

	for i := range list {
		related := outgoing[list[i].ID]
		if related == nil {
			related = make([]domain.RelatedRef, 0)
		}
		relatedBy := incoming[list[i].ID]
		if relatedBy == nil {
			relatedBy = make([]domain.RelatedRef, 0)
		}
		list[i].Related = related
		list[i].RelatedBy = relatedBy
	}
	return nil
}

// loadEdges fetches relation edges for the given issue IDs. With outgoing
// set it follows source -> target, otherwise target -> source; either way
// the far end is returned with its scope.
func (r *Repository) loadEdges(ctx context.Context, ids []string, outgoing bool) (map[string][]domain.RelatedRef, error) {
	nearCol, farCol := "source_id", "target_id"
	if !outgoing {
		nearCol, farCol = "target_id", "source_id"
	}

	query := fmt.Sprintf(`
		SELECT rel.id, rel.%s,
			o.id, o.title, o.description, o.severity, o.issue_type, o.state,
			o.namespace, o.detected_at, o.resolved_at,
			os.id, os.resource_type, os.resource_name, os.resource_namespace
		FROM related_issues rel
		JOIN issues o ON o.id = rel.%s
		JOIN issue_scopes os ON os.id = o.scope_id
		WHERE rel.%s = ANY($1)
	`, nearCol, farCol, nearCol)

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("load relation edges: %w", err)
	}
	defer rows.Close()

	edges := make(map[string][]domain.RelatedRef)
	for rows.Next() {
		var nearID string
		var ref domain.RelatedRef
		err := rows.Scan(
			&ref.ID,
			&nearID,
			&ref.Issue.ID,
			&ref.Issue.Title,
			&ref.Issue.Description,
			&ref.Issue.Severity,
			&ref.Issue.IssueType,
			&ref.Issue.State,
			&ref.Issue.Namespace,
			&ref.Issue.DetectedAt,
			&ref.Issue.ResolvedAt,
			&ref.Issue.Scope.ID,
			&ref.Issue.Scope.ResourceType,
			&ref.Issue.Scope.ResourceName,
			&ref.Issue.Scope.ResourceNamespace,
		)
		if err != nil {
			return nil, fmt.Errorf("scan relation edge: %w", err)
		}
		edges[nearID] = append(edges[nearID], ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relation edges: %w", err)
	}
	return edges, nil
}

// attachSummaryLinks loads link sets for the issues referenced by relation
// edges.
func (r *Repository) attachSummaryLinks(ctx context.Context, edges map[string][]domain.RelatedRef) error {
	idSet := make(map[string]struct{})
	for _, refs := range edges {
		for _, ref := range refs {
			idSet[ref.Issue.ID] = struct{}{}
		}
	}
	if len(idSet) == 0 {
		return nil
	}

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, title, url, issue_id FROM links WHERE issue_id = ANY($1) ORDER BY id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("load related issue links: %w", err)
	}
	defer rows.Close()

	byIssue := make(map[string][]domain.Link)
	for rows.Next() {
		var link domain.Link
		if err := rows.Scan(&link.ID, &link.Title, &link.URL, &link.IssueID); err != nil {
			return fmt.Errorf("scan related issue link: %w", err)
		}
		byIssue[link.IssueID] = append(byIssue[link.IssueID], link)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate related issue links: %w", err)
	}

	for near, refs := range edges {
		for i := range refs {
			refs[i].Issue.Links = byIssue[refs[i].Issue.ID]
		}
		edges[near] = refs
	}
	return nil
}

// ensureEmptyRelations keeps unexpanded relation fields as empty arrays so
// the JSON shape stays uniform across list variants.
func ensureEmptyRelations(list []domain.Issue) {
	for i := range list {
		if list[i].Related == nil {
			list[i].Related = make([]domain.RelatedRef, 0)
		}
		if list[i].RelatedBy == nil {
			list[i].RelatedBy = make([]domain.RelatedRef, 0)
		}
	}
}

func issueIDs(list []domain.Issue) []string {
	ids := make([]string, 0, len(list))
	for _, issue := range list {
		ids = append(ids, issue.ID)
	}
	return ids
}
