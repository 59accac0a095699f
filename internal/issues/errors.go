package issues

import "errors"

// Sentinel errors returned by the issues service and repository.
var (
	// ErrIssueNotFound is returned when an issue ID does not resolve.
	ErrIssueNotFound = errors.New("issue not found")

	// ErrRelationExists is returned when a relation already exists between
	// two issues in either orientation.
	ErrRelationExists = errors.New("issues are already related")

	// ErrRelationNotFound is returned when no relation exists between two
	// issues in either orientation.
	ErrRelationNotFound = errors.New("relation not found")

	// ErrSelfRelation is returned when an issue is related to itself.
	ErrSelfRelation = errors.New("issue cannot be related to itself")
)
