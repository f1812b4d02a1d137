package models

import (
	"time"
)

// Common artifact types produced by the delivery agents.
const (
	ArtifactTypeSpecification  = "software_specification"
	ArtifactTypeDesign         = "design_document"
	ArtifactTypeImplementation = "implementation"
	ArtifactTypeReview         = "review_report"
	ArtifactTypeTestPlan       = "test_plan"
)

// Artifact is a piece of agent-produced content stored in the context store.
type Artifact struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	SourceAgent string    `json:"source_agent"`
	Type        string    `json:"type"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}
