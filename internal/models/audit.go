// internal/models/audit.go
package models

import "time"

// Decision is the audit outcome.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// FailureKind classifies why a rejected audit failed.
type FailureKind string

const (
	FailureCriticalItem          FailureKind = "CRITICAL_ITEM"
	FailureZeroToleranceCategory FailureKind = "ZERO_TOLERANCE_CATEGORY"
	FailureOverallScore          FailureKind = "OVERALL_SCORE"
)

// FailureReason points at the item or category that caused a rejection.
// Evaluation is in declaration order, so the reason is deterministic even
// when several checks fail.
type FailureReason struct {
	Kind FailureKind `json:"kind"`
	Code string      `json:"code,omitempty"`
}

// CategoryScore is the computed weighted score of one category.
type CategoryScore struct {
	CategoryCode string  `json:"categoryCode"`
	Score        float64 `json:"score"`
}

// AuditResult is one immutable scoring attempt. Re-scoring creates a new
// record, never an in-place edit.
type AuditResult struct {
	ID             string          `json:"id" db:"id"`
	ApplicationID  string          `json:"applicationId" db:"application_id"`
	TemplateCode   string          `json:"templateCode" db:"template_code"`
	TemplateVersion string         `json:"templateVersion" db:"template_version"`
	Answers        []ItemAnswer    `json:"answers"`
	CategoryScores []CategoryScore `json:"categoryScores"`
	OverallScore   float64         `json:"overallScore" db:"overall_score"`
	Decision       Decision        `json:"decision" db:"decision"`
	FailureReason  *FailureReason  `json:"failureReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}
