// internal/models/checklist.go
package models

// ChecklistTemplate is a versioned audit checklist. Templates are immutable
// once referenced by an audit result; corrections ship as a new version.
type ChecklistTemplate struct {
	TemplateCode  string              `json:"templateCode"`
	Version       string              `json:"version"`
	Name          string              `json:"name,omitempty"`
	PassThreshold float64             `json:"passThreshold"`
	Categories    []ChecklistCategory `json:"categories"`
}

// ChecklistCategory groups ordered items under a weight and, when flagged
// zero-tolerance, a minimum score that independently fails the audit.
type ChecklistCategory struct {
	Code          string          `json:"code"`
	Name          string          `json:"name,omitempty"`
	Weight        float64         `json:"weight"`
	MinimumScore  float64         `json:"minimumScore"`
	ZeroTolerance bool            `json:"zeroTolerance"`
	Items         []ChecklistItem `json:"items"`
}

type ChecklistItem struct {
	Code     string  `json:"code"`
	Text     string  `json:"text,omitempty"`
	MaxScore float64 `json:"maxScore"`
	Weight   float64 `json:"weight"`
	Critical bool    `json:"critical"`
}

// ItemAnswer is one auditor response: either a pass/fail or a numeric score
// in [0, MaxScore]. When Numeric is nil, Passed is authoritative
// (pass = MaxScore, fail = 0).
type ItemAnswer struct {
	ItemCode string   `json:"itemCode"`
	Passed   bool     `json:"passed"`
	Numeric  *float64 `json:"score,omitempty"`
}
