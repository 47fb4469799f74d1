// internal/audit/scoring_test.go
package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/models"
)

func newTestScorer(t *testing.T, templates ...string) *ScoringEngine {
	r := newTestRegistry(t)
	for _, tpl := range templates {
		_, err := r.RegisterJSON([]byte(tpl))
		require.NoError(t, err)
	}
	return NewScoringEngine(r, logger.NewTestLogger(t))
}

func numeric(v float64) *float64 { return &v }

// twoCategoryTemplate has two equally weighted categories; the first is
// zero-tolerance with the default minimum of 80.
const twoCategoryTemplate = `{
	"templateCode": "TWO-CAT",
	"version": "1.0",
	"categories": [
		{
			"code": "water",
			"weight": 1,
			"zeroTolerance": true,
			"items": [
				{"code": "water-a", "maxScore": 10, "weight": 1},
				{"code": "water-b", "maxScore": 10, "weight": 1}
			]
		},
		{
			"code": "storage",
			"weight": 1,
			"items": [
				{"code": "storage-a", "maxScore": 10, "weight": 1}
			]
		}
	]
}`

func TestScoreAllPassing(t *testing.T) {
	s := newTestScorer(t, twoCategoryTemplate)

	result, err := s.Score("TWO-CAT", "1.0", "app-1", []models.ItemAnswer{
		{ItemCode: "water-a", Passed: true},
		{ItemCode: "water-b", Passed: true},
		{ItemCode: "storage-a", Passed: true},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, result.Decision)
	assert.Equal(t, float64(100), result.OverallScore)
	assert.Nil(t, result.FailureReason)
	require.Len(t, result.CategoryScores, 2)
	assert.Equal(t, float64(100), result.CategoryScores[0].Score)
}

// A 50% answer in the zero-tolerance category drags it to 75% < 80, which
// rejects the audit even though the other category is perfect.
func TestScoreZeroToleranceCategoryRejects(t *testing.T) {
	s := newTestScorer(t, twoCategoryTemplate)

	result, err := s.Score("TWO-CAT", "1.0", "app-1", []models.ItemAnswer{
		{ItemCode: "water-a", Passed: true},
		{ItemCode: "water-b", Numeric: numeric(5)},
		{ItemCode: "storage-a", Passed: true},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, result.Decision)
	require.NotNil(t, result.FailureReason)
	assert.Equal(t, models.FailureZeroToleranceCategory, result.FailureReason.Kind)
	assert.Equal(t, "water", result.FailureReason.Code)
	assert.Equal(t, float64(75), result.CategoryScores[0].Score)
}

func TestScoreCriticalItemRejectsRegardlessOfScore(t *testing.T) {
	tpl := `{
		"templateCode": "CRIT",
		"version": "1.0",
		"categories": [
			{
				"code": "safety",
				"weight": 1,
				"items": [
					{"code": "no-banned-pesticides", "maxScore": 1, "weight": 1, "critical": true},
					{"code": "gloves", "maxScore": 100, "weight": 100}
				]
			}
		]
	}`
	s := newTestScorer(t, tpl)

	result, err := s.Score("CRIT", "1.0", "app-1", []models.ItemAnswer{
		{ItemCode: "no-banned-pesticides", Passed: false},
		{ItemCode: "gloves", Passed: true},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, result.Decision)
	require.NotNil(t, result.FailureReason)
	assert.Equal(t, models.FailureCriticalItem, result.FailureReason.Kind)
	assert.Equal(t, "no-banned-pesticides", result.FailureReason.Code)
	// Aggregate would nearly pass; the critical item overrides it.
	assert.Greater(t, result.OverallScore, float64(90))
}

// A failed critical item in a later category must be the reported reason
// even when an earlier zero-tolerance category also fails.
func TestScoreCriticalItemOutranksEarlierZeroTolerance(t *testing.T) {
	tpl := `{
		"templateCode": "PRECEDENCE",
		"version": "1.0",
		"categories": [
			{"code": "water", "weight": 1, "zeroTolerance": true,
			 "items": [{"code": "water-a", "maxScore": 10, "weight": 1}]},
			{"code": "safety", "weight": 1,
			 "items": [
				{"code": "no-banned-pesticides", "maxScore": 10, "weight": 1, "critical": true},
				{"code": "gloves", "maxScore": 10, "weight": 1}
			 ]}
		]
	}`
	s := newTestScorer(t, tpl)

	result, err := s.Score("PRECEDENCE", "1.0", "app-1", []models.ItemAnswer{
		{ItemCode: "water-a", Numeric: numeric(5)},
		{ItemCode: "no-banned-pesticides", Passed: false},
		{ItemCode: "gloves", Passed: true},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, result.Decision)
	require.NotNil(t, result.FailureReason)
	assert.Equal(t, models.FailureCriticalItem, result.FailureReason.Kind)
	assert.Equal(t, "no-banned-pesticides", result.FailureReason.Code)
}

func TestScoreOverallBelowThresholdRejects(t *testing.T) {
	s := newTestScorer(t, twoCategoryTemplate)

	result, err := s.Score("TWO-CAT", "1.0", "app-1", []models.ItemAnswer{
		{ItemCode: "water-a", Passed: true},
		{ItemCode: "water-b", Numeric: numeric(7)},
		{ItemCode: "storage-a", Numeric: numeric(9)},
	})
	require.NoError(t, err)
	// water 85, storage 90 -> overall 87.5 < 90.
	assert.Equal(t, models.DecisionRejected, result.Decision)
	require.NotNil(t, result.FailureReason)
	assert.Equal(t, models.FailureOverallScore, result.FailureReason.Kind)
	assert.InDelta(t, 87.5, result.OverallScore, 0.001)
}

func TestScoreFirstZeroToleranceFailureReported(t *testing.T) {
	tpl := `{
		"templateCode": "MULTI-ZT",
		"version": "1.0",
		"categories": [
			{"code": "first", "weight": 1, "zeroTolerance": true,
			 "items": [{"code": "f-1", "maxScore": 10, "weight": 1}]},
			{"code": "second", "weight": 1, "zeroTolerance": true,
			 "items": [{"code": "s-1", "maxScore": 10, "weight": 1}]}
		]
	}`
	s := newTestScorer(t, tpl)

	result, err := s.Score("MULTI-ZT", "1.0", "app-1", []models.ItemAnswer{
		{ItemCode: "f-1", Numeric: numeric(5)},
		{ItemCode: "s-1", Numeric: numeric(5)},
	})
	require.NoError(t, err)
	require.NotNil(t, result.FailureReason)
	assert.Equal(t, "first", result.FailureReason.Code)
}

func TestScoreAnswerValidation(t *testing.T) {
	s := newTestScorer(t, twoCategoryTemplate)

	tests := []struct {
		name    string
		answers []models.ItemAnswer
	}{
		{"missing answer", []models.ItemAnswer{
			{ItemCode: "water-a", Passed: true},
		}},
		{"unknown item", []models.ItemAnswer{
			{ItemCode: "water-a", Passed: true},
			{ItemCode: "water-b", Passed: true},
			{ItemCode: "storage-a", Passed: true},
			{ItemCode: "bogus", Passed: true},
		}},
		{"duplicate answer", []models.ItemAnswer{
			{ItemCode: "water-a", Passed: true},
			{ItemCode: "water-a", Passed: true},
			{ItemCode: "water-b", Passed: true},
			{ItemCode: "storage-a", Passed: true},
		}},
		{"score above max", []models.ItemAnswer{
			{ItemCode: "water-a", Numeric: numeric(11)},
			{ItemCode: "water-b", Passed: true},
			{ItemCode: "storage-a", Passed: true},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Score("TWO-CAT", "1.0", "app-1", tt.answers)
			assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
		})
	}
}

func TestScoreUnknownTemplate(t *testing.T) {
	s := newTestScorer(t)
	_, err := s.Score("NOPE", "1.0", "app-1", nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTemplateNotFound))
}
