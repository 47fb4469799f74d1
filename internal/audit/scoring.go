// internal/audit/scoring.go
package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/models"
)

// ScoringEngine evaluates checklist answers against a registered template.
// Evaluation is deterministic: categories and items are walked in template
// declaration order, so the reported failure reason is reproducible when an
// audit is disputed.
type ScoringEngine struct {
	registry *Registry
	log      logger.Logger
	now      func() time.Time
}

func NewScoringEngine(registry *Registry, log logger.Logger) *ScoringEngine {
	return &ScoringEngine{
		registry: registry,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Score computes category scores and the overall decision.
//
// Decision precedence: a failed critical item rejects outright, wherever it
// sits in the template, then the first zero-tolerance category under its
// minimum, then the weighted overall score against the template's pass
// threshold. Within each rule, ties resolve in declaration order. The overall
// score is always computed so the result record is complete even for critical
// rejections.
func (s *ScoringEngine) Score(templateCode, version, applicationID string, answers []models.ItemAnswer) (*models.AuditResult, error) {
	tpl, err := s.registry.Get(templateCode, version)
	if err != nil {
		return nil, err
	}

	byItem := make(map[string]models.ItemAnswer, len(answers))
	for _, a := range answers {
		if _, dup := byItem[a.ItemCode]; dup {
			return nil, errors.NewValidationError("duplicate answer for item " + a.ItemCode)
		}
		byItem[a.ItemCode] = a
	}

	var (
		categoryScores  []models.CategoryScore
		criticalFailure *models.FailureReason
		zeroTolFailure  *models.FailureReason
		weightedSum     float64
		weightTotal     float64
	)

	for _, cat := range tpl.Categories {
		var earned, possible float64
		for _, item := range cat.Items {
			answer, ok := byItem[item.Code]
			if !ok {
				return nil, errors.NewValidationError("missing answer for item " + item.Code)
			}
			delete(byItem, item.Code)

			score, err := itemScore(item, answer)
			if err != nil {
				return nil, err
			}
			earned += score * item.Weight
			possible += item.MaxScore * item.Weight

			// First failed critical item wins; later failures are not
			// re-reported.
			if criticalFailure == nil && item.Critical && itemFailed(item, answer) {
				criticalFailure = &models.FailureReason{Kind: models.FailureCriticalItem, Code: item.Code}
			}
		}

		catScore := earned / possible * 100
		categoryScores = append(categoryScores, models.CategoryScore{
			CategoryCode: cat.Code,
			Score:        catScore,
		})
		weightedSum += catScore * cat.Weight
		weightTotal += cat.Weight

		if zeroTolFailure == nil && cat.ZeroTolerance && catScore < cat.MinimumScore {
			zeroTolFailure = &models.FailureReason{Kind: models.FailureZeroToleranceCategory, Code: cat.Code}
		}
	}

	// A critical failure outranks a zero-tolerance one even when the
	// zero-tolerance category is declared earlier.
	failure := criticalFailure
	if failure == nil {
		failure = zeroTolFailure
	}

	if len(byItem) > 0 {
		for code := range byItem {
			return nil, errors.NewValidationError("answer references unknown item " + code)
		}
	}

	overall := weightedSum / weightTotal
	decision := models.DecisionApproved
	if failure != nil {
		decision = models.DecisionRejected
	} else if overall < tpl.PassThreshold {
		decision = models.DecisionRejected
		failure = &models.FailureReason{Kind: models.FailureOverallScore}
	}

	result := &models.AuditResult{
		ID:              uuid.NewString(),
		ApplicationID:   applicationID,
		TemplateCode:    tpl.TemplateCode,
		TemplateVersion: tpl.Version,
		Answers:         answers,
		CategoryScores:  categoryScores,
		OverallScore:    overall,
		Decision:        decision,
		FailureReason:   failure,
		CreatedAt:       s.now(),
	}

	s.log.Info("audit scored", map[string]interface{}{
		"applicationId": applicationID,
		"templateCode":  tpl.TemplateCode,
		"overallScore":  overall,
		"decision":      decision,
	})
	return result, nil
}

// itemScore resolves one answer to points. A numeric answer is authoritative
// when present and must lie in [0, maxScore]; otherwise pass earns full
// marks and fail earns zero.
func itemScore(item models.ChecklistItem, answer models.ItemAnswer) (float64, error) {
	if answer.Numeric != nil {
		v := *answer.Numeric
		if v < 0 || v > item.MaxScore {
			return 0, errors.NewValidationError(fmt.Sprintf(
				"score %.2f for item %s outside [0, %.2f]", v, item.Code, item.MaxScore))
		}
		return v, nil
	}
	if answer.Passed {
		return item.MaxScore, nil
	}
	return 0, nil
}

// itemFailed reports whether a critical item was failed outright. A numeric
// answer fails only at zero; partial credit on a critical item is a scoring
// matter, not an automatic rejection.
func itemFailed(item models.ChecklistItem, answer models.ItemAnswer) bool {
	if answer.Numeric != nil {
		return *answer.Numeric == 0
	}
	return !answer.Passed
}
