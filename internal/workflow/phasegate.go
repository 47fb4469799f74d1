// internal/workflow/phasegate.go
package workflow

import (
	"time"

	"gacp-engine/internal/common/config"
	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/models"
)

// PhaseGate owns the two-phase fee rules: which phase an application may pay
// next, how much that costs, and how long the payment window stays open.
type PhaseGate struct {
	cfg config.WorkflowConfig
}

func NewPhaseGate(cfg config.WorkflowConfig) *PhaseGate {
	return &PhaseGate{cfg: cfg}
}

// IsValidPhase reports whether phase names a known fee phase.
func IsValidPhase(phase int) bool {
	return phase == 1 || phase == 2
}

// NextPhase returns the phase owed after the given one has been paid, or
// false when the fee schedule is complete.
func NextPhase(phase int) (int, bool) {
	if phase == 1 {
		return 2, true
	}
	return 0, false
}

// Fee returns the amount owed for the given phase. A document-review
// rejection makes the next phase-1 payment a re-submission fee.
func (g *PhaseGate) Fee(phase int, resubmission bool) (int64, error) {
	if !IsValidPhase(phase) {
		return 0, errors.NewValidationError("fee phase must be 1 or 2")
	}
	if phase == 1 {
		if resubmission {
			return g.cfg.ResubmissionFee, nil
		}
		return g.cfg.Phase1Fee, nil
	}
	return g.cfg.Phase2Fee, nil
}

// TotalFee is the full certification cost for one application, quoted before
// submission. Re-submission penalties are not part of the quote.
func (g *PhaseGate) TotalFee() int64 {
	return g.cfg.Phase1Fee + g.cfg.Phase2Fee
}

// Window returns how long a payment of the given phase stays payable.
func (g *PhaseGate) Window(phase int) (time.Duration, error) {
	if !IsValidPhase(phase) {
		return 0, errors.NewValidationError("payment phase must be 1 or 2")
	}
	if phase == 1 {
		return g.cfg.Phase1Window(), nil
	}
	return g.cfg.Phase2Window(), nil
}

// PayablePhase returns which fee phase the application may initiate from its
// current state, or a gate violation when no payment is due.
func (g *PhaseGate) PayablePhase(app *models.Application) (int, error) {
	switch app.Status {
	case models.StatusPayment1Pending:
		if app.Phase1Status == models.PhasePaid {
			return 0, errors.NewPhaseGateViolation("phase 1 already paid")
		}
		return 1, nil
	case models.StatusPendingAuditSchedule, models.StatusAuditScheduled:
		if app.Phase2Status == models.PhasePaid {
			return 0, errors.NewPhaseGateViolation("phase 2 already paid")
		}
		return 2, nil
	default:
		return 0, errors.NewPhaseGateViolation("no payment is due in state " + string(app.Status))
	}
}

// CheckRejectionLimit enforces the document-review rejection cap. The count
// passed in is the number of rejections already recorded.
func (g *PhaseGate) CheckRejectionLimit(app *models.Application) error {
	if app.RejectionCount >= g.cfg.RejectionLimit {
		return errors.NewRejectionLimitExceeded(app.ID, app.RejectionCount)
	}
	return nil
}

// RequiresResubmissionFee reports whether the next phase-1 payment is a
// penalty re-payment rather than the initial fee.
func (g *PhaseGate) RequiresResubmissionFee(app *models.Application) bool {
	return app.RejectionCount > 0
}
