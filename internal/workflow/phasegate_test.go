// internal/workflow/phasegate_test.go
package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gacp-engine/internal/common/config"
	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/models"
)

func testWorkflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		Phase1Fee:         5000,
		Phase2Fee:         25000,
		ResubmissionFee:   5000,
		RejectionLimit:    2,
		Phase1WindowDays:  7,
		Phase2WindowDays:  14,
		SweepIntervalSecs: 60,
	}
}

func TestFee(t *testing.T) {
	gate := NewPhaseGate(testWorkflowConfig())

	tests := []struct {
		name         string
		phase        int
		resubmission bool
		want         int64
		wantErr      bool
	}{
		{"phase 1 initial", 1, false, 5000, false},
		{"phase 1 resubmission", 1, true, 5000, false},
		{"phase 2", 2, false, 25000, false},
		{"phase 2 ignores resubmission flag", 2, true, 25000, false},
		{"phase 0 invalid", 0, false, 0, true},
		{"phase 3 invalid", 3, false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gate.Fee(tt.phase, tt.resubmission)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPhaseSequence(t *testing.T) {
	assert.False(t, IsValidPhase(0))
	assert.True(t, IsValidPhase(1))
	assert.True(t, IsValidPhase(2))
	assert.False(t, IsValidPhase(3))

	next, ok := NextPhase(1)
	assert.True(t, ok)
	assert.Equal(t, 2, next)

	_, ok = NextPhase(2)
	assert.False(t, ok)
}

func TestTotalFee(t *testing.T) {
	gate := NewPhaseGate(testWorkflowConfig())
	assert.Equal(t, int64(30000), gate.TotalFee())
}

func TestWindow(t *testing.T) {
	gate := NewPhaseGate(testWorkflowConfig())

	w1, err := gate.Window(1)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, w1)

	w2, err := gate.Window(2)
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, w2)

	_, err = gate.Window(5)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestPayablePhase(t *testing.T) {
	gate := NewPhaseGate(testWorkflowConfig())

	tests := []struct {
		name      string
		status    models.Status
		phase1    models.PhaseStatus
		phase2    models.PhaseStatus
		wantPhase int
		wantErr   bool
	}{
		{"payment 1 pending", models.StatusPayment1Pending, models.PhasePending, models.PhasePending, 1, false},
		{"phase 1 already paid", models.StatusPayment1Pending, models.PhasePaid, models.PhasePending, 0, true},
		{"pending audit schedule pays phase 2", models.StatusPendingAuditSchedule, models.PhasePaid, models.PhasePending, 2, false},
		{"audit scheduled pays phase 2", models.StatusAuditScheduled, models.PhasePaid, models.PhasePending, 2, false},
		{"phase 2 already paid", models.StatusAuditScheduled, models.PhasePaid, models.PhasePaid, 0, true},
		{"no payment due in draft", models.StatusDraft, models.PhasePending, models.PhasePending, 0, true},
		{"no payment due after approval", models.StatusApproved, models.PhasePaid, models.PhasePaid, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &models.Application{
				ID:           "app-1",
				Status:       tt.status,
				Phase1Status: tt.phase1,
				Phase2Status: tt.phase2,
			}
			phase, err := gate.PayablePhase(app)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.ErrCodePhaseGateViolation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPhase, phase)
		})
	}
}

func TestCheckRejectionLimit(t *testing.T) {
	gate := NewPhaseGate(testWorkflowConfig())

	app := &models.Application{ID: "app-1", RejectionCount: 1}
	assert.NoError(t, gate.CheckRejectionLimit(app))

	app.RejectionCount = 2
	err := gate.CheckRejectionLimit(app)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRejectionLimitExceeded))
}

func TestRequiresResubmissionFee(t *testing.T) {
	gate := NewPhaseGate(testWorkflowConfig())

	assert.False(t, gate.RequiresResubmissionFee(&models.Application{}))
	assert.True(t, gate.RequiresResubmissionFee(&models.Application{RejectionCount: 1}))
}
