package fulfillment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/rxsync/internal/notify"
	"github.com/lalithlochan/rxsync/internal/progress"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusUploaded, StatusProcessing))
	assert.True(t, CanTransition(StatusProcessed, StatusAccepted))
	assert.True(t, CanTransition(StatusReady, StatusCompleted))
	assert.True(t, CanTransition(StatusDelivered, StatusCompleted))
	assert.False(t, CanTransition(StatusDelivered, StatusCancelled))
	assert.False(t, CanTransition(StatusPendingApproval, StatusProcessed))
	assert.False(t, CanTransition(StatusUploaded, StatusAccepted))

	for _, s := range []Status{StatusUploaded, StatusProcessing, StatusProcessed, StatusPendingApproval,
		StatusAccepted, StatusPreparing, StatusReady} {
		assert.True(t, CanTransition(s, StatusCancelled), "%s should be cancellable", s)
	}

	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusDelivered.Terminal())
	assert.False(t, Status("shipped").Valid())
}

func TestRecordApproval_FirstResponseAdvances(t *testing.T) {
	p := &Prescription{ID: "rx1", Status: StatusProcessed}

	advanced, err := p.RecordApproval(Approval{PharmacyID: "A", Status: ApprovalPending}, t0)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, StatusProcessed, p.Status)

	advanced, err = p.RecordApproval(Approval{PharmacyID: "A", Status: ApprovalRejected, Reason: "out of stock"}, t0)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, StatusPendingApproval, p.Status)

	a, ok := p.Approval("A")
	require.True(t, ok)
	assert.Equal(t, t0, a.RespondedAt)
	assert.Equal(t, "rx1", a.PrescriptionID)

	// more responses keep it pending_approval
	advanced, err = p.RecordApproval(Approval{PharmacyID: "B", Status: ApprovalApproved}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, StatusPendingApproval, p.Status)
	assert.Len(t, p.Approvals, 2)
}

func TestRecordApproval_ResponseIsFinal(t *testing.T) {
	p := &Prescription{ID: "rx1", Status: StatusPendingApproval}
	_, err := p.RecordApproval(Approval{PharmacyID: "A", Status: ApprovalApproved}, t0)
	require.NoError(t, err)

	_, err = p.RecordApproval(Approval{PharmacyID: "A", Status: ApprovalRejected}, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrApprovalFinal)

	_, err = p.RecordApproval(Approval{PharmacyID: "A", Status: ApprovalApproved}, t0.Add(time.Minute))
	require.NoError(t, err)

	a, _ := p.Approval("A")
	assert.Equal(t, ApprovalApproved, a.Status)
	assert.Equal(t, t0, a.RespondedAt, "respondedAt is stamped once")
	assert.Len(t, p.Approvals, 1)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name      string
		approvals []Approval
		selected  string
		want      ApprovalOutcome
	}{
		{"no responses", nil, "", OutcomeAwaiting},
		{"only pending", []Approval{{PharmacyID: "A", Status: ApprovalPending}}, "", OutcomeAwaiting},
		{"rejected and pending", []Approval{
			{PharmacyID: "A", Status: ApprovalRejected},
			{PharmacyID: "B", Status: ApprovalPending},
		}, "", OutcomeAwaiting},
		{"one approved", []Approval{
			{PharmacyID: "A", Status: ApprovalRejected},
			{PharmacyID: "B", Status: ApprovalApproved},
		}, "", OutcomeAvailable},
		{"all rejected", []Approval{
			{PharmacyID: "A", Status: ApprovalRejected},
			{PharmacyID: "B", Status: ApprovalRejected},
		}, "", OutcomeNoViablePharmacy},
		{"selected", []Approval{{PharmacyID: "B", Status: ApprovalApproved}}, "B", OutcomeSelected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Prescription{Approvals: tt.approvals, SelectedPharmacyID: tt.selected}
			assert.Equal(t, tt.want, p.Outcome())
		})
	}
}

func TestActions(t *testing.T) {
	tests := []struct {
		status   Status
		selected string
		want     Actions
	}{
		{StatusUploaded, "", Actions{}},
		{StatusProcessed, "", Actions{SelectPharmacy: true, ViewApprovals: true}},
		{StatusPendingApproval, "", Actions{SelectPharmacy: true, ViewApprovals: true}},
		{StatusPendingApproval, "A", Actions{}},
		{StatusAccepted, "A", Actions{TrackOrder: true, Chat: true}},
		{StatusPreparing, "A", Actions{TrackOrder: true, Chat: true}},
		{StatusReady, "A", Actions{TrackOrder: true, Chat: true}},
		{StatusDelivered, "A", Actions{TrackOrder: true}},
		{StatusCompleted, "A", Actions{}},
		{StatusCancelled, "", Actions{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.status)+"/"+tt.selected, func(t *testing.T) {
			p := Prescription{Status: tt.status, SelectedPharmacyID: tt.selected}
			assert.Equal(t, tt.want, p.Actions())
		})
	}
}

func TestCheckSelect(t *testing.T) {
	p := &Prescription{
		ID:     "rx1",
		Status: StatusPendingApproval,
		Approvals: []Approval{
			{PharmacyID: "A", Status: ApprovalApproved},
			{PharmacyID: "C", Status: ApprovalRejected},
		},
	}

	assert.NoError(t, p.CheckSelect("A"))
	assert.ErrorIs(t, p.CheckSelect("C"), ErrValidation)
	assert.ErrorIs(t, p.CheckSelect("Z"), ErrValidation)
	assert.ErrorIs(t, p.CheckSelect(""), ErrValidation)

	uploaded := &Prescription{Status: StatusUploaded, Approvals: p.Approvals}
	assert.ErrorIs(t, uploaded.CheckSelect("A"), ErrValidation)

	require.NoError(t, p.applySelection("A", t0))
	err := p.CheckSelect("A")
	assert.ErrorIs(t, err, ErrAlreadySelected)
	assert.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "pharmacyId", verr.Field)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, (&Prescription{Status: StatusProcessed}).Validate())
	assert.NoError(t, (&Prescription{Status: StatusReady, SelectedPharmacyID: "A"}).Validate())
	assert.NoError(t, (&Prescription{Status: StatusCancelled, SelectedPharmacyID: "A"}).Validate())

	assert.ErrorIs(t, (&Prescription{Status: StatusAccepted}).Validate(), ErrValidation)
	assert.ErrorIs(t, (&Prescription{Status: StatusProcessed, SelectedPharmacyID: "A"}).Validate(), ErrValidation)
	assert.ErrorIs(t, (&Prescription{Status: "lost"}).Validate(), ErrValidation)

	dup := &Prescription{Status: StatusProcessed, Approvals: []Approval{{PharmacyID: "A"}, {PharmacyID: "A"}}}
	assert.ErrorIs(t, dup.Validate(), ErrValidation)
}

func TestTransition(t *testing.T) {
	p := &Prescription{Status: StatusDelivered}
	assert.ErrorIs(t, p.Transition(StatusCancelled, t0), ErrInvalidTransition)
	require.NoError(t, p.Transition(StatusCompleted, t0))
	assert.Equal(t, t0, p.UpdatedAt)
}

func TestRelevantCategories(t *testing.T) {
	assert.Equal(t, []notify.Category{notify.CategoryApproval}, RelevantCategories(StatusPendingApproval))
	assert.Equal(t, []notify.Category{notify.CategoryOrderStatus, notify.CategoryChat}, RelevantCategories(StatusReady))
	assert.Equal(t, []notify.Category{notify.CategoryOrderStatus}, RelevantCategories(StatusDelivered))
	assert.Empty(t, RelevantCategories(StatusUploaded))
	assert.Empty(t, RelevantCategories(StatusCompleted))
}

func TestOrderStage(t *testing.T) {
	stage, ok := OrderStage(StatusPreparing)
	require.True(t, ok)
	assert.Equal(t, progress.StatusPreparing, stage)
	assert.Equal(t, 3, progress.Project(stage).Step)

	stage, ok = OrderStage(StatusCancelled)
	require.True(t, ok)
	assert.False(t, progress.Project(stage).Progressing)

	_, ok = OrderStage(StatusProcessed)
	assert.False(t, ok)
}
