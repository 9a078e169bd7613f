package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fedex-dca/control-tower/internal/audit"
	"github.com/fedex-dca/control-tower/internal/auth"
	"github.com/fedex-dca/control-tower/internal/case/domain"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
	"github.com/fedex-dca/control-tower/internal/sla"
)

type failingRecorder struct{}

func (failingRecorder) Append(context.Context, *audit.Entry) error {
	return errors.New("audit store down")
}

type memSLAStore struct {
	logs map[types.ID]*sla.Log
}

func newMemSLAStore() *memSLAStore {
	return &memSLAStore{logs: map[types.ID]*sla.Log{}}
}

func (m *memSLAStore) LogsByCase(_ context.Context, caseID types.ID) ([]sla.Log, error) {
	var out []sla.Log
	for _, l := range m.logs {
		if l.CaseID == caseID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memSLAStore) UpdateStatus(_ context.Context, id types.ID, status string) error {
	l, ok := m.logs[id]
	if !ok || l.Status != sla.StatusPending {
		return apperrors.Conflict("SLA_NOT_PENDING", "sla log is not pending")
	}
	l.Status = status
	return nil
}

type transitionFixture struct {
	svc      *Transitioner
	cases    *memCaseRepo
	timeline *memTimeline
	slas     *memSLAStore
	recorder *memRecorder
	caseID   types.ID
	dcaID    types.ID
}

func newTransitionFixture(status domain.Status, assigned bool) *transitionFixture {
	f := &transitionFixture{
		cases:    newMemCaseRepo(),
		timeline: &memTimeline{},
		slas:     newMemSLAStore(),
		recorder: &memRecorder{},
		caseID:   types.NewID(),
		dcaID:    types.NewID(),
	}

	c := &domain.Case{
		ID:         f.caseID,
		CaseNumber: "DCA-IN-N-202608-AB12",
		Status:     status,
	}
	if assigned {
		c.AssignedDCAID = f.dcaID
	}
	f.cases.cases[f.caseID] = c

	f.svc = NewTransitioner(f.cases, f.timeline, f.slas, audit.NewLogger(f.recorder), nil)
	return f
}

func (f *transitionFixture) bindFirstContactSLA(dueAt time.Time) *sla.Log {
	l := &sla.Log{
		ID:      types.NewID(),
		CaseID:  f.caseID,
		SLAType: sla.TypeFirstContact,
		Status:  sla.StatusPending,
		DueAt:   dueAt,
	}
	f.slas.logs[l.ID] = l
	return l
}

func (f *transitionFixture) agent() auth.Actor {
	return auth.Actor{
		Type:   auth.ActorTypeHuman,
		UserID: types.NewID(),
		Email:  "agent@collectpro.example",
		Role:   auth.RoleDCAAgent,
		DCAID:  f.dcaID,
	}
}

func TestTransitionHappyPath(t *testing.T) {
	f := newTransitionFixture(domain.StatusOpen, true)

	c, err := f.svc.Transition(context.Background(), f.agent(), f.caseID, TransitionRequest{
		ToStatus: "IN_PROGRESS",
		Notes:    "starting outreach",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if c.Status != domain.StatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", c.Status)
	}
	if f.cases.cases[f.caseID].Status != domain.StatusInProgress {
		t.Error("status not persisted")
	}
	if len(f.timeline.entries) != 1 || f.timeline.entries[0].EventType != domain.TimelineEventStatusChanged {
		t.Error("expected one STATUS_CHANGED timeline entry")
	}
	if got := f.recorder.byAction(audit.ActionCaseTransitioned); len(got) != 1 {
		t.Errorf("transition audit rows = %d, want 1", len(got))
	}
}

func TestTransitionCaseNotFound(t *testing.T) {
	f := newTransitionFixture(domain.StatusOpen, true)

	_, err := f.svc.Transition(context.Background(), f.agent(), types.NewID(), TransitionRequest{ToStatus: "IN_PROGRESS"})
	if apperrors.CodeOf(err) != "NOT_FOUND" {
		t.Fatalf("error code = %s, want NOT_FOUND", apperrors.CodeOf(err))
	}
	assertDenial(t, f.recorder, "CASE_NOT_FOUND")
}

func TestTransitionInvalidStatus(t *testing.T) {
	f := newTransitionFixture(domain.StatusOpen, true)

	_, err := f.svc.Transition(context.Background(), f.agent(), f.caseID, TransitionRequest{ToStatus: "DELETED"})
	if apperrors.CodeOf(err) != "INVALID_STATUS" {
		t.Fatalf("error code = %s, want INVALID_STATUS", apperrors.CodeOf(err))
	}
	assertDenial(t, f.recorder, "INVALID_STATUS")
}

func TestTransitionUnassignedCase(t *testing.T) {
	f := newTransitionFixture(domain.StatusOpen, false)

	_, err := f.svc.Transition(context.Background(), f.agent(), f.caseID, TransitionRequest{ToStatus: "IN_PROGRESS"})
	if apperrors.CodeOf(err) != "CASE_NOT_ASSIGNED" {
		t.Fatalf("error code = %s, want CASE_NOT_ASSIGNED", apperrors.CodeOf(err))
	}
	assertDenial(t, f.recorder, "CASE_NOT_ASSIGNED")
}

func TestTransitionForeignDCA(t *testing.T) {
	f := newTransitionFixture(domain.StatusOpen, true)
	foreign := f.agent()
	foreign.DCAID = types.NewID()

	_, err := f.svc.Transition(context.Background(), foreign, f.caseID, TransitionRequest{ToStatus: "IN_PROGRESS"})
	if apperrors.CodeOf(err) != "NOT_ASSIGNED_TO_USER_DCA" {
		t.Fatalf("error code = %s, want NOT_ASSIGNED_TO_USER_DCA", apperrors.CodeOf(err))
	}
	assertDenial(t, f.recorder, "NOT_ASSIGNED_TO_USER_DCA")
	if f.cases.cases[f.caseID].Status != domain.StatusOpen {
		t.Error("denied transition must not change status")
	}
}

func TestTransitionIllegalEdge(t *testing.T) {
	f := newTransitionFixture(domain.StatusOpen, true)

	// Agents cannot skip IN_PROGRESS.
	_, err := f.svc.Transition(context.Background(), f.agent(), f.caseID, TransitionRequest{ToStatus: "CONTACTED"})
	if apperrors.CodeOf(err) != "INVALID_TRANSITION" {
		t.Fatalf("error code = %s, want INVALID_TRANSITION", apperrors.CodeOf(err))
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatal("expected an AppError")
	}
	if appErr.Details["from"] != "OPEN" || appErr.Details["to"] != "CONTACTED" {
		t.Errorf("details = %v, want from/to context", appErr.Details)
	}
	if appErr.Details["allowed"] != "IN_PROGRESS" {
		t.Errorf("allowed = %q, want IN_PROGRESS", appErr.Details["allowed"])
	}
	assertDenial(t, f.recorder, "INVALID_TRANSITION")
}

func TestTransitionAdminClosesRecoveredCase(t *testing.T) {
	f := newTransitionFixture(domain.StatusRecovered, true)
	admin := auth.Actor{
		Type:   auth.ActorTypeHuman,
		UserID: types.NewID(),
		Email:  "admin@fedex.com",
		Role:   auth.RoleFedExAdmin,
	}

	// FedEx-side actors are not bound to the assigned agency.
	c, err := f.svc.Transition(context.Background(), admin, f.caseID, TransitionRequest{ToStatus: "CLOSED"})
	if err != nil {
		t.Fatalf("admin close: %v", err)
	}
	if c.Status != domain.StatusClosed {
		t.Errorf("status = %s, want CLOSED", c.Status)
	}
}

func TestTransitionDenialAuditFailureEscalates(t *testing.T) {
	f := newTransitionFixture(domain.StatusOpen, true)
	f.svc = NewTransitioner(f.cases, f.timeline, f.slas, audit.NewLogger(failingRecorder{}), nil)

	_, err := f.svc.Transition(context.Background(), f.agent(), f.caseID, TransitionRequest{ToStatus: "CONTACTED"})
	if apperrors.CodeOf(err) != "INTERNAL_ERROR" {
		t.Fatalf("error code = %s, want INTERNAL_ERROR when a denial cannot be recorded", apperrors.CodeOf(err))
	}
}

func TestTransitionToContactedCompletesSLA(t *testing.T) {
	f := newTransitionFixture(domain.StatusInProgress, true)
	contactedAt := time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return contactedAt }
	l := f.bindFirstContactSLA(contactedAt.Add(2 * time.Hour))

	if _, err := f.svc.Transition(context.Background(), f.agent(), f.caseID, TransitionRequest{ToStatus: "CONTACTED"}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if f.slas.logs[l.ID].Status != sla.StatusMet {
		t.Errorf("sla status = %s, want MET", f.slas.logs[l.ID].Status)
	}
	if got := f.recorder.byAction(audit.ActionSLABreached); len(got) != 0 {
		t.Errorf("breach audit rows = %d, want 0 for an on-time contact", len(got))
	}
}

func TestTransitionToContactedRecordsBreach(t *testing.T) {
	f := newTransitionFixture(domain.StatusInProgress, true)
	contactedAt := time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return contactedAt }
	l := f.bindFirstContactSLA(contactedAt.Add(-30 * time.Minute))

	if _, err := f.svc.Transition(context.Background(), f.agent(), f.caseID, TransitionRequest{ToStatus: "CONTACTED"}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if f.slas.logs[l.ID].Status != sla.StatusBreached {
		t.Errorf("sla status = %s, want BREACHED", f.slas.logs[l.ID].Status)
	}
	if got := f.recorder.byAction(audit.ActionSLABreached); len(got) != 1 {
		t.Errorf("breach audit rows = %d, want 1", len(got))
	}
}

func assertDenial(t *testing.T, rec *memRecorder, reason string) {
	t.Helper()
	denials := rec.byAction(audit.ActionCaseTransitionDenied)
	if len(denials) != 1 {
		t.Fatalf("denial audit rows = %d, want 1", len(denials))
	}
	if got := denials[0].Details["reason"]; got != reason {
		t.Errorf("denial reason = %v, want %s", got, reason)
	}
}
