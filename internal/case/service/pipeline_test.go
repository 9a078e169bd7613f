package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fedex-dca/control-tower/internal/allocation"
	"github.com/fedex-dca/control-tower/internal/audit"
	"github.com/fedex-dca/control-tower/internal/auth"
	"github.com/fedex-dca/control-tower/internal/case/domain"
	"github.com/fedex-dca/control-tower/internal/region"
	"github.com/fedex-dca/control-tower/internal/scoring"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
	"github.com/fedex-dca/control-tower/internal/sla"
)

// ---- fakes -----------------------------------------------------------------

type memCaseRepo struct {
	cases map[types.ID]*domain.Case
	seen  map[string]bool
}

func newMemCaseRepo() *memCaseRepo {
	return &memCaseRepo{cases: map[types.ID]*domain.Case{}, seen: map[string]bool{}}
}

func (m *memCaseRepo) Create(_ context.Context, c *domain.Case) error {
	key := c.SourceSystem + "/" + c.ExternalCaseID
	if m.seen[key] {
		return apperrors.Conflict("DUPLICATE_CASE", "case already ingested")
	}
	m.seen[key] = true
	stored := *c
	m.cases[c.ID] = &stored
	return nil
}

func (m *memCaseRepo) GetByID(_ context.Context, id types.ID) (*domain.Case, error) {
	c, ok := m.cases[id]
	if !ok {
		return nil, apperrors.NotFound("case", id.String())
	}
	copied := *c
	return &copied, nil
}

func (m *memCaseRepo) GetByNumber(_ context.Context, number string) (*domain.Case, error) {
	for _, c := range m.cases {
		if c.CaseNumber == number {
			copied := *c
			return &copied, nil
		}
	}
	return nil, apperrors.NotFound("case", number)
}

func (m *memCaseRepo) List(_ context.Context, _ domain.ListFilter) ([]domain.Case, int, error) {
	var out []domain.Case
	for _, c := range m.cases {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *memCaseRepo) UpdateStatus(_ context.Context, id types.ID, from, to domain.Status) error {
	c, ok := m.cases[id]
	if !ok {
		return apperrors.NotFound("case", id.String())
	}
	if c.Status != from {
		return apperrors.Conflict("STATUS_CHANGED", "case status changed concurrently")
	}
	c.Status = to
	return nil
}

func (m *memCaseRepo) BindAllocation(_ context.Context, caseID, dcaID types.ID, _ float64, _ string) error {
	c, ok := m.cases[caseID]
	if !ok {
		return apperrors.NotFound("case", caseID.String())
	}
	c.AssignedDCAID = dcaID
	c.Status = domain.StatusPendingContact
	return nil
}

type memTimeline struct {
	entries []domain.TimelineEntry
}

func (m *memTimeline) Append(_ context.Context, e *domain.TimelineEntry) error {
	if e.ID.IsZero() {
		e.ID = types.NewID()
	}
	for _, existing := range m.entries {
		if existing.ID == e.ID {
			return nil
		}
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memTimeline) ListByCase(_ context.Context, caseID types.ID) ([]domain.TimelineEntry, error) {
	var out []domain.TimelineEntry
	for _, e := range m.entries {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeRegionSource struct {
	byCode map[string]*region.Region
}

func (f *fakeRegionSource) GetByCode(_ context.Context, code string) (*region.Region, error) {
	reg, ok := f.byCode[code]
	if !ok {
		return nil, apperrors.NotFound("region", code)
	}
	return reg, nil
}

type fakeTemplates struct {
	tmpl *sla.Template
}

func (f *fakeTemplates) TightestActiveTemplate(_ context.Context, slaType string) (*sla.Template, error) {
	if f.tmpl == nil {
		return nil, apperrors.NotFound("sla template", slaType)
	}
	return f.tmpl, nil
}

type fakeTimer struct {
	due time.Time
}

func (f *fakeTimer) CalculateTiming(_ context.Context, _ types.ID, _ int, _ bool) (*sla.Timing, error) {
	return &sla.Timing{StartedAt: f.due.Add(-4 * time.Hour), DueAt: f.due}, nil
}

type memSLALogs struct {
	logs []sla.Log
}

func (m *memSLALogs) CreateLog(_ context.Context, l *sla.Log) error {
	m.logs = append(m.logs, *l)
	return nil
}

type fakeAllocator struct {
	result *allocation.Result
	err    error
	calls  int
}

func (f *fakeAllocator) Allocate(_ context.Context, _ allocation.Request) (*allocation.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &allocation.Result{Outcome: allocation.OutcomePending}, nil
}

// clashingCaseRepo fails the first n Creates with a case-number clash, the
// conflict a regenerated number must recover from.
type clashingCaseRepo struct {
	*memCaseRepo
	clashes int
	numbers []string
}

func (c *clashingCaseRepo) Create(ctx context.Context, cs *domain.Case) error {
	c.numbers = append(c.numbers, cs.CaseNumber)
	if c.clashes > 0 {
		c.clashes--
		return apperrors.Conflict("CASE_NUMBER_CLASH",
			"case number "+cs.CaseNumber+" already in use")
	}
	return c.memCaseRepo.Create(ctx, cs)
}

type erroringTemplates struct{}

func (erroringTemplates) TightestActiveTemplate(context.Context, string) (*sla.Template, error) {
	return nil, apperrors.Internal(errors.New("connection refused"))
}

type memRecorder struct {
	entries []*audit.Entry
}

func (m *memRecorder) Append(_ context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRecorder) byAction(action string) []*audit.Entry {
	var out []*audit.Entry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// ---- fixture ---------------------------------------------------------------

type pipelineFixture struct {
	pipeline *Pipeline
	cases    *memCaseRepo
	timeline *memTimeline
	slaLogs  *memSLALogs
	alloc    *fakeAllocator
	recorder *memRecorder
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		cases:    newMemCaseRepo(),
		timeline: &memTimeline{},
		slaLogs:  &memSLALogs{},
		alloc:    &fakeAllocator{},
		recorder: &memRecorder{},
	}

	regionID := types.NewID()
	regions := &fakeRegionSource{byCode: map[string]*region.Region{
		"IN-N": {ID: regionID, RegionCode: "IN-N", Name: "India North", Timezone: "Asia/Kolkata", IsActive: true},
		"IN-S": {ID: types.NewID(), RegionCode: "IN-S", Name: "India South", Timezone: "Asia/Kolkata", IsActive: false},
	}}

	templates := &fakeTemplates{tmpl: &sla.Template{
		ID:                types.NewID(),
		Name:              "first contact 4h",
		SLAType:           sla.TypeFirstContact,
		DurationHours:     4,
		BusinessHoursOnly: true,
		IsActive:          true,
	}}

	f.pipeline = NewPipeline(
		f.cases, f.timeline, regions,
		scoring.NewService(nil), // stub-only scoring
		templates, &fakeTimer{due: time.Now().Add(4 * time.Hour)}, f.slaLogs,
		f.alloc, audit.NewLogger(f.recorder), nil,
	)
	return f
}

func validPayload() IngestPayload {
	return IngestPayload{
		CaseType:          "INVOICE",
		SourceSystem:      "LEGACY_BILLING",
		SourceReferenceID: "INV-2026-001",
		Region:            "IN-N",
		Currency:          "INR",
		PrincipalAmount:   50000,
		TaxAmount:         9000,
		TotalDue:          59000,
		CustomerName:      "Acme Logistics Pvt Ltd",
		CustomerEmail:     "accounts@acmelogistics.example",
	}
}

var systemActor = auth.SystemActor("billing-sync")

// ---- tests -----------------------------------------------------------------

func TestIngestHappyPath(t *testing.T) {
	f := newPipelineFixture()

	result, err := f.pipeline.Ingest(context.Background(), systemActor, validPayload())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	c := result.Case
	if c.Status != domain.StatusPendingAllocation {
		t.Errorf("status = %s, want PENDING_ALLOCATION", c.Status)
	}
	// 59000 > 50000 → HIGH per the deterministic stub.
	if c.Priority != domain.PriorityHigh {
		t.Errorf("priority = %s, want HIGH", c.Priority)
	}
	if c.ScoreModel != scoring.ModelVersionStub {
		t.Errorf("score model = %s, want stub tag", c.ScoreModel)
	}
	if c.ActorType != domain.ActorTypeSystem {
		t.Errorf("actor type = %s, want SYSTEM", c.ActorType)
	}

	// All four side effects exist exactly once.
	if len(f.cases.cases) != 1 {
		t.Errorf("case rows = %d, want 1", len(f.cases.cases))
	}
	if len(f.slaLogs.logs) != 1 {
		t.Errorf("sla logs = %d, want 1", len(f.slaLogs.logs))
	}
	if len(f.timeline.entries) != 2 {
		t.Fatalf("timeline rows = %d, want CASE_CREATED + SLA_BOUND", len(f.timeline.entries))
	}
	if f.timeline.entries[0].EventType != domain.TimelineEventCreated ||
		f.timeline.entries[1].EventType != domain.TimelineEventSLABound {
		t.Errorf("timeline events = %s, %s", f.timeline.entries[0].EventType, f.timeline.entries[1].EventType)
	}
	if got := f.recorder.byAction(audit.ActionCaseCreated); len(got) != 1 {
		t.Errorf("case.created audit rows = %d, want 1", len(got))
	}
	if got := f.recorder.byAction(audit.ActionSLABound); len(got) != 1 {
		t.Errorf("sla.bound audit rows = %d, want 1", len(got))
	}
	if f.alloc.calls != 1 {
		t.Errorf("allocation calls = %d, want 1", f.alloc.calls)
	}
	if result.SLA == nil || result.SLA.Status != sla.StatusPending {
		t.Error("expected a PENDING sla log in the result")
	}
}

func TestIngestAmountMismatch(t *testing.T) {
	f := newPipelineFixture()
	payload := validPayload()
	payload.PrincipalAmount = 10000
	payload.TaxAmount = 1800
	payload.TotalDue = 10000

	_, err := f.pipeline.Ingest(context.Background(), systemActor, payload)
	if apperrors.CodeOf(err) != "AMOUNT_MISMATCH" {
		t.Fatalf("error code = %s, want AMOUNT_MISMATCH", apperrors.CodeOf(err))
	}
	if len(f.cases.cases) != 0 {
		t.Error("no case row may exist after a rejected payload")
	}
	if got := f.recorder.byAction(audit.ActionCaseCreateRejected); len(got) != 1 {
		t.Fatalf("rejection audit rows = %d, want 1", len(got))
	}
}

func TestIngestAmountTolerance(t *testing.T) {
	f := newPipelineFixture()
	payload := validPayload()
	payload.PrincipalAmount = 10000
	payload.TaxAmount = 1800
	payload.TotalDue = 11800.009 // inside the 0.01 tolerance

	if _, err := f.pipeline.Ingest(context.Background(), systemActor, payload); err != nil {
		t.Fatalf("within-tolerance payload rejected: %v", err)
	}
}

func TestIngestInvalidRegion(t *testing.T) {
	f := newPipelineFixture()

	for _, code := range []string{"XX-X", "IN-S"} { // unknown, inactive
		payload := validPayload()
		payload.Region = code
		payload.SourceReferenceID = "INV-" + code

		_, err := f.pipeline.Ingest(context.Background(), systemActor, payload)
		if apperrors.CodeOf(err) != "INVALID_REGION" {
			t.Errorf("region %s: error code = %s, want INVALID_REGION", code, apperrors.CodeOf(err))
		}
	}
}

func TestIngestDuplicate(t *testing.T) {
	f := newPipelineFixture()

	if _, err := f.pipeline.Ingest(context.Background(), systemActor, validPayload()); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	_, err := f.pipeline.Ingest(context.Background(), systemActor, validPayload())
	if apperrors.CodeOf(err) != "DUPLICATE_CASE" {
		t.Fatalf("error code = %s, want DUPLICATE_CASE", apperrors.CodeOf(err))
	}
	if len(f.cases.cases) != 1 {
		t.Errorf("case rows = %d, want exactly 1 after re-delivery", len(f.cases.cases))
	}
}

func TestIngestCaseNumberClashIsNotADuplicate(t *testing.T) {
	f := newPipelineFixture()
	repo := &clashingCaseRepo{memCaseRepo: f.cases, clashes: 2}
	f.pipeline.cases = repo

	result, err := f.pipeline.Ingest(context.Background(), systemActor, validPayload())
	if err != nil {
		t.Fatalf("a case-number clash must regenerate, not fail: %v", err)
	}
	if len(f.cases.cases) != 1 {
		t.Fatalf("case rows = %d, want 1", len(f.cases.cases))
	}
	if len(repo.numbers) != 3 {
		t.Fatalf("create attempts = %d, want 3", len(repo.numbers))
	}
	if repo.numbers[0] == result.Case.CaseNumber {
		t.Error("clashing case number must be regenerated before the retry")
	}
}

func TestIngestCaseNumberClashExhaustionFails(t *testing.T) {
	f := newPipelineFixture()
	f.pipeline.cases = &clashingCaseRepo{memCaseRepo: f.cases, clashes: 100}

	_, err := f.pipeline.Ingest(context.Background(), systemActor, validPayload())
	if apperrors.CodeOf(err) == "DUPLICATE_CASE" {
		t.Fatal("a case-number clash must never be reported as DUPLICATE_CASE")
	}
	if apperrors.CodeOf(err) != "INTERNAL_ERROR" {
		t.Fatalf("error code = %s, want INTERNAL_ERROR", apperrors.CodeOf(err))
	}
	if len(f.cases.cases) != 0 {
		t.Error("no case row may exist after exhausted retries")
	}
}

func TestIngestSLATemplateLookupFailureFails(t *testing.T) {
	f := newPipelineFixture()
	f.pipeline.templates = erroringTemplates{}

	_, err := f.pipeline.Ingest(context.Background(), systemActor, validPayload())
	if apperrors.CodeOf(err) != "INTERNAL_ERROR" {
		t.Fatalf("error code = %s, want INTERNAL_ERROR for a failed template lookup", apperrors.CodeOf(err))
	}
	if len(f.cases.cases) != 0 {
		t.Error("nothing may be persisted when the sla store is unreachable")
	}
}

func TestIngestSchemaValidation(t *testing.T) {
	f := newPipelineFixture()

	tests := []struct {
		name   string
		mutate func(*IngestPayload)
	}{
		{"unknown case type", func(p *IngestPayload) { p.CaseType = "LOAN" }},
		{"missing source system", func(p *IngestPayload) { p.SourceSystem = "" }},
		{"unsupported currency", func(p *IngestPayload) { p.Currency = "XYZ" }},
		{"zero principal", func(p *IngestPayload) { p.PrincipalAmount = 0 }},
		{"negative tax", func(p *IngestPayload) { p.TaxAmount = -1 }},
		{"missing customer", func(p *IngestPayload) { p.CustomerName = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validPayload()
			tt.mutate(&payload)
			_, err := f.pipeline.Ingest(context.Background(), systemActor, payload)
			if apperrors.CodeOf(err) != "SCHEMA_VALIDATION" {
				t.Errorf("error code = %s, want SCHEMA_VALIDATION", apperrors.CodeOf(err))
			}
		})
	}
}

func TestIngestInjectionImmunity(t *testing.T) {
	f := newPipelineFixture()

	// Governance-controlled fields riding along in the payload have no
	// landing spot in the schema struct; decoding drops them silently.
	raw := []byte(`{
		"case_type": "INVOICE",
		"source_system": "LEGACY_BILLING",
		"source_reference_id": "INV-INJECT-1",
		"region": "IN-N",
		"currency": "INR",
		"principal_amount": 1000,
		"tax_amount": 180,
		"total_due": 1180,
		"customer_name": "Mallory Corp",
		"status": "RESOLVED",
		"assigned_dca_id": "11111111-1111-1111-1111-111111111111",
		"actor_type": "HUMAN",
		"sla_due_at": "2099-12-31T00:00:00Z"
	}`)

	var payload IngestPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}

	result, err := f.pipeline.Ingest(context.Background(), systemActor, payload)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Case.Status != domain.StatusPendingAllocation {
		t.Errorf("injected status leaked: %s", result.Case.Status)
	}
	if !result.Case.AssignedDCAID.IsZero() {
		t.Error("injected assigned_dca_id leaked")
	}
	if result.Case.ActorType != domain.ActorTypeSystem {
		t.Errorf("injected actor_type leaked: %s", result.Case.ActorType)
	}
}

func TestIngestMissingSLATemplateIsNonFatal(t *testing.T) {
	f := newPipelineFixture()
	f.pipeline.templates = &fakeTemplates{} // no active template

	result, err := f.pipeline.Ingest(context.Background(), systemActor, validPayload())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.SLA != nil {
		t.Error("expected no sla binding")
	}
	if len(f.cases.cases) != 1 {
		t.Error("case must still be created without an sla template")
	}
}

func TestIngestAllocationFailureDoesNotRollBack(t *testing.T) {
	f := newPipelineFixture()
	f.alloc.err = apperrors.Internal(context.DeadlineExceeded)

	result, err := f.pipeline.Ingest(context.Background(), systemActor, validPayload())
	if err != nil {
		t.Fatalf("allocation failure must not fail ingestion: %v", err)
	}
	if result.Allocation.Outcome != allocation.OutcomePending {
		t.Errorf("outcome = %s, want PENDING", result.Allocation.Outcome)
	}
	if len(f.cases.cases) != 1 {
		t.Error("case must survive an allocation failure")
	}
	if result.Case.Status != domain.StatusPendingAllocation {
		t.Errorf("status = %s, want PENDING_ALLOCATION", result.Case.Status)
	}
}

func TestIngestAllocationSuccessReflectedInResult(t *testing.T) {
	f := newPipelineFixture()
	dcaID := types.NewID()
	f.alloc.result = &allocation.Result{
		Outcome:             allocation.OutcomeAllocated,
		DCAID:               dcaID,
		DCAName:             "CollectPro",
		CandidatesEvaluated: 2,
	}

	result, err := f.pipeline.Ingest(context.Background(), systemActor, validPayload())
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Case.Status != domain.StatusPendingContact {
		t.Errorf("status = %s, want PENDING_CONTACT", result.Case.Status)
	}
	if result.Case.AssignedDCAID != dcaID {
		t.Error("assigned dca not reflected in result")
	}

	var allocated bool
	for _, e := range f.timeline.entries {
		if e.EventType == domain.TimelineEventAllocated {
			allocated = true
		}
	}
	if !allocated {
		t.Error("expected a CASE_ALLOCATED timeline entry")
	}
}

func TestIngestRejectsHumanActors(t *testing.T) {
	f := newPipelineFixture()
	human := auth.Actor{Type: auth.ActorTypeHuman, Role: auth.RoleFedExAdmin, Email: "admin@fedex.com"}

	_, err := f.pipeline.Ingest(context.Background(), human, validPayload())
	if apperrors.CodeOf(err) != "SYSTEM_ONLY" {
		t.Fatalf("error code = %s, want SYSTEM_ONLY", apperrors.CodeOf(err))
	}
	if len(f.cases.cases) != 0 {
		t.Error("human-submitted payload must not create a case")
	}
}
