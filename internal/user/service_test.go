package user

import (
	"context"
	"errors"
	"testing"

	"github.com/fedex-dca/control-tower/internal/audit"
	"github.com/fedex-dca/control-tower/internal/auth"
	"github.com/fedex-dca/control-tower/internal/region"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

type memStore struct {
	users  map[types.ID]*User
	emails map[string]bool
}

func newMemStore() *memStore {
	return &memStore{users: map[types.ID]*User{}, emails: map[string]bool{}}
}

func (m *memStore) put(u *User) *User {
	if u.ID.IsZero() {
		u.ID = types.NewID()
	}
	m.users[u.ID] = u
	m.emails[u.Email] = true
	return u
}

func (m *memStore) Create(_ context.Context, u *User) error {
	if m.emails[u.Email] {
		return apperrors.Conflict("EMAIL_EXISTS", "an account with this email already exists")
	}
	m.put(u)
	return nil
}

func (m *memStore) GetByID(_ context.Context, id types.ID) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id.String())
	}
	copied := *u
	return &copied, nil
}

func (m *memStore) SetActive(_ context.Context, id types.ID, active bool) error {
	u, ok := m.users[id]
	if !ok {
		return apperrors.NotFound("user", id.String())
	}
	u.IsActive = active
	return nil
}

func (m *memStore) SetCanCreateAgents(_ context.Context, id types.ID, allowed bool) error {
	u, ok := m.users[id]
	if !ok || u.Role != auth.RoleDCAManager {
		return apperrors.NotFound("dca manager", id.String())
	}
	u.CanCreateAgents = allowed
	return nil
}

type fakeRegions struct {
	regions map[types.ID]*region.Region
}

func (f *fakeRegions) GetByID(_ context.Context, id types.ID) (*region.Region, error) {
	reg, ok := f.regions[id]
	if !ok {
		return nil, apperrors.NotFound("region", id.String())
	}
	return reg, nil
}

type memRecorder struct {
	entries []*audit.Entry
}

func (m *memRecorder) Append(_ context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

type failingRecorder struct{}

func (failingRecorder) Append(context.Context, *audit.Entry) error {
	return errors.New("audit store down")
}

type serviceFixture struct {
	svc      *Service
	store    *memStore
	recorder *memRecorder
	regionID types.ID
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		store:    newMemStore(),
		recorder: &memRecorder{},
		regionID: types.NewID(),
	}
	inactive := types.NewID()
	regions := &fakeRegions{regions: map[types.ID]*region.Region{
		f.regionID: {ID: f.regionID, RegionCode: "IN-N", IsActive: true},
		inactive:   {ID: inactive, RegionCode: "IN-S", IsActive: false},
	}}
	f.svc = NewService(f.store, regions, audit.NewLogger(f.recorder))
	return f
}

func (f *serviceFixture) actorFor(u *User) auth.Actor {
	return auth.Actor{
		Type:   auth.ActorTypeHuman,
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		DCAID:  u.DCAID,
	}
}

func (f *serviceFixture) lastAudit(t *testing.T, action string) *audit.Entry {
	t.Helper()
	for i := len(f.recorder.entries) - 1; i >= 0; i-- {
		if f.recorder.entries[i].Action == action {
			return f.recorder.entries[i]
		}
	}
	t.Fatalf("no %s audit entry recorded", action)
	return nil
}

func TestProvisionHappyPath(t *testing.T) {
	f := newServiceFixture()
	super := f.store.put(&User{Email: "root@fedex.com", Role: auth.RoleSuperAdmin, IsActive: true})

	u, err := f.svc.Provision(context.Background(), f.actorFor(super), ProvisionRequest{
		Email:             "regional.admin@fedex.com",
		FullName:          "Regional Admin",
		Role:              auth.RoleFedExAdmin,
		AccessibleRegions: []types.ID{f.regionID},
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !u.IsActive {
		t.Error("new accounts start active")
	}
	if u.CreatedBy != super.ID {
		t.Error("created_by must record the creator")
	}

	entry := f.lastAudit(t, audit.ActionUserCreated)
	if entry.Details["creator_role"] != auth.RoleSuperAdmin {
		t.Errorf("audit creator_role = %v", entry.Details["creator_role"])
	}
}

func TestProvisionDenialIsAudited(t *testing.T) {
	f := newServiceFixture()
	manager := f.store.put(&User{
		Email: "fm@fedex.com", Role: auth.RoleFedExManager, IsActive: true,
	})

	_, err := f.svc.Provision(context.Background(), f.actorFor(manager), ProvisionRequest{
		Email:    "analyst@fedex.com",
		FullName: "Analyst",
		Role:     auth.RoleFedExAnalyst,
	})
	if apperrors.CodeOf(err) != "ROLE_NOT_ASSIGNABLE" {
		t.Fatalf("code = %s, want ROLE_NOT_ASSIGNABLE", apperrors.CodeOf(err))
	}

	entry := f.lastAudit(t, audit.ActionUserCreateDenied)
	if entry.Details["reason"] != "ROLE_NOT_ASSIGNABLE" {
		t.Errorf("audit reason = %v", entry.Details["reason"])
	}
	if entry.Details["target_role"] != string(auth.RoleFedExAnalyst) {
		t.Errorf("audit target_role = %v", entry.Details["target_role"])
	}
}

func TestProvisionRevokedDelegationCheckedLive(t *testing.T) {
	f := newServiceFixture()
	dcaID := types.NewID()
	manager := f.store.put(&User{
		Email: "mgr@collectpro.example", Role: auth.RoleDCAManager,
		DCAID: dcaID, StateCode: "MH", CanCreateAgents: false, IsActive: true,
	})

	// The session actor still claims the delegation; the live row denies it.
	_, err := f.svc.Provision(context.Background(), f.actorFor(manager), ProvisionRequest{
		Email:    "agent@collectpro.example",
		FullName: "New Agent",
		Role:     auth.RoleDCAAgent,
	})
	if apperrors.CodeOf(err) != "AGENT_CREATION_REVOKED" {
		t.Fatalf("code = %s, want AGENT_CREATION_REVOKED", apperrors.CodeOf(err))
	}
}

func TestProvisionAgentInheritsPlacement(t *testing.T) {
	f := newServiceFixture()
	dcaID := types.NewID()
	manager := f.store.put(&User{
		Email: "mgr@collectpro.example", Role: auth.RoleDCAManager,
		DCAID: dcaID, StateCode: "MH", CanCreateAgents: true, IsActive: true,
	})

	u, err := f.svc.Provision(context.Background(), f.actorFor(manager), ProvisionRequest{
		Email:     "agent@collectpro.example",
		FullName:  "New Agent",
		Role:      auth.RoleDCAAgent,
		DCAID:     types.NewID(), // client-supplied, must be ignored
		StateCode: "KA",
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if u.DCAID != dcaID {
		t.Error("agent must inherit the manager's agency")
	}
	if u.StateCode != "MH" {
		t.Errorf("state_code = %s, want inherited MH", u.StateCode)
	}
}

func TestProvisionInactiveRegionDenied(t *testing.T) {
	f := newServiceFixture()
	super := f.store.put(&User{Email: "root@fedex.com", Role: auth.RoleSuperAdmin, IsActive: true})

	_, err := f.svc.Provision(context.Background(), f.actorFor(super), ProvisionRequest{
		Email:             "admin2@fedex.com",
		FullName:          "Admin Two",
		Role:              auth.RoleFedExAdmin,
		AccessibleRegions: []types.ID{types.NewID()}, // unknown region
	})
	if apperrors.CodeOf(err) != "INVALID_REGION" {
		t.Fatalf("code = %s, want INVALID_REGION", apperrors.CodeOf(err))
	}
}

func TestProvisionDenialAuditFailureEscalates(t *testing.T) {
	f := newServiceFixture()
	manager := f.store.put(&User{Email: "fm@fedex.com", Role: auth.RoleFedExManager, IsActive: true})
	f.svc.auditor = audit.NewLogger(failingRecorder{})

	_, err := f.svc.Provision(context.Background(), f.actorFor(manager), ProvisionRequest{
		Email:    "x@fedex.com",
		FullName: "X",
		Role:     auth.RoleFedExAnalyst,
	})
	if apperrors.CodeOf(err) != "INTERNAL_ERROR" {
		t.Fatalf("code = %s, want INTERNAL_ERROR when a denial cannot be recorded", apperrors.CodeOf(err))
	}
}

func TestDeactivateRespectsAgencyBoundary(t *testing.T) {
	f := newServiceFixture()
	dcaA, dcaB := types.NewID(), types.NewID()
	admin := f.store.put(&User{Email: "admin@collectpro.example", Role: auth.RoleDCAAdmin, DCAID: dcaA, IsActive: true})
	foreignAgent := f.store.put(&User{Email: "agent@otherdca.example", Role: auth.RoleDCAAgent, DCAID: dcaB, IsActive: true})

	err := f.svc.Deactivate(context.Background(), f.actorFor(admin), foreignAgent.ID)
	if apperrors.CodeOf(err) != "NOT_IN_USER_DCA" {
		t.Fatalf("code = %s, want NOT_IN_USER_DCA", apperrors.CodeOf(err))
	}

	ownAgent := f.store.put(&User{Email: "agent@collectpro.example", Role: auth.RoleDCAAgent, DCAID: dcaA, IsActive: true})
	if err := f.svc.Deactivate(context.Background(), f.actorFor(admin), ownAgent.ID); err != nil {
		t.Fatalf("deactivate own agent: %v", err)
	}
	if f.store.users[ownAgent.ID].IsActive {
		t.Error("account should be inactive")
	}
}
