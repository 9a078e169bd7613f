package auth

import (
	"testing"

	"github.com/fedex-dca/control-tower/internal/shared/types"
)

func TestScopeGlobalAdmin(t *testing.T) {
	actor := Actor{
		Type:          ActorTypeHuman,
		UserID:        types.NewID(),
		Role:          RoleSuperAdmin,
		IsGlobalAdmin: true,
	}

	scope := ScopeFor(actor)
	if !scope.AllRegions {
		t.Fatal("global admin should see all regions")
	}
	if !scope.CanAccessRegion(types.NewID()) {
		t.Error("global admin should access any region")
	}
	if scope.RegionList() != nil {
		t.Error("unrestricted scope should have nil region filter")
	}
}

func TestScopeFailClosed(t *testing.T) {
	// A non-global actor with no regions has access to nothing.
	actor := Actor{
		Type:   ActorTypeHuman,
		UserID: types.NewID(),
		Role:   RoleFedExAnalyst,
	}

	scope := ScopeFor(actor)
	if scope.AllRegions {
		t.Fatal("non-global actor must not see all regions")
	}
	if scope.CanAccessRegion(types.NewID()) {
		t.Error("empty region set must deny every region")
	}
	if scope.CanAccessRegion("") {
		t.Error("zero region id must be denied")
	}
}

func TestScopeExplicitRegions(t *testing.T) {
	india := types.NewID()
	emea := types.NewID()
	other := types.NewID()

	actor := Actor{
		Type:              ActorTypeHuman,
		UserID:            types.NewID(),
		Role:              RoleFedExManager,
		AccessibleRegions: []types.ID{india, emea},
	}

	scope := ScopeFor(actor)
	if !scope.CanAccessRegion(india) || !scope.CanAccessRegion(emea) {
		t.Error("granted regions should be accessible")
	}
	if scope.CanAccessRegion(other) {
		t.Error("ungranted region should be denied")
	}
	if len(scope.RegionList()) != 2 {
		t.Errorf("RegionList() = %v, want 2 entries", scope.RegionList())
	}
}

func TestScopeDCABoundary(t *testing.T) {
	region := types.NewID()
	myDCA := types.NewID()
	otherDCA := types.NewID()

	actor := Actor{
		Type:              ActorTypeHuman,
		UserID:            types.NewID(),
		Role:              RoleDCAAgent,
		DCAID:             myDCA,
		AccessibleRegions: []types.ID{region},
	}

	scope := ScopeFor(actor)
	if !scope.CanAccessCase(region, myDCA) {
		t.Error("agent should access cases assigned to its own DCA")
	}
	if scope.CanAccessCase(region, otherDCA) {
		t.Error("agent must not access cases assigned to another DCA")
	}
	if scope.CanAccessCase(region, "") {
		t.Error("agent must not access unassigned cases")
	}
}

func TestSystemActorScope(t *testing.T) {
	scope := ScopeFor(SystemActor("ingestion-service"))
	if !scope.AllRegions {
		t.Error("system actors operate across regions")
	}
}

func TestActorID(t *testing.T) {
	sys := SystemActor("billing-feed")
	if sys.ActorID() != "billing-feed" {
		t.Errorf("system ActorID = %q", sys.ActorID())
	}

	uid := types.NewID()
	human := Actor{Type: ActorTypeHuman, UserID: uid, Role: RoleFedExAdmin}
	if human.ActorID() != uid.String() {
		t.Errorf("human ActorID = %q, want %q", human.ActorID(), uid)
	}

	if sys.Can(PermCasesRead) {
		t.Error("system actors hold no human permissions")
	}
}
