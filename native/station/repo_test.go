package station

import (
	"testing"

	"github.com/google/uuid"
)

func TestPutUserUpdatesNameAndIdentityIndexesOnRename(t *testing.T) {
	repo := newTestRepo()
	u := mustUser(t, repo, "alice")

	if _, ok := repo.UserByName("alice"); !ok {
		t.Fatalf("expected lookup by original name to succeed")
	}
	if _, ok := repo.UserByIdentity("alice"); !ok {
		t.Fatalf("expected lookup by original identity to succeed")
	}

	u.Name = "alicia"
	u.Identities = map[Principal]struct{}{"alicia": {}}
	if err := repo.PutUser(u); err != nil {
		t.Fatalf("put user: %v", err)
	}

	if _, ok := repo.UserByName("alice"); ok {
		t.Fatalf("expected the stale name index entry to be cleared")
	}
	if _, ok := repo.UserByName("alicia"); !ok {
		t.Fatalf("expected the new name to resolve")
	}
	if _, ok := repo.UserByIdentity("alice"); ok {
		t.Fatalf("expected the stale identity index entry to be cleared")
	}
	if _, ok := repo.UserByIdentity("alicia"); !ok {
		t.Fatalf("expected the new identity to resolve")
	}
}

func TestRemoveGroupRejectsAdminGroupAndGroupsStillInUse(t *testing.T) {
	repo := newTestRepo()
	if err := repo.RemoveGroup(ADMINGroupID); err == nil {
		t.Fatalf("expected removing the admin group to be rejected")
	}

	g := &UserGroup{ID: uuid.New(), Name: "finance"}
	if err := repo.PutGroup(g); err != nil {
		t.Fatalf("put group: %v", err)
	}
	u := &User{ID: uuid.New(), Name: "alice", Status: UserStatusActive, Groups: map[uuid.UUID]struct{}{g.ID: {}}}
	if err := repo.PutUser(u); err != nil {
		t.Fatalf("put user: %v", err)
	}

	if err := repo.RemoveGroup(g.ID); err == nil {
		t.Fatalf("expected removing a group still referenced by a user to be rejected")
	}

	u.Groups = map[uuid.UUID]struct{}{}
	if err := repo.PutUser(u); err != nil {
		t.Fatalf("put user: %v", err)
	}
	if err := repo.RemoveGroup(g.ID); err != nil {
		t.Fatalf("expected removing an unreferenced group to succeed, got %v", err)
	}
}

func TestAddressBookEntryLookupByBlockchainAndAddress(t *testing.T) {
	repo := newTestRepo()
	e := &AddressBookEntry{ID: uuid.New(), Blockchain: "icp", Address: "dest-1"}
	if err := repo.PutAddressBookEntry(e); err != nil {
		t.Fatalf("put entry: %v", err)
	}
	if _, ok := repo.AddressBookEntry("icp", "dest-1"); !ok {
		t.Fatalf("expected lookup by blockchain+address to succeed")
	}
	if _, ok := repo.AddressBookEntry("icp", "dest-2"); ok {
		t.Fatalf("expected lookup of an unregistered address to fail")
	}
}

func TestPoliciesMatchingSelectsByOperationKind(t *testing.T) {
	repo := newTestRepo()
	transferPolicy := &RequestPolicy{
		ID:        uuid.New(),
		Specifier: RequestSpecifier{Kind: SpecifierOperationKind, Operation: OpTransfer},
		Rule:      RequestPolicyRule{Kind: RuleAutoApproved},
	}
	addUserPolicy := &RequestPolicy{
		ID:        uuid.New(),
		Specifier: RequestSpecifier{Kind: SpecifierOperationKind, Operation: OpAddUser},
		Rule:      RequestPolicyRule{Kind: RuleAutoApproved},
	}
	if err := repo.PutPolicy(transferPolicy); err != nil {
		t.Fatalf("put transfer policy: %v", err)
	}
	if err := repo.PutPolicy(addUserPolicy); err != nil {
		t.Fatalf("put add user policy: %v", err)
	}

	req := &Request{ID: uuid.New(), Operation: RequestOperation{Kind: OpTransfer, Input: map[string]any{}}, Status: RequestStatus{Kind: StatusCreated}}
	matches := repo.PoliciesMatching(req)
	if len(matches) != 1 || matches[0].ID != transferPolicy.ID {
		t.Fatalf("expected exactly the transfer policy to match, got %+v", matches)
	}
}

func TestRequestsByStatusReflectsLatestWrite(t *testing.T) {
	repo := newTestRepo()
	req := &Request{ID: uuid.New(), Operation: RequestOperation{Kind: OpAddUser, Input: map[string]any{}}, Status: RequestStatus{Kind: StatusCreated}}
	if err := repo.PutRequest(req); err != nil {
		t.Fatalf("put request: %v", err)
	}
	if got := repo.RequestsByStatus(StatusCreated); len(got) != 1 {
		t.Fatalf("expected one Created request, got %d", len(got))
	}

	req.Status = RequestStatus{Kind: StatusCancelled}
	if err := repo.PutRequest(req); err != nil {
		t.Fatalf("put request: %v", err)
	}
	if got := repo.RequestsByStatus(StatusCreated); len(got) != 0 {
		t.Fatalf("expected zero Created requests after transition, got %d", len(got))
	}
	if got := repo.RequestsByStatus(StatusCancelled); len(got) != 1 {
		t.Fatalf("expected one Cancelled request, got %d", len(got))
	}
}

func TestNamedRuleExistsAndRemoval(t *testing.T) {
	repo := newTestRepo()
	nr := &NamedRule{ID: uuid.New(), Name: "solo", Rule: RequestPolicyRule{Kind: RuleAutoApproved}}
	if err := repo.PutNamedRule(nr); err != nil {
		t.Fatalf("put named rule: %v", err)
	}
	if !repo.NamedRuleExists(nr.ID) {
		t.Fatalf("expected named rule to exist after put")
	}
	if err := repo.RemoveNamedRule(nr.ID); err != nil {
		t.Fatalf("remove named rule: %v", err)
	}
	if repo.NamedRuleExists(nr.ID) {
		t.Fatalf("expected named rule to no longer exist after removal")
	}
}
