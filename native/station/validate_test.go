package station

import (
	"testing"

	"github.com/google/uuid"
)

func TestValidatePermissionRefsRejectsUnknownUser(t *testing.T) {
	repo := newTestRepo()
	allow := PermissionAllow{Users: map[uuid.UUID]struct{}{uuid.New(): {}}}
	if err := ValidatePermissionRefs(repo, allow); err == nil {
		t.Fatalf("expected error for unknown user reference")
	}
}

func TestValidatePermissionRefsAcceptsKnownUser(t *testing.T) {
	repo := newTestRepo()
	a := mustUser(t, repo, "alice")
	allow := PermissionAllow{Users: map[uuid.UUID]struct{}{a.ID: {}}}
	if err := ValidatePermissionRefs(repo, allow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRequestSpecifierRefsOnlyChecksAccountOperations(t *testing.T) {
	repo := newTestRepo()
	missing := uuid.New()

	spec := RequestSpecifier{Kind: SpecifierOperationIDs, Operation: OpEditAccount, IDs: []uuid.UUID{missing}}
	if err := ValidateRequestSpecifierRefs(repo, spec); err == nil {
		t.Fatalf("expected error for missing account reference")
	}

	unrelated := RequestSpecifier{Kind: SpecifierOperationIDs, Operation: OpAddUser, IDs: []uuid.UUID{missing}}
	if err := ValidateRequestSpecifierRefs(repo, unrelated); err != nil {
		t.Fatalf("expected operations outside Account/Transfer to skip the check, got %v", err)
	}
}

func TestValidateNamedRuleEditRejectsDuplicateName(t *testing.T) {
	repo := newTestRepo()
	existing := &NamedRule{ID: uuid.New(), Name: "Solo", Rule: RequestPolicyRule{Kind: RuleAutoApproved}}
	if err := repo.PutNamedRule(existing); err != nil {
		t.Fatalf("put named rule: %v", err)
	}

	err := ValidateNamedRuleEdit(repo, uuid.New(), "solo", RequestPolicyRule{Kind: RuleAutoApproved})
	if err == nil {
		t.Fatalf("expected case-folded duplicate name to be rejected")
	}
}

func TestValidateNamedRuleEditDetectsDirectCycle(t *testing.T) {
	repo := newTestRepo()
	id := uuid.New()
	self := RequestPolicyRule{Kind: RuleNamedRuleRef, NamedRuleID: id}
	err := ValidateNamedRuleEdit(repo, id, "self-ref", self)
	if err == nil {
		t.Fatalf("expected self-reference to be rejected as a cycle")
	}
}

func TestValidateNamedRuleEditDetectsIndirectCycle(t *testing.T) {
	repo := newTestRepo()
	a := uuid.New()
	b := uuid.New()

	ruleA := &NamedRule{ID: a, Name: "a", Rule: RequestPolicyRule{Kind: RuleNamedRuleRef, NamedRuleID: b}}
	if err := repo.PutNamedRule(ruleA); err != nil {
		t.Fatalf("put named rule a: %v", err)
	}

	editB := RequestPolicyRule{Kind: RuleNamedRuleRef, NamedRuleID: a}
	if err := ValidateNamedRuleEdit(repo, b, "b", editB); err == nil {
		t.Fatalf("expected a->b, b->a to be rejected as a cycle")
	}
}

func TestValidateNamedRuleEditRejectsIncompatibleLinkedPolicy(t *testing.T) {
	repo := newTestRepo()
	nrID := uuid.New()
	nr := &NamedRule{ID: nrID, Name: "allow", Rule: RequestPolicyRule{Kind: RuleAutoApproved}}
	if err := repo.PutNamedRule(nr); err != nil {
		t.Fatalf("put named rule: %v", err)
	}

	policy := &RequestPolicy{
		ID:        uuid.New(),
		Specifier: RequestSpecifier{Kind: SpecifierOperationKind, Operation: OpAddUser},
		Rule:      RequestPolicyRule{Kind: RuleNamedRuleRef, NamedRuleID: nrID},
	}
	if err := repo.PutPolicy(policy); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	replacement := RequestPolicyRule{Kind: RuleAllowListed}
	if err := ValidateNamedRuleEdit(repo, nrID, "allow", replacement); err == nil {
		t.Fatalf("expected AllowListed substitution under a non-Transfer policy to be rejected")
	}
}

func TestValidateNamedRuleEditAcceptsCompatibleLinkedPolicy(t *testing.T) {
	repo := newTestRepo()
	nrID := uuid.New()
	nr := &NamedRule{ID: nrID, Name: "allow", Rule: RequestPolicyRule{Kind: RuleAutoApproved}}
	if err := repo.PutNamedRule(nr); err != nil {
		t.Fatalf("put named rule: %v", err)
	}

	policy := &RequestPolicy{
		ID:        uuid.New(),
		Specifier: RequestSpecifier{Kind: SpecifierOperationKind, Operation: OpTransfer},
		Rule:      RequestPolicyRule{Kind: RuleNamedRuleRef, NamedRuleID: nrID},
	}
	if err := repo.PutPolicy(policy); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	replacement := RequestPolicyRule{Kind: RuleAllowListed}
	if err := ValidateNamedRuleEdit(repo, nrID, "allow", replacement); err != nil {
		t.Fatalf("expected AllowListed substitution under a Transfer policy to be accepted, got %v", err)
	}
}

func TestValidateNamedRuleEditRejectsIncompatibleTransitiveLinkedPolicy(t *testing.T) {
	repo := newTestRepo()
	bID := uuid.New()
	b := &NamedRule{ID: bID, Name: "b", Rule: RequestPolicyRule{Kind: RuleAutoApproved}}
	if err := repo.PutNamedRule(b); err != nil {
		t.Fatalf("put named rule b: %v", err)
	}

	aID := uuid.New()
	a := &NamedRule{ID: aID, Name: "a", Rule: RequestPolicyRule{Kind: RuleNamedRuleRef, NamedRuleID: bID}}
	if err := repo.PutNamedRule(a); err != nil {
		t.Fatalf("put named rule a: %v", err)
	}

	policy := &RequestPolicy{
		ID:        uuid.New(),
		Specifier: RequestSpecifier{Kind: SpecifierOperationKind, Operation: OpAddUser},
		Rule:      RequestPolicyRule{Kind: RuleNamedRuleRef, NamedRuleID: aID},
	}
	if err := repo.PutPolicy(policy); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	// Policy -> NamedRule a -> NamedRule b. Editing b (not a, the
	// policy's direct reference) must still be caught.
	replacement := RequestPolicyRule{Kind: RuleAllowListed}
	if err := ValidateNamedRuleEdit(repo, bID, "b", replacement); err == nil {
		t.Fatalf("expected an edit to a transitively-linked named rule to be rejected")
	}
}

func TestValidateNamedRuleEditAcceptsCompatibleTransitiveLinkedPolicy(t *testing.T) {
	repo := newTestRepo()
	bID := uuid.New()
	b := &NamedRule{ID: bID, Name: "b", Rule: RequestPolicyRule{Kind: RuleAutoApproved}}
	if err := repo.PutNamedRule(b); err != nil {
		t.Fatalf("put named rule b: %v", err)
	}

	aID := uuid.New()
	a := &NamedRule{ID: aID, Name: "a", Rule: RequestPolicyRule{Kind: RuleNamedRuleRef, NamedRuleID: bID}}
	if err := repo.PutNamedRule(a); err != nil {
		t.Fatalf("put named rule a: %v", err)
	}

	policy := &RequestPolicy{
		ID:        uuid.New(),
		Specifier: RequestSpecifier{Kind: SpecifierOperationKind, Operation: OpTransfer},
		Rule:      RequestPolicyRule{Kind: RuleNamedRuleRef, NamedRuleID: aID},
	}
	if err := repo.PutPolicy(policy); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	replacement := RequestPolicyRule{Kind: RuleAllowListed}
	if err := ValidateNamedRuleEdit(repo, bID, "b", replacement); err != nil {
		t.Fatalf("expected the transitive edit under a Transfer policy to be accepted, got %v", err)
	}
}

func TestValidateCallExternalCanisterRejectsReserved(t *testing.T) {
	if err := ValidateCallExternalCanister("ledger"); err == nil {
		t.Fatalf("expected reserved canister ref to be rejected")
	}
	if err := ValidateCallExternalCanister("app-canister"); err != nil {
		t.Fatalf("unexpected error for non-reserved canister: %v", err)
	}
}
