package station

import (
	"testing"

	"github.com/google/uuid"
)

func newTestRepo() *Repositories { return NewRepositories(nil) }

func mustUser(t *testing.T, r *Repositories, name string) *User {
	t.Helper()
	u := &User{
		ID:         uuid.New(),
		Name:       name,
		Status:     UserStatusActive,
		Groups:     map[uuid.UUID]struct{}{},
		Identities: map[Principal]struct{}{Principal(name): {}},
	}
	if err := r.PutUser(u); err != nil {
		t.Fatalf("put user: %v", err)
	}
	return u
}

func quorumPolicy(id uuid.UUID, op OperationKind, users []uuid.UUID, n uint16) *RequestPolicy {
	return &RequestPolicy{
		ID:        id,
		Specifier: RequestSpecifier{Operation: op, Kind: SpecifierOperationKind},
		Rule: RequestPolicyRule{
			Kind:        RuleQuorum,
			Specifier:   UserSpecifier{Kind: SpecifierID, Users: users},
			MinApproved: n,
		},
	}
}

func TestEvaluateRequestTwoOfThreeApproves(t *testing.T) {
	repo := newTestRepo()
	a := mustUser(t, repo, "alice")
	b := mustUser(t, repo, "bob")
	c := mustUser(t, repo, "carol")
	if err := repo.PutPolicy(quorumPolicy(uuid.New(), OpTransfer, []uuid.UUID{a.ID, b.ID, c.ID}, 2)); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	req := &Request{
		ID:          uuid.New(),
		RequestedBy: a.ID,
		Operation:   RequestOperation{Kind: OpTransfer, Input: map[string]any{}},
		Status:      RequestStatus{Kind: StatusCreated},
		Approvals: []Approval{
			{ApproverID: a.ID, Decision: ApprovalApproved},
		},
	}

	eval := &Evaluator{State: repo}
	status, _, err := eval.EvaluateRequest(req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != RulePending {
		t.Fatalf("expected pending with one of two approvals, got %s", status)
	}

	req.Approvals = append(req.Approvals, Approval{ApproverID: b.ID, Decision: ApprovalApproved})
	status, _, err = eval.EvaluateRequest(req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != RuleApproved {
		t.Fatalf("expected approved with two of two approvals, got %s", status)
	}
}

func TestEvaluateRequestRejectsWhenRemainingCannotReachQuorum(t *testing.T) {
	repo := newTestRepo()
	a := mustUser(t, repo, "alice")
	b := mustUser(t, repo, "bob")
	c := mustUser(t, repo, "carol")
	if err := repo.PutPolicy(quorumPolicy(uuid.New(), OpTransfer, []uuid.UUID{a.ID, b.ID, c.ID}, 3)); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	req := &Request{
		ID:        uuid.New(),
		Operation: RequestOperation{Kind: OpTransfer, Input: map[string]any{}},
		Status:    RequestStatus{Kind: StatusCreated},
		Approvals: []Approval{
			{ApproverID: a.ID, Decision: ApprovalApproved},
			{ApproverID: b.ID, Decision: ApprovalRejected},
			{ApproverID: c.ID, Decision: ApprovalRejected},
		},
	}

	eval := &Evaluator{State: repo}
	status, _, err := eval.EvaluateRequest(req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != RuleRejected {
		t.Fatalf("expected rejected once quorum is unreachable, got %s", status)
	}
}

func TestEvaluateRequestNoMatchingPolicyFailsClosed(t *testing.T) {
	repo := newTestRepo()
	req := &Request{ID: uuid.New(), Operation: RequestOperation{Kind: OpTransfer, Input: map[string]any{}}, Status: RequestStatus{Kind: StatusCreated}}
	eval := &Evaluator{State: repo}
	status, results, err := eval.EvaluateRequest(req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != RuleRejected || results != nil {
		t.Fatalf("expected fail-closed rejection with no snapshot, got %s / %v", status, results)
	}
}

func TestNamedRuleRefMemoizesWithinEvaluation(t *testing.T) {
	repo := newTestRepo()
	a := mustUser(t, repo, "alice")

	nr := &NamedRule{ID: uuid.New(), Name: "solo", Rule: RequestPolicyRule{
		Kind:        RuleQuorum,
		Specifier:   UserSpecifier{Kind: SpecifierID, Users: []uuid.UUID{a.ID}},
		MinApproved: 1,
	}}
	if err := repo.PutNamedRule(nr); err != nil {
		t.Fatalf("put named rule: %v", err)
	}

	policy := &RequestPolicy{
		ID:        uuid.New(),
		Specifier: RequestSpecifier{Operation: OpTransfer, Kind: SpecifierOperationKind},
		Rule: RequestPolicyRule{
			Kind: RuleAnd,
			Children: []RequestPolicyRule{
				{Kind: RuleNamedRuleRef, NamedRuleID: nr.ID},
				{Kind: RuleNamedRuleRef, NamedRuleID: nr.ID},
			},
		},
	}
	if err := repo.PutPolicy(policy); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	req := &Request{
		ID:        uuid.New(),
		Operation: RequestOperation{Kind: OpTransfer, Input: map[string]any{}},
		Status:    RequestStatus{Kind: StatusCreated},
		Approvals: []Approval{{ApproverID: a.ID, Decision: ApprovalApproved}},
	}
	eval := &Evaluator{State: repo}
	status, _, err := eval.EvaluateRequest(req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != RuleApproved {
		t.Fatalf("expected approved, got %s", status)
	}
}

func TestAllowListedRuleOnlyAppliesToTransfers(t *testing.T) {
	repo := newTestRepo()
	acct := &Account{ID: uuid.New(), Blockchain: "icp", Owners: map[uuid.UUID]struct{}{}}
	if err := repo.PutAccount(acct); err != nil {
		t.Fatalf("put account: %v", err)
	}
	entry := &AddressBookEntry{ID: uuid.New(), Blockchain: "icp", Address: "dest-1"}
	if err := repo.PutAddressBookEntry(entry); err != nil {
		t.Fatalf("put address book entry: %v", err)
	}

	policy := &RequestPolicy{
		ID:        uuid.New(),
		Specifier: RequestSpecifier{Operation: OpTransfer, Kind: SpecifierOperationKind},
		Rule:      RequestPolicyRule{Kind: RuleAllowListed},
	}
	if err := repo.PutPolicy(policy); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	eval := &Evaluator{State: repo}

	approvedReq := &Request{
		ID:        uuid.New(),
		Operation: RequestOperation{Kind: OpTransfer, Input: map[string]any{"account_id": acct.ID, "destination_address": "dest-1"}},
		Status:    RequestStatus{Kind: StatusCreated},
	}
	status, _, err := eval.EvaluateRequest(approvedReq)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != RuleApproved {
		t.Fatalf("expected destination on the address book to approve, got %s", status)
	}

	unknownDestReq := &Request{
		ID:        uuid.New(),
		Operation: RequestOperation{Kind: OpTransfer, Input: map[string]any{"account_id": acct.ID, "destination_address": "dest-2"}},
		Status:    RequestStatus{Kind: StatusCreated},
	}
	status, _, err = eval.EvaluateRequest(unknownDestReq)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if status != RuleRejected {
		t.Fatalf("expected unregistered destination to reject, got %s", status)
	}
}

func TestCanVoteReflectsQuorumMembership(t *testing.T) {
	repo := newTestRepo()
	a := mustUser(t, repo, "alice")
	b := mustUser(t, repo, "bob")
	outsider := mustUser(t, repo, "eve")
	if err := repo.PutPolicy(quorumPolicy(uuid.New(), OpTransfer, []uuid.UUID{a.ID, b.ID}, 2)); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	req := &Request{ID: uuid.New(), Operation: RequestOperation{Kind: OpTransfer, Input: map[string]any{}}, Status: RequestStatus{Kind: StatusCreated}}
	eval := &Evaluator{State: repo}

	if !eval.CanVote(req, b.ID) {
		t.Fatalf("expected quorum member to be a possible approver")
	}
	if eval.CanVote(req, outsider.ID) {
		t.Fatalf("expected non-member to not be a possible approver")
	}

	req.Approvals = []Approval{{ApproverID: b.ID, Decision: ApprovalApproved}}
	if eval.CanVote(req, b.ID) {
		t.Fatalf("expected a user who already voted to no longer be a possible approver")
	}
}
