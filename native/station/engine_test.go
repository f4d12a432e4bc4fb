package station

import (
	"testing"
	"time"

	"stationd/native/station/collab"

	"github.com/google/uuid"
)

func newTestEngine(t *testing.T) (*Engine, *Repositories) {
	t.Helper()
	repos := NewRepositories(nil)
	clock := collab.NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eng := NewEngine(repos, clock, &collab.SequentialIDSource{})
	bc := collab.NewInMemoryBlockchainAdapter()
	cm := collab.NewInMemoryCanisterManager()
	RegisterAll(eng, bc, cm)
	return eng, repos
}

func allowEveryonePolicy(repo *Repositories, op OperationKind) {
	_ = repo.PutPolicy(&RequestPolicy{
		ID:        uuid.New(),
		Specifier: RequestSpecifier{Operation: op, Kind: SpecifierOperationKind},
		Rule:      RequestPolicyRule{Kind: RuleAutoApproved},
	})
}

func TestCreateRequestSoloAdminAddUserAutoApproves(t *testing.T) {
	eng, repo := newTestEngine(t)
	admin := mustUser(t, repo, "admin")
	allowEveryonePolicy(repo, OpAddUser)

	ctx := Context{IsController: true}
	req, err := eng.CreateRequest(ctx, CreateRequestInput{
		RequestedBy: admin.ID,
		Operation:   RequestOperation{Kind: OpAddUser, Input: map[string]any{"name": "new-user"}},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if req.Status.Kind != StatusCreated {
		t.Fatalf("expected newly created request to start in Created, got %s", req.Status.Kind)
	}

	if err := eng.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, ok := repo.RequestByID(req.ID)
	if !ok {
		t.Fatalf("request vanished")
	}
	if got.Status.Kind != StatusCompleted {
		t.Fatalf("expected AutoApproved AddUser to complete within one tick, got %s", got.Status.Kind)
	}
	if _, exists := repo.UserByName("new-user"); !exists {
		t.Fatalf("expected new-user to be created by the executor")
	}
}

func TestCreateRequestTwoOfThreeTransferRequiresSecondVote(t *testing.T) {
	eng, repo := newTestEngine(t)
	a := mustUser(t, repo, "alice")
	b := mustUser(t, repo, "bob")
	c := mustUser(t, repo, "carol")
	acct := &Account{ID: uuid.New(), Blockchain: "icp", Owners: map[uuid.UUID]struct{}{a.ID: {}}}
	if err := repo.PutAccount(acct); err != nil {
		t.Fatalf("put account: %v", err)
	}
	if err := repo.PutPolicy(quorumPolicy(uuid.New(), OpTransfer, []uuid.UUID{a.ID, b.ID, c.ID}, 2)); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	ctx := Context{IsController: true}
	req, err := eng.CreateRequest(ctx, CreateRequestInput{
		RequestedBy: a.ID,
		Operation: RequestOperation{Kind: OpTransfer, Input: map[string]any{
			"account_id":          acct.ID,
			"destination_address": "dest-1",
			"amount":              uint64(10),
		}},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if err := eng.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, _ := repo.RequestByID(req.ID)
	if got.Status.Kind != StatusCreated {
		t.Fatalf("expected request to remain Created with only one of two approvals, got %s", got.Status.Kind)
	}

	if err := eng.SubmitApproval(ctx, req.ID, b.ID, ApprovalApproved, "lgtm"); err != nil {
		t.Fatalf("submit approval: %v", err)
	}
	if err := eng.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, _ = repo.RequestByID(req.ID)
	if got.Status.Kind != StatusCompleted {
		t.Fatalf("expected transfer to complete once quorum is reached, got %s", got.Status.Kind)
	}
}

func TestSubmitApprovalRejectsRepeatedVote(t *testing.T) {
	eng, repo := newTestEngine(t)
	a := mustUser(t, repo, "alice")
	b := mustUser(t, repo, "bob")
	if err := repo.PutPolicy(quorumPolicy(uuid.New(), OpAddUser, []uuid.UUID{a.ID, b.ID}, 2)); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	ctx := Context{IsController: true}
	req, err := eng.CreateRequest(ctx, CreateRequestInput{
		RequestedBy: a.ID,
		Operation:   RequestOperation{Kind: OpAddUser, Input: map[string]any{"name": "someone"}},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if err := eng.SubmitApproval(ctx, req.ID, b.ID, ApprovalApproved, "ok"); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if err := eng.SubmitApproval(ctx, req.ID, b.ID, ApprovalApproved, "ok again"); err == nil {
		t.Fatalf("expected the second vote from the same user to be rejected as a conflict")
	}
}

func TestCancelRequestAllowedBeforeProcessing(t *testing.T) {
	eng, repo := newTestEngine(t)
	a := mustUser(t, repo, "alice")
	allowEveryonePolicy(repo, OpAddUser)

	ctx := Context{IsController: true}
	req, err := eng.CreateRequest(ctx, CreateRequestInput{
		RequestedBy: a.ID,
		Operation:   RequestOperation{Kind: OpAddUser, Input: map[string]any{"name": "someone"}},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if err := eng.CancelRequest(ctx, req.ID, "changed my mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := repo.RequestByID(req.ID)
	if got.Status.Kind != StatusCancelled {
		t.Fatalf("expected Cancelled, got %s", got.Status.Kind)
	}

	if err := eng.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, _ = repo.RequestByID(req.ID)
	if got.Status.Kind != StatusCancelled {
		t.Fatalf("expected a cancelled request to stay cancelled across tick, got %s", got.Status.Kind)
	}
}

func TestTickExpiresOverdueRequests(t *testing.T) {
	eng, repo := newTestEngine(t)
	a := mustUser(t, repo, "alice")
	b := mustUser(t, repo, "bob")
	if err := repo.PutPolicy(quorumPolicy(uuid.New(), OpAddUser, []uuid.UUID{a.ID, b.ID}, 2)); err != nil {
		t.Fatalf("put policy: %v", err)
	}

	ctx := Context{IsController: true}
	req, err := eng.CreateRequest(ctx, CreateRequestInput{
		RequestedBy:  a.ID,
		Operation:    RequestOperation{Kind: OpAddUser, Input: map[string]any{"name": "someone"}},
		ExpirationAt: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	fc := eng.Clock.(*collab.FixedClock)
	fc.Advance(time.Hour)

	if err := eng.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, _ := repo.RequestByID(req.ID)
	if got.Status.Kind != StatusRejected {
		t.Fatalf("expected an overdue request to be rejected as expired, got %s", got.Status.Kind)
	}
}

func TestCreateRequestRequiresAuthorization(t *testing.T) {
	eng, repo := newTestEngine(t)
	outsider := mustUser(t, repo, "outsider")

	ctx := Context{Principal: Principal(outsider.Name)}
	_, err := eng.CreateRequest(ctx, CreateRequestInput{
		RequestedBy: outsider.ID,
		Operation:   RequestOperation{Kind: OpAddUser, Input: map[string]any{"name": "someone"}},
	})
	if err == nil {
		t.Fatalf("expected a user with no Request::Create permission to be denied")
	}
}
