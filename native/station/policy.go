package station

import (
	"fmt"

	"stationd/core/errors"

	"github.com/google/uuid"
)

// PolicyState is the read-only view the evaluator needs of live domain
// state: active users/groups, named rules, accounts, and the address
// book. It is satisfied by the Repositories aggregate (repo.go) in
// production and by hand-built fixtures in tests.
type PolicyState interface {
	ActiveUsers() []*User
	NamedRuleByID(id uuid.UUID) (*NamedRule, bool)
	AccountByID(id uuid.UUID) (*Account, bool)
	AddressBookEntry(blockchain, address string) (*AddressBookEntry, bool)
	PoliciesMatching(r *Request) []*RequestPolicy
}

// Evaluator evaluates RequestPolicyRule trees against PolicyState.
// Memoizes NamedRule lookups per (request, named rule) within a single
// pass to avoid exponential blowup from shared subrules, per the design
// note on named-rule indirection.
type Evaluator struct {
	State PolicyState
}

type evalCtx struct {
	request   *Request
	depth     int
	memo      map[uuid.UUID]RuleStatus
	approvals map[uuid.UUID]ApprovalDecision
}

func newEvalCtx(r *Request) *evalCtx {
	approvals := make(map[uuid.UUID]ApprovalDecision, len(r.Approvals))
	for _, a := range r.Approvals {
		approvals[a.ApproverID] = a.Decision
	}
	return &evalCtx{request: r, memo: make(map[uuid.UUID]RuleStatus), approvals: approvals}
}

// EvaluateRequest runs the match + evaluate phases against r and
// returns the request-level verdict plus the per-policy snapshot.
func (e *Evaluator) EvaluateRequest(r *Request) (RuleStatus, []RequestPolicyRuleResult, error) {
	matched := e.State.PoliciesMatching(r)
	if len(matched) == 0 {
		// fail-closed: no policy matches
		return RuleRejected, nil, nil
	}

	ctx := newEvalCtx(r)
	results := make([]RequestPolicyRuleResult, 0, len(matched))
	anyApproved := false
	allRejected := true

	for _, p := range matched {
		status, err := e.evalRule(ctx, p.Rule)
		if err != nil {
			return RulePending, nil, errors.Evaluate(fmt.Sprintf("policy %s: %v", p.ID, err))
		}
		results = append(results, RequestPolicyRuleResult{PolicyID: p.ID, Status: status, EvaluatedRule: p.Rule})
		if status == RuleApproved {
			anyApproved = true
		}
		if status != RuleRejected {
			allRejected = false
		}
	}

	switch {
	case anyApproved:
		return RuleApproved, results, nil
	case allRejected:
		return RuleRejected, results, nil
	default:
		return RulePending, results, nil
	}
}

func (e *Evaluator) evalRule(ctx *evalCtx, rule RequestPolicyRule) (RuleStatus, error) {
	ctx.depth++
	defer func() { ctx.depth-- }()
	if ctx.depth > MaxRuleDepth {
		return RulePending, fmt.Errorf("rule depth exceeds %d", MaxRuleDepth)
	}

	switch rule.Kind {
	case RuleAutoApproved:
		return RuleApproved, nil

	case RuleQuorum:
		status, _, err := e.evalQuorum(ctx, rule.Specifier, uint32(rule.MinApproved))
		return status, err

	case RuleQuorumPercentage:
		specifierUsers := e.resolveSpecifier(ctx, rule.Specifier)
		total := uint32(len(specifierUsers))
		n := percentToCount(rule.Percent, total)
		status, _, err := e.evalQuorumWithUsers(ctx, specifierUsers, n)
		return status, err

	case RuleAllowListed:
		return e.evalAllowListed(ctx, "", ""), nil

	case RuleAllowListedByMetadata:
		return e.evalAllowListed(ctx, rule.MetadataKey, rule.MetadataVal), nil

	case RuleAnd:
		return e.evalAnd(ctx, rule.Children)

	case RuleOr:
		return e.evalOr(ctx, rule.Children)

	case RuleNot:
		if rule.Child == nil {
			return RulePending, fmt.Errorf("Not rule missing child")
		}
		status, err := e.evalRule(ctx, *rule.Child)
		if err != nil {
			return RulePending, err
		}
		switch status {
		case RuleApproved:
			return RuleRejected, nil
		case RuleRejected:
			return RuleApproved, nil
		default:
			return RulePending, nil
		}

	case RuleNamedRuleRef:
		if cached, ok := ctx.memo[rule.NamedRuleID]; ok {
			return cached, nil
		}
		nr, ok := e.State.NamedRuleByID(rule.NamedRuleID)
		if !ok {
			return RulePending, fmt.Errorf("named rule %s not found", rule.NamedRuleID)
		}
		status, err := e.evalRule(ctx, nr.Rule)
		if err != nil {
			return RulePending, err
		}
		ctx.memo[rule.NamedRuleID] = status
		return status, nil

	default:
		return RulePending, fmt.Errorf("unknown rule kind %d", rule.Kind)
	}
}

// percentToCount computes ceil(p*T/100) clamped to [1, T] when T > 0, as
// specified for QuorumPercentage.
func percentToCount(percent uint8, total uint32) uint32 {
	if total == 0 {
		return 0
	}
	n := (uint32(percent)*total + 99) / 100
	if n < 1 {
		n = 1
	}
	if n > total {
		n = total
	}
	return n
}

// evalQuorum resolves the specifier and delegates to evalQuorumWithUsers.
// Returns whether clamping occurred as its second value, per the Open
// Question decision to flag clamped configurations.
func (e *Evaluator) evalQuorum(ctx *evalCtx, spec UserSpecifier, n uint32) (RuleStatus, bool, error) {
	users := e.resolveSpecifier(ctx, spec)
	return e.evalQuorumWithUsers(ctx, users, n)
}

func (e *Evaluator) evalQuorumWithUsers(ctx *evalCtx, specifierUsers []uuid.UUID, n uint32) (RuleStatus, bool, error) {
	total := uint32(len(specifierUsers))
	clamped := n > total
	nPrime := n
	if clamped {
		nPrime = total
	}

	var approved, rejected uint32
	for _, uid := range specifierUsers {
		if decision, voted := ctx.approvals[uid]; voted {
			if decision == ApprovalApproved {
				approved++
			} else {
				rejected++
			}
		}
	}

	if approved >= nPrime {
		return RuleApproved, clamped, nil
	}
	remaining := total - approved - rejected
	if approved+remaining < nPrime {
		return RuleRejected, clamped, nil
	}
	return RulePending, clamped, nil
}

func (e *Evaluator) evalAllowListed(ctx *evalCtx, key, value string) RuleStatus {
	if ctx.request.Operation.Kind != OpTransfer {
		return RuleRejected
	}
	accountIDRaw, ok := ctx.request.Operation.Input["account_id"]
	if !ok {
		return RuleRejected
	}
	accountID, ok := accountIDRaw.(uuid.UUID)
	if !ok {
		return RuleRejected
	}
	destRaw, ok := ctx.request.Operation.Input["destination_address"]
	if !ok {
		return RuleRejected
	}
	dest, _ := destRaw.(string)

	account, ok := e.State.AccountByID(accountID)
	if !ok {
		return RuleRejected
	}
	entry, ok := e.State.AddressBookEntry(account.Blockchain, dest)
	if !ok {
		return RuleRejected
	}
	if key == "" {
		return RuleApproved
	}
	if hasMetadataPair(entry.Metadata, key, value) {
		return RuleApproved
	}
	return RuleRejected
}

func (e *Evaluator) evalAnd(ctx *evalCtx, children []RequestPolicyRule) (RuleStatus, error) {
	allApproved := true
	for _, c := range children {
		status, err := e.evalRule(ctx, c)
		if err != nil {
			return RulePending, err
		}
		if status == RuleRejected {
			return RuleRejected, nil
		}
		if status != RuleApproved {
			allApproved = false
		}
	}
	if allApproved {
		return RuleApproved, nil
	}
	return RulePending, nil
}

func (e *Evaluator) evalOr(ctx *evalCtx, children []RequestPolicyRule) (RuleStatus, error) {
	allRejected := true
	for _, c := range children {
		status, err := e.evalRule(ctx, c)
		if err != nil {
			return RulePending, err
		}
		if status == RuleApproved {
			return RuleApproved, nil
		}
		if status != RuleRejected {
			allRejected = false
		}
	}
	if allRejected {
		return RuleRejected, nil
	}
	return RulePending, nil
}

// resolveSpecifier implements the user-specifier resolution rules.
// Owner resolves against the *old*, pre-edit, committed owners because
// ctx.request reflects committed state; the evaluator never observes
// an in-flight mutation.
func (e *Evaluator) resolveSpecifier(ctx *evalCtx, spec UserSpecifier) []uuid.UUID {
	active := e.State.ActiveUsers()

	switch spec.Kind {
	case SpecifierAny:
		ids := make([]uuid.UUID, 0, len(active))
		for _, u := range active {
			ids = append(ids, u.ID)
		}
		return ids

	case SpecifierID:
		activeSet := make(map[uuid.UUID]struct{}, len(active))
		for _, u := range active {
			activeSet[u.ID] = struct{}{}
		}
		ids := make([]uuid.UUID, 0, len(spec.Users))
		for _, id := range spec.Users {
			if _, ok := activeSet[id]; ok {
				ids = append(ids, id)
			}
		}
		return ids

	case SpecifierGroup:
		wanted := make(map[uuid.UUID]struct{}, len(spec.Groups))
		for _, g := range spec.Groups {
			wanted[g] = struct{}{}
		}
		ids := make([]uuid.UUID, 0)
		for _, u := range active {
			for g := range u.Groups {
				if _, ok := wanted[g]; ok {
					ids = append(ids, u.ID)
					break
				}
			}
		}
		return ids

	case SpecifierProposer:
		return []uuid.UUID{ctx.request.RequestedBy}

	case SpecifierOwner:
		return e.resolveOwnerSpecifier(ctx.request)

	default:
		return nil
	}
}

func (e *Evaluator) resolveOwnerSpecifier(r *Request) []uuid.UUID {
	switch r.Operation.Kind {
	case OpTransfer, OpEditAccount:
		accountIDRaw, ok := r.Operation.Input["account_id"]
		if !ok {
			return nil
		}
		accountID, ok := accountIDRaw.(uuid.UUID)
		if !ok {
			return nil
		}
		account, ok := e.State.AccountByID(accountID)
		if !ok {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(account.Owners))
		for id := range account.Owners {
			ids = append(ids, id)
		}
		return ids
	case OpEditUser:
		targets := r.Operation.TargetIDs()
		return targets
	default:
		return nil
	}
}

// CanVote implements the vote-rights evaluator (read path):
// true iff R.status = Created, u has not already voted, and some
// matched policy's rule would count u as a possible approver, evaluated
// by structural traversal substituting u into the quorum leaves and
// false for allow-list leaves.
func (e *Evaluator) CanVote(r *Request, userID uuid.UUID) bool {
	if r.Status.Kind != StatusCreated {
		return false
	}
	if _, voted := r.HasApprovalFrom(userID); voted {
		return false
	}

	for _, p := range e.State.PoliciesMatching(r) {
		if ruleCountsAsApprover(e, r, p.Rule, userID, 0) {
			return true
		}
	}
	return false
}

func ruleCountsAsApprover(e *Evaluator, r *Request, rule RequestPolicyRule, userID uuid.UUID, depth int) bool {
	if depth > MaxRuleDepth {
		return false
	}
	switch rule.Kind {
	case RuleAutoApproved:
		return false
	case RuleQuorum, RuleQuorumPercentage:
		ctx := newEvalCtx(r)
		specifierUsers := e.resolveSpecifier(ctx, rule.Specifier)
		for _, id := range specifierUsers {
			if id == userID {
				return true
			}
		}
		return false
	case RuleAllowListed, RuleAllowListedByMetadata:
		return false
	case RuleAnd, RuleOr:
		for _, c := range rule.Children {
			if ruleCountsAsApprover(e, r, c, userID, depth+1) {
				return true
			}
		}
		return false
	case RuleNot:
		if rule.Child == nil {
			return false
		}
		return ruleCountsAsApprover(e, r, *rule.Child, userID, depth+1)
	case RuleNamedRuleRef:
		nr, ok := e.State.NamedRuleByID(rule.NamedRuleID)
		if !ok {
			return false
		}
		return ruleCountsAsApprover(e, r, nr.Rule, userID, depth+1)
	default:
		return false
	}
}
