package station

import (
	"fmt"

	"stationd/core/errors"

	"github.com/google/uuid"
)

// ReferenceChecker groups the existence checks cross-referential
// validation needs, declaratively, per the design note suggesting each
// entity validator lists its own required references. Implemented by
// Repositories.
type ReferenceChecker interface {
	UserExists(id uuid.UUID) bool
	GroupExists(id uuid.UUID) bool
	AccountExists(id uuid.UUID) bool
	PolicyExists(id uuid.UUID) bool
	NamedRuleExists(id uuid.UUID) bool
	NamedRuleLookup(id uuid.UUID) (*NamedRule, bool)
	AllPolicies() []*RequestPolicy
	AllNamedRules() []*NamedRule
}

// EnsureExists runs a short-circuiting existence check, returning a
// Validation error naming the first failing reference.
func EnsureExists(entity string, id uuid.UUID, exists bool) error {
	if exists {
		return nil
	}
	return errors.Validation("REFERENCE_NOT_FOUND", fmt.Sprintf("%s %s does not exist", entity, id))
}

// reservedCanisterIDs are canister ids CallExternalCanister may never
// target: the station itself, its upgrader, the management canister, and
// the ledger.
var reservedCanisterIDs = map[string]struct{}{
	"station":    {},
	"upgrader":   {},
	"management": {},
	"ledger":     {},
}

// ValidateCallExternalCanister rejects calls into reserved canisters.
func ValidateCallExternalCanister(canisterRef string) error {
	if _, reserved := reservedCanisterIDs[canisterRef]; reserved {
		return errors.Validation("RESERVED_CANISTER", fmt.Sprintf("canister %q is reserved", canisterRef))
	}
	return nil
}

// ValidatePermissionRefs checks that every user/group named in a
// Permission's allow-list exists. This is only enforced when the
// Permission is being *written*; once stored, a later
// deletion of a referenced user/group is permitted and the reference
// silently becomes a no-op.
func ValidatePermissionRefs(rc ReferenceChecker, allow PermissionAllow) error {
	for u := range allow.Users {
		if err := EnsureExists("User", u, rc.UserExists(u)); err != nil {
			return err
		}
	}
	for g := range allow.Groups {
		if err := EnsureExists("UserGroup", g, rc.GroupExists(g)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRequestSpecifierRefs checks the ids named by an
// operation-ids specifier (e.g. EditAccount(Ids([a]))) resolve to
// existing accounts when the operation concerns accounts.
func ValidateRequestSpecifierRefs(rc ReferenceChecker, spec RequestSpecifier) error {
	if spec.Kind != SpecifierOperationIDs {
		return nil
	}
	if spec.Operation != OpEditAccount && spec.Operation != OpTransfer {
		return nil
	}
	for _, id := range spec.IDs {
		if err := EnsureExists("Account", id, rc.AccountExists(id)); err != nil {
			return err
		}
	}
	return nil
}

// namedRuleChildren returns the NamedRule ids directly referenced by
// rule (not transitively).
func namedRuleChildren(rule RequestPolicyRule) []uuid.UUID {
	switch rule.Kind {
	case RuleNamedRuleRef:
		return []uuid.UUID{rule.NamedRuleID}
	case RuleAnd, RuleOr:
		var ids []uuid.UUID
		for _, c := range rule.Children {
			ids = append(ids, namedRuleChildren(c)...)
		}
		return ids
	case RuleNot:
		if rule.Child == nil {
			return nil
		}
		return namedRuleChildren(*rule.Child)
	default:
		return nil
	}
}

// ValidateNamedRuleEdit runs the three checks required before storing an
// Add/Edit of NamedRule id with new rule body rule (named-rule
// integrity):
//  1. no cycle in the induced reference graph
//  2. no live policy transitively referencing id becomes structurally
//     invalid under rule
//  3. name is unique under case-folding
func ValidateNamedRuleEdit(rc ReferenceChecker, id uuid.UUID, name string, rule RequestPolicyRule) error {
	for _, existing := range rc.AllNamedRules() {
		if existing.ID == id {
			continue
		}
		if existing.FoldedName() == foldName(name) {
			return errors.Validation("NAME_NOT_UNIQUE", fmt.Sprintf("named rule name %q already in use", name))
		}
	}

	if err := detectCycle(rc, id, rule); err != nil {
		return err
	}

	if err := checkLinkedPolicyCompatibility(rc, id, rule); err != nil {
		return err
	}

	return nil
}

func foldName(s string) string {
	n := NamedRule{Name: s}
	return n.FoldedName()
}

// detectCycle builds the edge set {id -> child ids in rule} unioned with
// all other existing named-rule edges, then DFS's with a recursion stack
// from id looking for a path back to id.
func detectCycle(rc ReferenceChecker, id uuid.UUID, rule RequestPolicyRule) error {
	edges := make(map[uuid.UUID][]uuid.UUID)
	for _, nr := range rc.AllNamedRules() {
		if nr.ID == id {
			continue
		}
		edges[nr.ID] = namedRuleChildren(nr.Rule)
	}
	edges[id] = namedRuleChildren(rule)

	visiting := make(map[uuid.UUID]bool)
	visited := make(map[uuid.UUID]bool)

	var dfs func(n uuid.UUID) bool
	dfs = func(n uuid.UUID) bool {
		if visiting[n] {
			return true
		}
		if visited[n] {
			return false
		}
		visiting[n] = true
		for _, child := range edges[n] {
			if dfs(child) {
				return true
			}
		}
		visiting[n] = false
		visited[n] = true
		return false
	}

	if dfs(id) {
		return errors.Validation("CIRCULAR_REFERENCE", fmt.Sprintf("named rule %s would introduce a cycle", id))
	}
	return nil
}

// checkLinkedPolicyCompatibility finds every live policy whose rule
// transitively references id and re-checks structural validity (e.g.
// AllowListed is only valid under a Transfer specifier) as if id's body
// were rule.
func checkLinkedPolicyCompatibility(rc ReferenceChecker, id uuid.UUID, rule RequestPolicyRule) error {
	for _, p := range rc.AllPolicies() {
		if !referencesNamedRule(rc, p.Rule, id, make(map[uuid.UUID]bool)) {
			continue
		}
		if err := validateRuleForSpecifier(rc, p.Rule, p.Specifier, id, rule); err != nil {
			return errors.ValidationWithDetails("INCOMPATIBLE_WITH_LINKED_POLICY", err.Error(), map[string]string{
				"policy_id": p.ID.String(),
			})
		}
	}
	return nil
}

func referencesNamedRule(rc ReferenceChecker, rule RequestPolicyRule, target uuid.UUID, seen map[uuid.UUID]bool) bool {
	switch rule.Kind {
	case RuleNamedRuleRef:
		if rule.NamedRuleID == target {
			return true
		}
		if seen[rule.NamedRuleID] {
			return false
		}
		seen[rule.NamedRuleID] = true
		nr, ok := rc.NamedRuleLookup(rule.NamedRuleID)
		if !ok {
			return false
		}
		return referencesNamedRule(rc, nr.Rule, target, seen)
	case RuleAnd, RuleOr:
		for _, c := range rule.Children {
			if referencesNamedRule(rc, c, target, seen) {
				return true
			}
		}
		return false
	case RuleNot:
		if rule.Child == nil {
			return false
		}
		return referencesNamedRule(rc, *rule.Child, target, seen)
	default:
		return false
	}
}

// validateRuleForSpecifier walks policyRule, and wherever it finds a
// reference to replacedID (directly, or transitively through another
// NamedRule's body), substitutes replacement and checks that every
// AllowListed/AllowListedByMetadata leaf in the resulting tree is only
// used under a Transfer specifier.
func validateRuleForSpecifier(rc ReferenceChecker, policyRule RequestPolicyRule, spec RequestSpecifier, replacedID uuid.UUID, replacement RequestPolicyRule) error {
	effective := substitute(rc, policyRule, replacedID, replacement, make(map[uuid.UUID]bool), 0)
	return validateAllowListedUsage(effective, spec)
}

// substitute mirrors referencesNamedRule's traversal: a NamedRuleRef
// that isn't target is resolved through rc.NamedRuleLookup and replaced
// by its own (recursively substituted) body, so a replacement made deep
// inside an intermediate NamedRule is still visible in the effective
// tree. seen guards against re-entering a NamedRule already expanded on
// this path.
func substitute(rc ReferenceChecker, rule RequestPolicyRule, target uuid.UUID, replacement RequestPolicyRule, seen map[uuid.UUID]bool, depth int) RequestPolicyRule {
	if depth > MaxRuleDepth {
		return rule
	}
	switch rule.Kind {
	case RuleNamedRuleRef:
		if rule.NamedRuleID == target {
			return replacement
		}
		if seen[rule.NamedRuleID] {
			return rule
		}
		nr, ok := rc.NamedRuleLookup(rule.NamedRuleID)
		if !ok {
			return rule
		}
		seen[rule.NamedRuleID] = true
		return substitute(rc, nr.Rule, target, replacement, seen, depth+1)
	case RuleAnd, RuleOr:
		children := make([]RequestPolicyRule, len(rule.Children))
		for i, c := range rule.Children {
			children[i] = substitute(rc, c, target, replacement, seen, depth+1)
		}
		rule.Children = children
		return rule
	case RuleNot:
		if rule.Child != nil {
			child := substitute(rc, *rule.Child, target, replacement, seen, depth+1)
			rule.Child = &child
		}
		return rule
	default:
		return rule
	}
}

func validateAllowListedUsage(rule RequestPolicyRule, spec RequestSpecifier) error {
	switch rule.Kind {
	case RuleAllowListed, RuleAllowListedByMetadata:
		if spec.Operation != OpTransfer {
			return fmt.Errorf("AllowListed rule is only valid under a Transfer specifier")
		}
		return nil
	case RuleAnd, RuleOr:
		for _, c := range rule.Children {
			if err := validateAllowListedUsage(c, spec); err != nil {
				return err
			}
		}
		return nil
	case RuleNot:
		if rule.Child == nil {
			return nil
		}
		return validateAllowListedUsage(*rule.Child, spec)
	default:
		return nil
	}
}
