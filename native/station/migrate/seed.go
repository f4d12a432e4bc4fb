package migrate

import (
	"stationd/native/station"

	"github.com/google/uuid"
)

// adminQuorumRule returns the rule every baseline policy defaults to:
// one approval from the admin group is sufficient. Baselines favor a
// permissive default over locking operators out on first boot; real
// deployments are expected to replace these via AddRequestPolicy once
// they have their own group structure.
func adminQuorumRule() station.RequestPolicyRule {
	return station.RequestPolicyRule{
		Kind:        station.RuleQuorum,
		MinApproved: 1,
		Specifier:   station.UserSpecifier{Kind: station.SpecifierGroup, Groups: []uuid.UUID{station.ADMINGroupID}},
	}
}

// v1Operations enumerates the operation kinds a freshly initialized
// station (stable_memory_version 1) has a default policy for. Named
// rules get their policies in v2's migration; request-policy
// operations get a seeded policy in neither version.
var v1Operations = []station.OperationKind{
	station.OpAddUser, station.OpEditUser, station.OpRemoveUser,
	station.OpAddUserGroup, station.OpEditUserGroup, station.OpRemoveUserGroup,
	station.OpAddAccount, station.OpEditAccount, station.OpRemoveAccount,
	station.OpAddAddressBookEntry, station.OpEditAddressBookEntry, station.OpRemoveAddressBookEntry,
	station.OpAddAsset, station.OpEditAsset, station.OpRemoveAsset,
	station.OpTransfer,
	station.OpSystemUpgrade,
	station.OpManageSystemInfo,
}

// v2ExtraOperations are the additional operation kinds v2 brings under
// policy: the add/edit/remove lifecycle of named rules. Request-policy
// operations are not among them.
var v2ExtraOperations = []station.OperationKind{
	station.OpAddNamedRule, station.OpEditNamedRule, station.OpRemoveNamedRule,
}

func seedPolicies(ids *sequentialIDs, ops []station.OperationKind) []*station.RequestPolicy {
	out := make([]*station.RequestPolicy, 0, len(ops))
	for _, op := range ops {
		out = append(out, &station.RequestPolicy{
			ID:        ids.next(),
			Specifier: station.RequestSpecifier{Operation: op, Kind: station.SpecifierOperationKind},
			Rule:      adminQuorumRule(),
		})
	}
	return out
}

// seedPermissions grants the admin group full CRUD-shaped rights over
// every resource kind this baseline manages, using the narrowest action
// set meaningful for that kind (e.g. accounts additionally get the
// domain-specific Transfer action; external canisters get Status).
func seedPermissions(ids *sequentialIDs) []*station.Permission {
	kinds := []struct {
		kind    station.ResourceKind
		actions []station.ResourceAction
	}{
		{station.ResourceUser, []station.ResourceAction{station.ActionList, station.ActionCreate, station.ActionRead, station.ActionUpdate, station.ActionDelete}},
		{station.ResourceUserGroup, []station.ResourceAction{station.ActionList, station.ActionCreate, station.ActionRead, station.ActionUpdate, station.ActionDelete}},
		{station.ResourceAccount, []station.ResourceAction{station.ActionList, station.ActionCreate, station.ActionRead, station.ActionUpdate, station.ActionDelete, station.ActionAccountTransfer}},
		{station.ResourceAddressBook, []station.ResourceAction{station.ActionList, station.ActionCreate, station.ActionRead, station.ActionUpdate, station.ActionDelete}},
		{station.ResourceAsset, []station.ResourceAction{station.ActionList, station.ActionCreate, station.ActionRead, station.ActionUpdate, station.ActionDelete}},
		{station.ResourcePermission, []station.ResourceAction{station.ActionRead, station.ActionUpdate}},
		{station.ResourceRequestPolicy, []station.ResourceAction{station.ActionList, station.ActionCreate, station.ActionRead, station.ActionUpdate, station.ActionDelete}},
		{station.ResourceRequest, []station.ResourceAction{station.ActionList, station.ActionCreate, station.ActionRead, station.ActionUpdate}},
		{station.ResourceSystem, []station.ResourceAction{station.ActionRead, station.ActionUpdate}},
		{station.ResourceExternalCanister, []station.ResourceAction{station.ActionList, station.ActionCreate, station.ActionRead, station.ActionUpdate, station.ActionDelete, station.ActionCanisterStatus}},
		{station.ResourceNotification, []station.ResourceAction{station.ActionList, station.ActionRead, station.ActionUpdate}},
	}

	var out []*station.Permission
	for _, k := range kinds {
		for _, a := range k.actions {
			out = append(out, &station.Permission{
				Resource: station.Resource{Kind: k.kind, Action: a, ID: station.AnyID()},
				Allow: station.PermissionAllow{
					Scope:  station.ScopeRestricted,
					Groups: map[uuid.UUID]struct{}{station.ADMINGroupID: {}},
				},
			})
		}
	}
	_ = ids // permissions are keyed by resource, not by a fresh id
	return out
}

// seedV2NamedRules introduces the first reusable named rule: the same
// one-of-admins quorum every v1 policy inlined, now addressable by id so
// later policies can reference it instead of repeating the rule body.
func seedV2NamedRules(ids *sequentialIDs) []*station.NamedRule {
	return []*station.NamedRule{
		{
			ID:          ids.next(),
			Name:        "Admin approval",
			Description: "One approval from any member of the administrator group",
			Rule:        adminQuorumRule(),
		},
	}
}

// seedV2Asset introduces the Internet Computer's native token as the
// baseline's first known asset, matching the "ICP asset seed" baseline.
func seedV2Asset(ids *sequentialIDs) *station.Asset {
	return &station.Asset{
		ID:         ids.next(),
		Blockchain: "icp",
		Symbol:     "ICP",
		Name:       "Internet Computer",
		Decimals:   8,
		Standards:  []string{"icrc1"},
	}
}

// sequentialIDs hands out deterministic ids during migration seeding, so
// re-running EnsureVersion against an already-migrated store is a no-op
// (the version gate short-circuits) rather than minting fresh ids on
// every boot.
type sequentialIDs struct {
	namespace uuid.UUID
	counter   uint64
}

func newSequentialIDs(namespace uuid.UUID) *sequentialIDs {
	return &sequentialIDs{namespace: namespace}
}

func (s *sequentialIDs) next() uuid.UUID {
	s.counter++
	var seed [8]byte
	c := s.counter
	for i := 0; i < 8; i++ {
		seed[7-i] = byte(c >> (8 * i))
	}
	return uuid.NewSHA1(s.namespace, seed[:])
}
