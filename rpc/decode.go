package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"stationd/native/station"

	"github.com/google/uuid"
)

// decodeInput turns the wire-level "input" object of a create_request
// call into the map[string]any shape station.RequestOperation.Input
// expects, recognizing the handful of field names that carry
// station-native types (ids, rule trees, permission allow-lists,
// specifiers, resources) instead of plain JSON scalars. Every other
// field is kept as whatever encoding/json already produced for it
// (string, bool, float64, []any, map[string]any).
func decodeInput(raw map[string]json.RawMessage) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for key, msg := range raw {
		switch key {
		case "target_ids":
			ids, err := decodeUUIDList(msg)
			if err != nil {
				return nil, fmt.Errorf("target_ids: %w", err)
			}
			out[key] = ids
		case "groups", "owners":
			ids, err := decodeUUIDList(msg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = ids
		case "identities", "labels", "standards":
			list, err := decodeStringList(msg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = list
		case "metadata":
			entries, err := decodeMetadata(msg)
			if err != nil {
				return nil, fmt.Errorf("metadata: %w", err)
			}
			out[key] = entries
		case "decimals":
			var v uint32
			if err := json.Unmarshal(msg, &v); err != nil {
				return nil, fmt.Errorf("decimals: %w", err)
			}
			out[key] = v
		case "account_id", "group_id", "asset_id", "policy_id", "named_rule_id":
			id, err := decodeUUID(msg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = id
		case "rule":
			var w ruleWire
			if err := json.Unmarshal(msg, &w); err != nil {
				return nil, fmt.Errorf("rule: %w", err)
			}
			rule, err := w.toRule()
			if err != nil {
				return nil, fmt.Errorf("rule: %w", err)
			}
			out[key] = rule
		case "allow":
			var w permissionAllowWire
			if err := json.Unmarshal(msg, &w); err != nil {
				return nil, fmt.Errorf("allow: %w", err)
			}
			allow, err := w.toAllow()
			if err != nil {
				return nil, fmt.Errorf("allow: %w", err)
			}
			out[key] = allow
		case "resource":
			var w resourceWire
			if err := json.Unmarshal(msg, &w); err != nil {
				return nil, fmt.Errorf("resource: %w", err)
			}
			out[key] = w.toResource()
		case "specifier":
			var w specifierWire
			if err := json.Unmarshal(msg, &w); err != nil {
				return nil, fmt.Errorf("specifier: %w", err)
			}
			spec, err := w.toSpecifier()
			if err != nil {
				return nil, fmt.Errorf("specifier: %w", err)
			}
			out[key] = spec
		case "wasm_module", "arg":
			data, err := decodeBase64(msg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = data
		case "amount", "fee":
			var v uint64
			if err := json.Unmarshal(msg, &v); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = v
		default:
			var v any
			if err := json.Unmarshal(msg, &v); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = v
		}
	}
	return out, nil
}

func decodeUUID(msg json.RawMessage) (uuid.UUID, error) {
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return uuid.UUID{}, err
	}
	return uuid.Parse(s)
}

func decodeUUIDList(msg json.RawMessage) ([]uuid.UUID, error) {
	var raw []string
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func decodeBase64(msg json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(s)
}

func decodeStringList(msg json.RawMessage) ([]string, error) {
	var out []string
	if err := json.Unmarshal(msg, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// metadataEntryWire is the wire shape of a station.MetadataEntry.
type metadataEntryWire struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func decodeMetadata(msg json.RawMessage) ([]station.MetadataEntry, error) {
	var raw []metadataEntryWire
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	out := make([]station.MetadataEntry, 0, len(raw))
	for _, e := range raw {
		out = append(out, station.MetadataEntry{Key: e.Key, Value: e.Value})
	}
	return out, nil
}

// ruleWire is the JSON shape of a station.RequestPolicyRule tree.
type ruleWire struct {
	Kind        string              `json:"kind"`
	Specifier   *userSpecifierWire  `json:"specifier,omitempty"`
	MinApproved uint16              `json:"min_approved,omitempty"`
	Percent     uint8               `json:"percent,omitempty"`
	MetadataKey string              `json:"metadata_key,omitempty"`
	MetadataVal string              `json:"metadata_val,omitempty"`
	Children    []ruleWire          `json:"children,omitempty"`
	Child       *ruleWire           `json:"child,omitempty"`
	NamedRuleID string              `json:"named_rule_id,omitempty"`
}

var ruleKindByName = map[string]station.RuleKind{
	"auto_approved":           station.RuleAutoApproved,
	"quorum":                  station.RuleQuorum,
	"quorum_percentage":       station.RuleQuorumPercentage,
	"allow_listed":            station.RuleAllowListed,
	"allow_listed_by_metadata": station.RuleAllowListedByMetadata,
	"and":                     station.RuleAnd,
	"or":                      station.RuleOr,
	"not":                     station.RuleNot,
	"named_rule_ref":          station.RuleNamedRuleRef,
}

func (w ruleWire) toRule() (station.RequestPolicyRule, error) {
	kind, ok := ruleKindByName[w.Kind]
	if !ok {
		return station.RequestPolicyRule{}, fmt.Errorf("unknown rule kind %q", w.Kind)
	}
	rule := station.RequestPolicyRule{
		Kind:        kind,
		MinApproved: w.MinApproved,
		Percent:     w.Percent,
		MetadataKey: w.MetadataKey,
		MetadataVal: w.MetadataVal,
	}
	if w.Specifier != nil {
		spec, err := w.Specifier.toSpecifier()
		if err != nil {
			return station.RequestPolicyRule{}, err
		}
		rule.Specifier = spec
	}
	for _, c := range w.Children {
		child, err := c.toRule()
		if err != nil {
			return station.RequestPolicyRule{}, err
		}
		rule.Children = append(rule.Children, child)
	}
	if w.Child != nil {
		child, err := w.Child.toRule()
		if err != nil {
			return station.RequestPolicyRule{}, err
		}
		rule.Child = &child
	}
	if w.NamedRuleID != "" {
		id, err := uuid.Parse(w.NamedRuleID)
		if err != nil {
			return station.RequestPolicyRule{}, err
		}
		rule.NamedRuleID = id
	}
	return rule, nil
}

type userSpecifierWire struct {
	Kind   string   `json:"kind"`
	Groups []string `json:"groups,omitempty"`
	Users  []string `json:"users,omitempty"`
}

var userSpecifierKindByName = map[string]station.UserSpecifierKind{
	"any":      station.SpecifierAny,
	"group":    station.SpecifierGroup,
	"id":       station.SpecifierID,
	"owner":    station.SpecifierOwner,
	"proposer": station.SpecifierProposer,
}

func (w userSpecifierWire) toSpecifier() (station.UserSpecifier, error) {
	kind, ok := userSpecifierKindByName[w.Kind]
	if !ok {
		return station.UserSpecifier{}, fmt.Errorf("unknown user specifier kind %q", w.Kind)
	}
	spec := station.UserSpecifier{Kind: kind}
	for _, s := range w.Groups {
		id, err := uuid.Parse(s)
		if err != nil {
			return station.UserSpecifier{}, err
		}
		spec.Groups = append(spec.Groups, id)
	}
	for _, s := range w.Users {
		id, err := uuid.Parse(s)
		if err != nil {
			return station.UserSpecifier{}, err
		}
		spec.Users = append(spec.Users, id)
	}
	return spec, nil
}

type permissionAllowWire struct {
	Scope  string   `json:"scope"`
	Users  []string `json:"users,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

var authScopeByName = map[string]station.AuthScope{
	"public":        station.ScopePublic,
	"authenticated": station.ScopeAuthenticated,
	"restricted":    station.ScopeRestricted,
}

func (w permissionAllowWire) toAllow() (station.PermissionAllow, error) {
	scope, ok := authScopeByName[w.Scope]
	if !ok {
		return station.PermissionAllow{}, fmt.Errorf("unknown auth scope %q", w.Scope)
	}
	allow := station.PermissionAllow{Scope: scope}
	if len(w.Users) > 0 {
		allow.Users = make(map[uuid.UUID]struct{}, len(w.Users))
		for _, s := range w.Users {
			id, err := uuid.Parse(s)
			if err != nil {
				return station.PermissionAllow{}, err
			}
			allow.Users[id] = struct{}{}
		}
	}
	if len(w.Groups) > 0 {
		allow.Groups = make(map[uuid.UUID]struct{}, len(w.Groups))
		for _, s := range w.Groups {
			id, err := uuid.Parse(s)
			if err != nil {
				return station.PermissionAllow{}, err
			}
			allow.Groups[id] = struct{}{}
		}
	}
	return allow, nil
}

type resourceWire struct {
	Kind   string `json:"kind"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
	Any    bool   `json:"any,omitempty"`
}

var resourceKindByName = map[string]station.ResourceKind{
	"user":              station.ResourceUser,
	"account":           station.ResourceAccount,
	"address_book":      station.ResourceAddressBook,
	"permission":        station.ResourcePermission,
	"request_policy":    station.ResourceRequestPolicy,
	"user_group":        station.ResourceUserGroup,
	"request":           station.ResourceRequest,
	"system":            station.ResourceSystem,
	"external_canister": station.ResourceExternalCanister,
	"asset":             station.ResourceAsset,
	"named_rule":        station.ResourceNamedRule,
	"notification":      station.ResourceNotification,
}

var resourceActionByName = map[string]station.ResourceAction{
	"list":              station.ActionList,
	"create":            station.ActionCreate,
	"read":              station.ActionRead,
	"update":            station.ActionUpdate,
	"delete":            station.ActionDelete,
	"account_transfer":  station.ActionAccountTransfer,
	"canister_status":   station.ActionCanisterStatus,
}

func (w resourceWire) toResource() station.Resource {
	r := station.Resource{Kind: resourceKindByName[w.Kind], Action: resourceActionByName[w.Action]}
	if w.Any || w.ID == "" {
		r.ID = station.AnyID()
		return r
	}
	if id, err := uuid.Parse(w.ID); err == nil {
		r.ID = station.IDOf(id)
	} else {
		r.ID = station.AnyID()
	}
	return r
}

type specifierWire struct {
	Operation string   `json:"operation"`
	Kind      string   `json:"kind"`
	IDs       []string `json:"ids,omitempty"`
}

var specifierKindByName = map[string]station.RequestSpecifierKind{
	"operation_kind": station.SpecifierOperationKind,
	"operation_ids":  station.SpecifierOperationIDs,
}

func (w specifierWire) toSpecifier() (station.RequestSpecifier, error) {
	op, ok := operationKindByName[w.Operation]
	if !ok {
		return station.RequestSpecifier{}, fmt.Errorf("unknown operation kind %q", w.Operation)
	}
	kind, ok := specifierKindByName[w.Kind]
	if !ok {
		return station.RequestSpecifier{}, fmt.Errorf("unknown specifier kind %q", w.Kind)
	}
	spec := station.RequestSpecifier{Operation: op, Kind: kind}
	for _, s := range w.IDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return station.RequestSpecifier{}, err
		}
		spec.IDs = append(spec.IDs, id)
	}
	return spec, nil
}

// operationKindByName maps the wire operation-kind names accepted by
// create_request to station.OperationKind. Kept in one place since both
// handleCreateRequest and specifierWire.toSpecifier need it.
var operationKindByName = map[string]station.OperationKind{
	"add_user": station.OpAddUser, "edit_user": station.OpEditUser, "remove_user": station.OpRemoveUser,
	"add_user_group": station.OpAddUserGroup, "edit_user_group": station.OpEditUserGroup, "remove_user_group": station.OpRemoveUserGroup,
	"add_account": station.OpAddAccount, "edit_account": station.OpEditAccount, "remove_account": station.OpRemoveAccount,
	"add_address_book_entry": station.OpAddAddressBookEntry, "edit_address_book_entry": station.OpEditAddressBookEntry, "remove_address_book_entry": station.OpRemoveAddressBookEntry,
	"add_asset": station.OpAddAsset, "edit_asset": station.OpEditAsset, "remove_asset": station.OpRemoveAsset,
	"add_named_rule": station.OpAddNamedRule, "edit_named_rule": station.OpEditNamedRule, "remove_named_rule": station.OpRemoveNamedRule,
	"edit_permission": station.OpEditPermission,
	"add_request_policy": station.OpAddRequestPolicy, "edit_request_policy": station.OpEditRequestPolicy, "remove_request_policy": station.OpRemoveRequestPolicy,
	"transfer": station.OpTransfer,
	"system_upgrade": station.OpSystemUpgrade,
	"create_external_canister": station.OpCreateExternalCanister, "change_external_canister": station.OpChangeExternalCanister,
	"call_external_canister": station.OpCallExternalCanister, "fund_external_canister": station.OpFundExternalCanister,
	"snapshot_external_canister": station.OpSnapshotExternalCanister, "restore_external_canister": station.OpRestoreExternalCanister,
	"prune_external_canister": station.OpPruneExternalCanister,
	"manage_system_info": station.OpManageSystemInfo,
	"set_disaster_recovery": station.OpSetDisasterRecovery,
}

func parseUint(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }
