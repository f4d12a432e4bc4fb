// Package station implements the treasury and governance engine: the
// request lifecycle, the policy evaluator, the permission engine, and the
// repositories and operation executors that sit behind them.
package station

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Principal is an opaque caller identity supplied by the host.
type Principal string

// UserStatus is the activity state of a User.
type UserStatus int

const (
	UserStatusUnspecified UserStatus = iota
	UserStatusActive
	UserStatusInactive
)

func (s UserStatus) String() string {
	switch s {
	case UserStatusActive:
		return "active"
	case UserStatusInactive:
		return "inactive"
	default:
		return "unspecified"
	}
}

// ADMINGroupID is the distinguished administrator group created at
// initialization. It may never be deleted while any user still
// references it.
var ADMINGroupID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// User is a registered operator of the station.
type User struct {
	ID               uuid.UUID
	Name             string
	Identities       map[Principal]struct{}
	Groups           map[uuid.UUID]struct{}
	Status           UserStatus
	LastModification time.Time
}

// FoldedName returns the case-folded form used for uniqueness checks.
func (u *User) FoldedName() string { return strings.ToLower(strings.TrimSpace(u.Name)) }

// UserGroup is a named collection of users used by specifiers and
// permissions.
type UserGroup struct {
	ID               uuid.UUID
	Name             string
	LastModification time.Time
}

func (g *UserGroup) FoldedName() string { return strings.ToLower(strings.TrimSpace(g.Name)) }

// MetadataEntry is a typed key/value pair, matching the original
// station's address-book and account metadata representation (a list of
// pairs rather than a free map, so AllowListedByMetadata can match on an
// exact pair without key collisions).
type MetadataEntry struct {
	Key   string
	Value string
}

func hasMetadataPair(entries []MetadataEntry, key, value string) bool {
	for _, e := range entries {
		if e.Key == key && e.Value == value {
			return true
		}
	}
	return false
}

// Account is a managed asset holder. Balance is materialized lazily by
// the Blockchain Adapter collaborator and is not itself authoritative
// state here.
type Account struct {
	ID               uuid.UUID
	Name             string
	Blockchain       string
	Standard         string
	Symbol           string
	Decimals         uint32
	Address          string
	Metadata         []MetadataEntry
	Owners           map[uuid.UUID]struct{}
	TransferPolicyID *uuid.UUID
	ConfigsPolicyID  *uuid.UUID
	LastModification time.Time
}

// AddressBookEntry records a known destination address for a blockchain.
// (Blockchain, Address) is unique.
type AddressBookEntry struct {
	ID           uuid.UUID
	Blockchain   string
	Address      string
	AddressOwner string
	Labels       []string
	Metadata     []MetadataEntry
}

// Asset describes a supported token/coin kind.
type Asset struct {
	ID        uuid.UUID
	Blockchain string
	Symbol    string
	Name      string
	Decimals  uint32
	Standards []string
	Metadata  []MetadataEntry
}

// AuthScope is the coarse gate on a Permission.
type AuthScope int

const (
	ScopePublic AuthScope = iota
	ScopeAuthenticated
	ScopeRestricted
)

// PermissionAllow is the allow-list a Permission evaluates against when
// its scope is Restricted.
type PermissionAllow struct {
	Scope  AuthScope
	Users  map[uuid.UUID]struct{}
	Groups map[uuid.UUID]struct{}
}

// Permission is keyed by Resource; exactly one record exists per key.
type Permission struct {
	Resource Resource
	Allow    PermissionAllow
}

// ResourceKind tags the domain kind a Resource refers to.
type ResourceKind int

const (
	ResourceUser ResourceKind = iota
	ResourceAccount
	ResourceAddressBook
	ResourcePermission
	ResourceRequestPolicy
	ResourceUserGroup
	ResourceRequest
	ResourceSystem
	ResourceExternalCanister
	ResourceAsset
	ResourceNamedRule
	ResourceNotification
)

// ResourceAction is the action side of a Resource key.
type ResourceAction int

const (
	ActionList ResourceAction = iota
	ActionCreate
	ActionRead
	ActionUpdate
	ActionDelete
	ActionAccountTransfer // domain-specific: Account::Transfer(id)
	ActionCanisterStatus  // domain-specific: ExternalCanister::Status(id)
)

// ResourceID is either Any or a concrete Id.
type ResourceID struct {
	Any bool
	ID  uuid.UUID
}

// AnyID returns the Any resource id.
func AnyID() ResourceID { return ResourceID{Any: true} }

// IDOf wraps a concrete id.
func IDOf(id uuid.UUID) ResourceID { return ResourceID{ID: id} }

// Resource is the authorization key: (kind, action, optional id).
type Resource struct {
	Kind   ResourceKind
	Action ResourceAction
	ID     ResourceID
}

// RequestStatusKind enumerates the request lifecycle's discriminant.
type RequestStatusKind int

const (
	StatusCreated RequestStatusKind = iota
	StatusApproved
	StatusRejected
	StatusScheduled
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (k RequestStatusKind) String() string {
	switch k {
	case StatusCreated:
		return "created"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusScheduled:
		return "scheduled"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RequestStatus carries the discriminant plus whichever payload fields
// that status requires.
type RequestStatus struct {
	Kind          RequestStatusKind
	ScheduledAt   time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
	Reason        string
}

// IsTerminal reports whether no further transitions are permitted.
func (s RequestStatus) IsTerminal() bool {
	switch s.Kind {
	case StatusCompleted, StatusFailed, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// ApprovalDecision is a user's vote on a request.
type ApprovalDecision int

const (
	ApprovalApproved ApprovalDecision = iota
	ApprovalRejected
)

// Approval records one user's vote. A user appears at most once per
// request.
type Approval struct {
	ApproverID uuid.UUID
	Decision   ApprovalDecision
	DecidedAt  time.Time
	Reason     string
}

// ExecutionPlanKind selects Immediate vs. Scheduled execution.
type ExecutionPlanKind int

const (
	PlanImmediate ExecutionPlanKind = iota
	PlanScheduled
)

// ExecutionPlan is the caller-supplied scheduling preference.
type ExecutionPlan struct {
	Kind ExecutionPlanKind
	At   time.Time // only meaningful when Kind == PlanScheduled
}

// OperationKind enumerates the ~30 operation kinds a Request can carry.
type OperationKind int

const (
	OpAddUser OperationKind = iota
	OpEditUser
	OpRemoveUser
	OpAddUserGroup
	OpEditUserGroup
	OpRemoveUserGroup
	OpAddAccount
	OpEditAccount
	OpRemoveAccount
	OpAddAddressBookEntry
	OpEditAddressBookEntry
	OpRemoveAddressBookEntry
	OpAddAsset
	OpEditAsset
	OpRemoveAsset
	OpAddNamedRule
	OpEditNamedRule
	OpRemoveNamedRule
	OpEditPermission
	OpAddRequestPolicy
	OpEditRequestPolicy
	OpRemoveRequestPolicy
	OpTransfer
	OpSystemUpgrade
	OpCreateExternalCanister
	OpChangeExternalCanister
	OpCallExternalCanister
	OpFundExternalCanister
	OpSnapshotExternalCanister
	OpRestoreExternalCanister
	OpPruneExternalCanister
	OpManageSystemInfo
	OpSetDisasterRecovery
)

var operationNames = map[OperationKind]string{
	OpAddUser:                  "AddUser",
	OpEditUser:                 "EditUser",
	OpRemoveUser:               "RemoveUser",
	OpAddUserGroup:             "AddUserGroup",
	OpEditUserGroup:            "EditUserGroup",
	OpRemoveUserGroup:          "RemoveUserGroup",
	OpAddAccount:               "AddAccount",
	OpEditAccount:              "EditAccount",
	OpRemoveAccount:            "RemoveAccount",
	OpAddAddressBookEntry:      "AddAddressBookEntry",
	OpEditAddressBookEntry:     "EditAddressBookEntry",
	OpRemoveAddressBookEntry:   "RemoveAddressBookEntry",
	OpAddAsset:                 "AddAsset",
	OpEditAsset:                "EditAsset",
	OpRemoveAsset:              "RemoveAsset",
	OpAddNamedRule:             "AddNamedRule",
	OpEditNamedRule:            "EditNamedRule",
	OpRemoveNamedRule:          "RemoveNamedRule",
	OpEditPermission:           "EditPermission",
	OpAddRequestPolicy:         "AddRequestPolicy",
	OpEditRequestPolicy:        "EditRequestPolicy",
	OpRemoveRequestPolicy:      "RemoveRequestPolicy",
	OpTransfer:                 "Transfer",
	OpSystemUpgrade:            "SystemUpgrade",
	OpCreateExternalCanister:   "CreateExternalCanister",
	OpChangeExternalCanister:   "ChangeExternalCanister",
	OpCallExternalCanister:     "CallExternalCanister",
	OpFundExternalCanister:     "FundExternalCanister",
	OpSnapshotExternalCanister: "SnapshotExternalCanister",
	OpRestoreExternalCanister:  "RestoreExternalCanister",
	OpPruneExternalCanister:    "PruneExternalCanister",
	OpManageSystemInfo:         "ManageSystemInfo",
	OpSetDisasterRecovery:      "SetDisasterRecovery",
}

func (k OperationKind) String() string {
	if name, ok := operationNames[k]; ok {
		return name
	}
	return "Unknown"
}

// RequestOperation is the tagged-union payload of a Request. Input holds
// the operation-kind-specific parameters as supplied at creation time;
// Result holds post-execution fields populated by the executor on
// success (e.g. the allocated id of a newly created entity).
type RequestOperation struct {
	Kind   OperationKind
	Input  map[string]any
	Result map[string]any
}

// TargetIDs extracts the ids this operation edits/removes/transfers, used
// by specifier matching and by the Owner user-specifier resolution. Not
// every operation carries target ids (Add* operations do not).
func (op RequestOperation) TargetIDs() []uuid.UUID {
	raw, ok := op.Input["target_ids"]
	if !ok {
		return nil
	}
	ids, ok := raw.([]uuid.UUID)
	if !ok {
		return nil
	}
	return ids
}

// Request is a durable, signed-off unit of intent to perform a
// privileged operation.
type Request struct {
	ID              uuid.UUID
	RequestedBy     uuid.UUID
	Operation       RequestOperation
	Title           string
	Summary         string
	Status          RequestStatus
	CreatedAt       time.Time
	ExpirationAt    time.Time
	ExecutionPlan   ExecutionPlan
	Approvals       []Approval
	PolicySnapshot  []RequestPolicyRuleResult
}

// HasApprovalFrom reports whether user already voted, and if so, what.
func (r *Request) HasApprovalFrom(userID uuid.UUID) (Approval, bool) {
	for _, a := range r.Approvals {
		if a.ApproverID == userID {
			return a, true
		}
	}
	return Approval{}, false
}

// UserSpecifierKind enumerates ways of naming a set of users.
type UserSpecifierKind int

const (
	SpecifierAny UserSpecifierKind = iota
	SpecifierGroup
	SpecifierID
	SpecifierOwner
	SpecifierProposer
)

// UserSpecifier selects a set of users relevant to a rule or a resource
// expansion.
type UserSpecifier struct {
	Kind   UserSpecifierKind
	Groups []uuid.UUID
	Users  []uuid.UUID
}

// RequestSpecifier selects which requests a RequestPolicy governs.
type RequestSpecifierKind int

const (
	SpecifierOperationKind RequestSpecifierKind = iota // matches any request of this kind
	SpecifierOperationIDs                               // matches only requests editing one of these target ids
)

type RequestSpecifier struct {
	Operation OperationKind
	Kind      RequestSpecifierKind
	IDs       []uuid.UUID // meaningful only when Kind == SpecifierOperationIDs; empty means Any
}

// Matches reports whether this specifier governs request r.
func (s RequestSpecifier) Matches(r *Request) bool {
	if s.Operation != r.Operation.Kind {
		return false
	}
	if s.Kind == SpecifierOperationKind || len(s.IDs) == 0 {
		return true
	}
	targets := r.Operation.TargetIDs()
	for _, want := range s.IDs {
		for _, got := range targets {
			if want == got {
				return true
			}
		}
	}
	return false
}

// RuleStatus is the evaluation verdict of a RequestPolicyRule.
type RuleStatus int

const (
	RuleApproved RuleStatus = iota
	RuleRejected
	RulePending
)

func (s RuleStatus) String() string {
	switch s {
	case RuleApproved:
		return "approved"
	case RuleRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// RequestPolicyRuleResult is the per-policy evaluation record persisted
// into a Request's policy_snapshot.
type RequestPolicyRuleResult struct {
	PolicyID      uuid.UUID
	Status        RuleStatus
	EvaluatedRule RequestPolicyRule
}

// RuleKind tags the RequestPolicyRule tagged union.
type RuleKind int

const (
	RuleAutoApproved RuleKind = iota
	RuleQuorum
	RuleQuorumPercentage
	RuleAllowListed
	RuleAllowListedByMetadata
	RuleAnd
	RuleOr
	RuleNot
	RuleNamedRuleRef
)

// RequestPolicyRule is the recursive algebraic rule type. Only the
// fields relevant to Kind are populated.
type RequestPolicyRule struct {
	Kind         RuleKind
	Specifier    UserSpecifier // Quorum, QuorumPercentage
	MinApproved  uint16        // Quorum
	Percent      uint8         // QuorumPercentage, 0..=100
	MetadataKey  string        // AllowListedByMetadata
	MetadataVal  string        // AllowListedByMetadata
	Children     []RequestPolicyRule // And, Or
	Child        *RequestPolicyRule  // Not
	NamedRuleID  uuid.UUID           // NamedRule
}

// MaxRuleDepth bounds recursion during validation, guarding against
// unbounded recursion from maliciously deep And/Or/Not trees.
const MaxRuleDepth = 32

// RequestPolicy maps a RequestSpecifier to a RequestPolicyRule.
type RequestPolicy struct {
	ID        uuid.UUID
	Specifier RequestSpecifier
	Rule      RequestPolicyRule
}

// NamedRule is a reusable, named rule body referenced by id from other
// rules/policies. The induced reference graph must stay acyclic.
type NamedRule struct {
	ID          uuid.UUID
	Name        string
	Description string
	Rule        RequestPolicyRule
}

func (n *NamedRule) FoldedName() string { return strings.ToLower(strings.TrimSpace(n.Name)) }

// Notification targets a single user with a point-in-time message about
// a request or system event.
type Notification struct {
	ID        uuid.UUID
	TargetID  uuid.UUID
	Title     string
	Message   string
	CreatedAt time.Time
	Read      bool
}
