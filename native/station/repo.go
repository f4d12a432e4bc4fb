package station

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"stationd/storage"

	"github.com/google/uuid"
)

// valueIndex is a single-valued secondary index: at most one entity id
// per key. insert/remove follow a Value{previous,current} discipline:
// the previous key (if any) is cleared before the new one is set.
type valueIndex map[string]uuid.UUID

func (idx valueIndex) set(previous, current string, id uuid.UUID) {
	if previous != "" && previous != current {
		delete(idx, previous)
	}
	if current != "" {
		idx[current] = id
	}
}

func (idx valueIndex) cleanup(key string) { delete(idx, key) }

// listIndex is a many-valued secondary index: a key maps to a set of
// entity ids. set() diffs previous vs. current key sets and applies the
// delta, per the List{previous,current} discipline.
type listIndex map[string]map[uuid.UUID]struct{}

func (idx listIndex) add(key string, id uuid.UUID) {
	if key == "" {
		return
	}
	bucket, ok := idx[key]
	if !ok {
		bucket = make(map[uuid.UUID]struct{})
		idx[key] = bucket
	}
	bucket[id] = struct{}{}
}

func (idx listIndex) remove(key string, id uuid.UUID) {
	bucket, ok := idx[key]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(idx, key)
	}
}

func (idx listIndex) set(previousKeys, currentKeys []string, id uuid.UUID) {
	prevSet := make(map[string]struct{}, len(previousKeys))
	for _, k := range previousKeys {
		prevSet[k] = struct{}{}
	}
	curSet := make(map[string]struct{}, len(currentKeys))
	for _, k := range currentKeys {
		curSet[k] = struct{}{}
	}
	for k := range prevSet {
		if _, stillThere := curSet[k]; !stillThere {
			idx.remove(k, id)
		}
	}
	for k := range curSet {
		idx.add(k, id)
	}
}

func (idx listIndex) cleanup(keys []string, id uuid.UUID) {
	for _, k := range keys {
		idx.remove(k, id)
	}
}

func (idx listIndex) ids(key string) []uuid.UUID {
	bucket := idx[key]
	ids := make([]uuid.UUID, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	return ids
}

// Repositories is the process-wide, owned aggregate of every entity
// store, refreshed behind a controlled-mutation facade per the design
// note on global mutable repositories: since scheduling is cooperative
// single-threaded, a mutex is enough, but every mutation path updates its
// indexes before returning so readers never see a partially-indexed
// write.
type Repositories struct {
	mu sync.RWMutex
	db storage.Database

	users      map[uuid.UUID]*User
	userByIdentity valueIndex
	userByName     valueIndex
	userByGroup    listIndex

	groups map[uuid.UUID]*UserGroup

	accounts map[uuid.UUID]*Account

	addressBook        map[uuid.UUID]*AddressBookEntry
	addressBookByKey   valueIndex

	assets map[uuid.UUID]*Asset

	permissions map[string]*Permission

	policies         map[uuid.UUID]*RequestPolicy
	policyBySpecKind listIndex

	namedRules     map[uuid.UUID]*NamedRule
	namedRuleByName valueIndex

	requests           map[uuid.UUID]*Request
	reqByRequester     listIndex
	reqByApprover      listIndex
	reqByAccount       listIndex
	reqByStatus        listIndex
	reqByOperationKind listIndex
	reqByScheduledAt   listIndex // key: RFC3339 truncated to the minute, coarse bucket for range scans
	reqByExpiration    listIndex

	notifications map[uuid.UUID]*Notification
}

// NewRepositories constructs an empty aggregate backed by db for
// durability: writes are persisted to db when it is non-nil. Stored rows
// are never read back, so a new aggregate starts empty even over a db
// holding a prior run's state.
func NewRepositories(db storage.Database) *Repositories {
	return &Repositories{
		db:                 db,
		users:              make(map[uuid.UUID]*User),
		userByIdentity:     make(valueIndex),
		userByName:         make(valueIndex),
		userByGroup:        make(listIndex),
		groups:             make(map[uuid.UUID]*UserGroup),
		accounts:           make(map[uuid.UUID]*Account),
		addressBook:        make(map[uuid.UUID]*AddressBookEntry),
		addressBookByKey:   make(valueIndex),
		assets:             make(map[uuid.UUID]*Asset),
		permissions:        make(map[string]*Permission),
		policies:           make(map[uuid.UUID]*RequestPolicy),
		policyBySpecKind:   make(listIndex),
		namedRules:         make(map[uuid.UUID]*NamedRule),
		namedRuleByName:    make(valueIndex),
		requests:           make(map[uuid.UUID]*Request),
		reqByRequester:     make(listIndex),
		reqByApprover:      make(listIndex),
		reqByAccount:       make(listIndex),
		reqByStatus:        make(listIndex),
		reqByOperationKind: make(listIndex),
		reqByScheduledAt:   make(listIndex),
		reqByExpiration:    make(listIndex),
		notifications:      make(map[uuid.UUID]*Notification),
	}
}

// --- persistence helpers ---

func storageKey(kind string, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s/%s", kind, id))
}

func (r *Repositories) persist(kind string, id uuid.UUID, v any) error {
	if r.db == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.db.Put(storageKey(kind, id), data)
}

func (r *Repositories) tombstone(kind string, id uuid.UUID) error {
	if r.db == nil {
		return nil
	}
	return r.db.Delete(storageKey(kind, id))
}

// --- Users ---

func timeBucket(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Minute).Format(time.RFC3339)
}

func (r *Repositories) PutUser(u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior, existed := r.users[u.ID]
	r.users[u.ID] = u

	var priorName string
	var priorGroups []string
	if existed {
		priorName = prior.FoldedName()
		priorGroups = groupKeys(prior.Groups)
	}
	r.userByName.set(priorName, u.FoldedName(), u.ID)
	for identity := range u.Identities {
		r.userByIdentity.set("", string(identity), u.ID)
	}
	if existed {
		for identity := range prior.Identities {
			if _, stillPresent := u.Identities[identity]; !stillPresent {
				r.userByIdentity.cleanup(string(identity))
			}
		}
	}
	r.userByGroup.set(priorGroups, groupKeys(u.Groups), u.ID)

	return r.persist("user", u.ID, u)
}

func groupKeys(groups map[uuid.UUID]struct{}) []string {
	keys := make([]string, 0, len(groups))
	for g := range groups {
		keys = append(keys, g.String())
	}
	return keys
}

func (r *Repositories) UserByID(id uuid.UUID) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	return u, ok
}

func (r *Repositories) UserByIdentity(p Principal) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.userByIdentity[string(p)]
	if !ok {
		return nil, false
	}
	u, ok := r.users[id]
	return u, ok
}

func (r *Repositories) UserByName(name string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	folded := (&User{Name: name}).FoldedName()
	id, ok := r.userByName[folded]
	if !ok {
		return nil, false
	}
	u, ok := r.users[id]
	return u, ok
}

func (r *Repositories) ActiveUsers() []*User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		if u.Status == UserStatusActive {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (r *Repositories) UserExists(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[id]
	return ok
}

func (r *Repositories) AllUsers() []*User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// --- UserGroups ---

func (r *Repositories) PutGroup(g *UserGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.ID] = g
	return r.persist("group", g.ID, g)
}

func (r *Repositories) GroupByID(id uuid.UUID) (*UserGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	return g, ok
}

func (r *Repositories) GroupExists(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[id]
	return ok
}

// RemoveGroup enforces that ADMIN_GROUP_ID may never be deleted, and that
// no group may be deleted while any user still references it.
func (r *Repositories) RemoveGroup(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == ADMINGroupID {
		return fmt.Errorf("admin group may not be deleted")
	}
	if len(r.userByGroup.ids(id.String())) > 0 {
		return fmt.Errorf("group %s still referenced by users", id)
	}
	delete(r.groups, id)
	return r.tombstone("group", id)
}

// --- Accounts ---

func (r *Repositories) PutAccount(a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = a
	return r.persist("account", a.ID, a)
}

func (r *Repositories) AccountByID(id uuid.UUID) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	return a, ok
}

func (r *Repositories) AccountExists(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[id]
	return ok
}

func (r *Repositories) AllAccounts() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// --- AddressBook ---

func addressBookKey(blockchain, address string) string { return blockchain + "|" + address }

func (r *Repositories) PutAddressBookEntry(e *AddressBookEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior, existed := r.addressBook[e.ID]
	var priorKey string
	if existed {
		priorKey = addressBookKey(prior.Blockchain, prior.Address)
	}
	currentKey := addressBookKey(e.Blockchain, e.Address)
	if existing, taken := r.addressBookByKey[currentKey]; taken && existing != e.ID {
		return fmt.Errorf("address %s already registered for blockchain %s", e.Address, e.Blockchain)
	}

	r.addressBook[e.ID] = e
	r.addressBookByKey.set(priorKey, currentKey, e.ID)
	return r.persist("address_book", e.ID, e)
}

func (r *Repositories) AddressBookEntry(blockchain, address string) (*AddressBookEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.addressBookByKey[addressBookKey(blockchain, address)]
	if !ok {
		return nil, false
	}
	e, ok := r.addressBook[id]
	return e, ok
}

func (r *Repositories) AddressBookEntryByID(id uuid.UUID) (*AddressBookEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.addressBook[id]
	return e, ok
}

func (r *Repositories) RemoveAddressBookEntry(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.addressBook[id]; ok {
		r.addressBookByKey.cleanup(addressBookKey(e.Blockchain, e.Address))
	}
	delete(r.addressBook, id)
	return r.tombstone("address_book", id)
}

// --- Assets ---

func (r *Repositories) PutAsset(a *Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[a.ID] = a
	return r.persist("asset", a.ID, a)
}

func (r *Repositories) AssetByID(id uuid.UUID) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[id]
	return a, ok
}

func (r *Repositories) RemoveAsset(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assets, id)
	return r.tombstone("asset", id)
}

// --- Permissions ---

func resourceKey(r Resource) string {
	if r.ID.Any {
		return fmt.Sprintf("%d/%d/any", r.Kind, r.Action)
	}
	return fmt.Sprintf("%d/%d/%s", r.Kind, r.Action, r.ID.ID)
}

func (r *Repositories) PutPermission(p *Permission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := resourceKey(p.Resource)
	r.permissions[key] = p
	if r.db == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.db.Put([]byte("permission/"+key), data)
}

func (r *Repositories) GetPermission(res Resource) (*Permission, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.permissions[resourceKey(res)]
	return p, ok
}

func (r *Repositories) AllPermissions() []*Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Permission, 0, len(r.permissions))
	for _, p := range r.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return resourceKey(out[i].Resource) < resourceKey(out[j].Resource) })
	return out
}

// --- RequestPolicies ---

func specifierKindKey(s RequestSpecifier) string { return fmt.Sprintf("%d", s.Operation) }

func (r *Repositories) PutPolicy(p *RequestPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior, existed := r.policies[p.ID]
	var priorKey string
	if existed {
		priorKey = specifierKindKey(prior.Specifier)
	}
	r.policies[p.ID] = p
	r.policyBySpecKind.set(nonEmpty(priorKey), nonEmpty(specifierKindKey(p.Specifier)), p.ID)
	return r.persist("policy", p.ID, p)
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

func (r *Repositories) PolicyByID(id uuid.UUID) (*RequestPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	return p, ok
}

func (r *Repositories) PolicyExists(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.policies[id]
	return ok
}

func (r *Repositories) RemovePolicy(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.policies[id]; ok {
		r.policyBySpecKind.remove(specifierKindKey(p.Specifier), id)
	}
	delete(r.policies, id)
	return r.tombstone("policy", id)
}

func (r *Repositories) AllPolicies() []*RequestPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RequestPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// PoliciesMatching finds every policy whose specifier matches r,
// narrowed first by the operation-kind index.
func (r *Repositories) PoliciesMatching(req *Request) []*RequestPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.policyBySpecKind.ids(fmt.Sprintf("%d", req.Operation.Kind))
	out := make([]*RequestPolicy, 0, len(ids))
	for _, id := range ids {
		p, ok := r.policies[id]
		if ok && p.Specifier.Matches(req) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// --- NamedRules ---

func (r *Repositories) PutNamedRule(n *NamedRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior, existed := r.namedRules[n.ID]
	var priorName string
	if existed {
		priorName = prior.FoldedName()
	}
	r.namedRules[n.ID] = n
	r.namedRuleByName.set(priorName, n.FoldedName(), n.ID)
	return r.persist("named_rule", n.ID, n)
}

func (r *Repositories) NamedRuleByID(id uuid.UUID) (*NamedRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.namedRules[id]
	return n, ok
}

func (r *Repositories) NamedRuleLookup(id uuid.UUID) (*NamedRule, bool) { return r.NamedRuleByID(id) }

func (r *Repositories) NamedRuleExists(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.namedRules[id]
	return ok
}

func (r *Repositories) RemoveNamedRule(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.namedRules[id]; ok {
		r.namedRuleByName.cleanup(n.FoldedName())
	}
	delete(r.namedRules, id)
	return r.tombstone("named_rule", id)
}

func (r *Repositories) AllNamedRules() []*NamedRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*NamedRule, 0, len(r.namedRules))
	for _, n := range r.namedRules {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// --- Requests ---

func (r *Repositories) PutRequest(req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putRequestLocked(req)
}

func (r *Repositories) putRequestLocked(req *Request) error {
	prior, existed := r.requests[req.ID]
	r.requests[req.ID] = req

	var priorApprovers, priorAccounts []string
	var priorStatus, priorSched, priorExp string
	if existed {
		priorApprovers = approverKeys(prior.Approvals)
		priorAccounts = accountRefKeys(prior.Operation)
		priorStatus = prior.Status.Kind.String()
		priorSched = timeBucket(prior.Status.ScheduledAt)
		priorExp = timeBucket(prior.ExpirationAt)
	}

	r.reqByRequester.set(nonEmpty(requesterKeyOf(prior, existed)), []string{req.RequestedBy.String()}, req.ID)
	r.reqByApprover.set(priorApprovers, approverKeys(req.Approvals), req.ID)
	r.reqByAccount.set(priorAccounts, accountRefKeys(req.Operation), req.ID)
	r.reqByStatus.set(nonEmpty(priorStatus), nonEmpty(req.Status.Kind.String()), req.ID)
	r.reqByOperationKind.add(fmt.Sprintf("%d", req.Operation.Kind), req.ID)
	r.reqByScheduledAt.set(nonEmpty(priorSched), nonEmpty(timeBucket(req.Status.ScheduledAt)), req.ID)
	r.reqByExpiration.set(nonEmpty(priorExp), nonEmpty(timeBucket(req.ExpirationAt)), req.ID)

	return r.persist("request", req.ID, req)
}

func requesterKeyOf(prior *Request, existed bool) string {
	if !existed || prior == nil {
		return ""
	}
	return prior.RequestedBy.String()
}

func approverKeys(approvals []Approval) []string {
	keys := make([]string, 0, len(approvals))
	for _, a := range approvals {
		keys = append(keys, a.ApproverID.String())
	}
	return keys
}

func accountRefKeys(op RequestOperation) []string {
	if id, ok := op.Input["account_id"].(uuid.UUID); ok {
		return []string{id.String()}
	}
	return nil
}

func (r *Repositories) RequestByID(id uuid.UUID) (*Request, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	return req, ok
}

func (r *Repositories) RequestsByStatus(kind RequestStatusKind) []*Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.reqByStatus.ids(kind.String())
	out := make([]*Request, 0, len(ids))
	for _, id := range ids {
		if req, ok := r.requests[id]; ok {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (r *Repositories) AllRequests() []*Request {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Request, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (r *Repositories) UserCanVoteOn(req *Request, userID uuid.UUID) bool {
	ev := &Evaluator{State: r}
	return ev.CanVote(req, userID)
}

// --- Notifications ---

func (r *Repositories) PutNotification(n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[n.ID] = n
	return r.persist("notification", n.ID, n)
}

func (r *Repositories) NotificationByID(id uuid.UUID) (*Notification, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifications[id]
	return n, ok
}
