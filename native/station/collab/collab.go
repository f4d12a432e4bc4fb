// Package collab defines the narrow interfaces the station engine uses
// to reach every external collaborator named in the original interface
// contract (Blockchain Adapter, Canister Manager, Id source, Clock,
// Identity), plus reference in-memory implementations suitable for
// tests and single-process operation.
package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock reads. Engine code never calls time.Now
// directly; it always goes through this seam, so tests can inject a
// fixed or advancing time source.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a test double that always returns a fixed instant until
// Advance is called.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixedClock(at time.Time) *FixedClock { return &FixedClock{now: at} }

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// IDSource allocates fresh 16-byte identifiers. The production
// implementation must suspend on first call to seed cryptographic
// randomness; google/uuid handles that internally.
type IDSource interface {
	NewUUID(ctx context.Context) (uuid.UUID, error)
}

// RandomIDSource wraps uuid.NewRandom.
type RandomIDSource struct{}

func (RandomIDSource) NewUUID(ctx context.Context) (uuid.UUID, error) {
	return uuid.NewRandom()
}

// SequentialIDSource is a deterministic test double producing
// predictable ids in order.
type SequentialIDSource struct {
	mu   sync.Mutex
	next uint64
}

func (s *SequentialIDSource) NewUUID(ctx context.Context) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	var b [16]byte
	for i := 0; i < 8; i++ {
		b[15-i] = byte(s.next >> (8 * i))
	}
	id, err := uuid.FromBytes(b[:])
	return id, err
}

// Identity resolves the current caller.
type Identity interface {
	Caller(ctx context.Context) (string, error)
	IsController(ctx context.Context) (bool, error)
}

// StaticIdentity is a test double returning a fixed principal.
type StaticIdentity struct {
	Principal    string
	IsController_ bool
}

func (s StaticIdentity) Caller(ctx context.Context) (string, error) { return s.Principal, nil }
func (s StaticIdentity) IsController(ctx context.Context) (bool, error) {
	return s.IsController_, nil
}

// TransferID identifies a submitted blockchain transfer.
type TransferID string

// Transfer is the validated hand-off the request engine gives to the
// Blockchain Adapter once a Transfer operation executes.
type Transfer struct {
	Account uuid.UUID
	To      string
	Amount  uint64
	Fee     uint64
	Memo    string
}

// Balance is a lazily materialized account balance.
type Balance struct {
	Amount   uint64
	AsOf     time.Time
}

// BlockchainAdapter is the out-of-scope collaborator that actually
// moves funds; the request engine only ever hands it a validated
// Transfer and records what comes back.
type BlockchainAdapter interface {
	SubmitTransfer(ctx context.Context, t Transfer) (TransferID, error)
	QueryBalance(ctx context.Context, account uuid.UUID) (Balance, error)
}

// InMemoryBlockchainAdapter is a reference/test double recording every
// submitted transfer without talking to any real chain.
type InMemoryBlockchainAdapter struct {
	mu        sync.Mutex
	seq       uint64
	Transfers []Transfer
	Balances  map[uuid.UUID]Balance
}

func NewInMemoryBlockchainAdapter() *InMemoryBlockchainAdapter {
	return &InMemoryBlockchainAdapter{Balances: make(map[uuid.UUID]Balance)}
}

func (a *InMemoryBlockchainAdapter) SubmitTransfer(ctx context.Context, t Transfer) (TransferID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	a.Transfers = append(a.Transfers, t)
	return TransferID(fmt.Sprintf("tx-%d", a.seq)), nil
}

func (a *InMemoryBlockchainAdapter) QueryBalance(ctx context.Context, account uuid.UUID) (Balance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.Balances[account]
	if !ok {
		return Balance{}, fmt.Errorf("no balance known for account %s", account)
	}
	return b, nil
}

// CanisterManager is the out-of-scope collaborator for external-canister
// lifecycle mechanics (install/snapshot/restore/...).
type CanisterManager interface {
	Install(ctx context.Context, canisterID string, wasm []byte, arg []byte) error
	Reinstall(ctx context.Context, canisterID string, wasm []byte, arg []byte) error
	Upgrade(ctx context.Context, canisterID string, wasm []byte, arg []byte) error
	Start(ctx context.Context, canisterID string) error
	Stop(ctx context.Context, canisterID string) error
	Snapshot(ctx context.Context, canisterID string) (string, error)
	Restore(ctx context.Context, canisterID, snapshotID string) error
	Delete(ctx context.Context, canisterID string) error
	Status(ctx context.Context, canisterID string) (string, error)
}

// InMemoryCanisterManager is a reference/test double.
type InMemoryCanisterManager struct {
	mu        sync.Mutex
	Installed map[string]bool
	Snapshots map[string][]string
}

func NewInMemoryCanisterManager() *InMemoryCanisterManager {
	return &InMemoryCanisterManager{Installed: make(map[string]bool), Snapshots: make(map[string][]string)}
}

func (m *InMemoryCanisterManager) Install(ctx context.Context, canisterID string, wasm, arg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Installed[canisterID] = true
	return nil
}

func (m *InMemoryCanisterManager) Reinstall(ctx context.Context, canisterID string, wasm, arg []byte) error {
	return m.Install(ctx, canisterID, wasm, arg)
}

func (m *InMemoryCanisterManager) Upgrade(ctx context.Context, canisterID string, wasm, arg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Installed[canisterID] {
		return fmt.Errorf("canister %s not installed", canisterID)
	}
	return nil
}

func (m *InMemoryCanisterManager) Start(ctx context.Context, canisterID string) error { return nil }
func (m *InMemoryCanisterManager) Stop(ctx context.Context, canisterID string) error  { return nil }

func (m *InMemoryCanisterManager) Snapshot(ctx context.Context, canisterID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapID := fmt.Sprintf("%s-snap-%d", canisterID, len(m.Snapshots[canisterID])+1)
	m.Snapshots[canisterID] = append(m.Snapshots[canisterID], snapID)
	return snapID, nil
}

func (m *InMemoryCanisterManager) Restore(ctx context.Context, canisterID, snapshotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Snapshots[canisterID] {
		if s == snapshotID {
			return nil
		}
	}
	return fmt.Errorf("snapshot %s not found for canister %s", snapshotID, canisterID)
}

func (m *InMemoryCanisterManager) Delete(ctx context.Context, canisterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Installed, canisterID)
	delete(m.Snapshots, canisterID)
	return nil
}

func (m *InMemoryCanisterManager) Status(ctx context.Context, canisterID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Installed[canisterID] {
		return "running", nil
	}
	return "stopped", nil
}
