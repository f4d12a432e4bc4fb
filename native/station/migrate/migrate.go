// Package migrate gates the repository aggregate behind a
// stable_memory_version number, applying whatever sequence of seed
// migrations is needed to bring a freshly opened store up to the
// current baseline before the RPC server is allowed to start accepting
// connections. Conceptually grounded on a version-gate-before-serving
// pattern: read the persisted version, refuse to serve until every
// migration between it and CurrentVersion has run, then persist the new
// version.
package migrate

import (
	"context"
	"fmt"

	"stationd/native/station"
	"stationd/storage"

	"github.com/google/uuid"
)

// CurrentVersion is the highest stable_memory_version this build knows
// how to migrate to.
const CurrentVersion = 2

var versionKey = []byte("meta/stable_memory_version")

// migrationNamespace seeds the deterministic id generator; a fixed,
// arbitrary UUID so seeded entity ids are stable across processes.
var migrationNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// step is one migration: From must equal the store's current version
// for apply to run; after it runs successfully the store's version
// becomes To.
type step struct {
	from, to int
	apply    func(repos *station.Repositories) error
}

var steps = []step{
	{from: 0, to: 1, apply: migrateV0ToV1},
	{from: 1, to: 2, apply: migrateV1ToV2},
}

// EnsureVersion reads the store's current stable_memory_version (0 if
// never set), applies every pending step in order, and persists the new
// version after each one, so a crash mid-migration resumes from the
// last completed step rather than re-running from scratch.
func EnsureVersion(ctx context.Context, db storage.Database, repos *station.Repositories) error {
	current, err := readVersion(db)
	if err != nil {
		return fmt.Errorf("read stable_memory_version: %w", err)
	}

	for _, s := range steps {
		if current != s.from {
			continue
		}
		if err := s.apply(repos); err != nil {
			return fmt.Errorf("migration %d->%d: %w", s.from, s.to, err)
		}
		if err := writeVersion(db, s.to); err != nil {
			return fmt.Errorf("persist stable_memory_version %d: %w", s.to, err)
		}
		current = s.to
	}
	return nil
}

func readVersion(db storage.Database) (int, error) {
	data, err := db.Get(versionKey)
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return 0, nil
		}
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	return int(data[0]), nil
}

func writeVersion(db storage.Database, v int) error {
	return db.Put(versionKey, []byte{byte(v)})
}

// migrateV0ToV1 seeds the first baseline: default administration
// policies for every operation kind a bootstrap station needs, plus the
// admin group's permission grants.
func migrateV0ToV1(repos *station.Repositories) error {
	ids := newSequentialIDs(migrationNamespace)

	admin := &station.UserGroup{ID: station.ADMINGroupID, Name: "Administrators"}
	if err := repos.PutGroup(admin); err != nil {
		return err
	}

	for _, p := range seedPolicies(ids, v1Operations) {
		if err := repos.PutPolicy(p); err != nil {
			return err
		}
	}
	for _, p := range seedPermissions(ids) {
		if err := repos.PutPermission(p); err != nil {
			return err
		}
	}
	return nil
}

// migrateV1ToV2 introduces named rules as a concept (seeding the first
// reusable one), brings named-rule lifecycle operations under policy,
// and seeds the ICP asset baseline.
func migrateV1ToV2(repos *station.Repositories) error {
	ids := newSequentialIDs(migrationNamespace)
	// Offset the counter so v2's ids never collide with v1's within the
	// same deterministic namespace.
	ids.counter = 1000

	for _, nr := range seedV2NamedRules(ids) {
		if err := repos.PutNamedRule(nr); err != nil {
			return err
		}
	}
	for _, p := range seedPolicies(ids, v2ExtraOperations) {
		if err := repos.PutPolicy(p); err != nil {
			return err
		}
	}
	if err := repos.PutAsset(seedV2Asset(ids)); err != nil {
		return err
	}
	return nil
}
