package migrate

import (
	"context"
	"testing"

	"stationd/native/station"
	"stationd/storage"
)

func TestEnsureVersionSeedsFromScratch(t *testing.T) {
	db := storage.NewMemDB()
	repos := station.NewRepositories(db)

	if err := EnsureVersion(context.Background(), db, repos); err != nil {
		t.Fatalf("ensure version: %v", err)
	}

	v, err := readVersion(db)
	if err != nil {
		t.Fatalf("read version: %v", err)
	}
	if v != CurrentVersion {
		t.Fatalf("expected stable_memory_version %d, got %d", CurrentVersion, v)
	}

	if _, ok := repos.GroupByID(station.ADMINGroupID); !ok {
		t.Fatalf("expected the admin group to be seeded")
	}
	if len(repos.AllPolicies()) == 0 {
		t.Fatalf("expected baseline policies to be seeded")
	}
	if len(repos.AllNamedRules()) == 0 {
		t.Fatalf("expected v2 to seed at least one named rule")
	}
}

func TestEnsureVersionIsIdempotent(t *testing.T) {
	db := storage.NewMemDB()
	repos := station.NewRepositories(db)

	if err := EnsureVersion(context.Background(), db, repos); err != nil {
		t.Fatalf("first ensure version: %v", err)
	}
	policiesAfterFirst := len(repos.AllPolicies())

	if err := EnsureVersion(context.Background(), db, repos); err != nil {
		t.Fatalf("second ensure version: %v", err)
	}
	if len(repos.AllPolicies()) != policiesAfterFirst {
		t.Fatalf("expected re-running EnsureVersion against an already-migrated store to be a no-op")
	}
}

func TestEnsureVersionResumesFromPersistedVersion(t *testing.T) {
	db := storage.NewMemDB()
	repos := station.NewRepositories(db)

	if err := migrateV0ToV1(repos); err != nil {
		t.Fatalf("migrate v0->v1: %v", err)
	}
	if err := writeVersion(db, 1); err != nil {
		t.Fatalf("write version: %v", err)
	}

	if err := EnsureVersion(context.Background(), db, repos); err != nil {
		t.Fatalf("ensure version: %v", err)
	}
	v, err := readVersion(db)
	if err != nil {
		t.Fatalf("read version: %v", err)
	}
	if v != CurrentVersion {
		t.Fatalf("expected resuming from version 1 to complete the remaining steps, got %d", v)
	}
}
