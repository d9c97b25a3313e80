package storage

import (
	"context"
	"testing"

	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
)

func TestMemoryConfigExactlyOneActive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a, err := m.CreateConfig(ctx, config.Configuration{UserID: "u1", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.CreateConfig(ctx, config.Configuration{UserID: "u1", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.GetConfig(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive {
		t.Fatalf("expected first config to be deactivated once a second active config is created")
	}

	active, err := m.GetActiveConfig(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != b.ID {
		t.Fatalf("expected config %s active, got %s", b.ID, active.ID)
	}
}

func TestMemoryRepositoryUpsertIsKeyedByNormalizedFullName(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.UpsertRepository(ctx, repoFixture("u1", "Acme/Widget"))
	if err != nil {
		t.Fatal(err)
	}

	second, err := m.UpsertRepository(ctx, repoFixture("u1", "acme/widget"))
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected upsert to match existing repository by normalized full name, got new id %s vs %s", second.ID, first.ID)
	}

	list, err := m.ListRepositories(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one repository, got %d", len(list))
	}
}

func TestMemoryJobAppendCompletedItemIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	j, err := m.CreateJob(ctx, jobFixture("u1", []string{"r1", "r2", "r3"}))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		j, err = m.AppendCompletedItem(ctx, j.ID, "r1", j.LastCheckpoint)
		if err != nil {
			t.Fatal(err)
		}
	}

	if j.CompletedItems != 1 {
		t.Fatalf("expected completedItems=1 after repeated append of same item, got %d", j.CompletedItems)
	}
	if !j.Invariant() {
		t.Fatalf("job invariant violated: %+v", j)
	}
}
