package typed_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aretw0/beacon/pkg/adapters/fs"
	"github.com/aretw0/beacon/pkg/core"
	"github.com/aretw0/beacon/pkg/typed"
)

type Limits struct {
	CPU    float64 `json:"cpu"`
	Memory string  `json:"memory"`
}

type AppConfig struct {
	Name     string   `json:"name"`
	Replicas int      `json:"replicas"`
	Hosts    []string `json:"hosts"`
	Limits   Limits   `json:"limits"`
}

func setupStore(t *testing.T) *fs.Store {
	t.Helper()
	store, err := fs.NewStore(fs.Config{
		Path:         t.TempDir(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		PollInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = store.Close(ctx)
	})
	return store
}

func TestTypedRepository(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	apps := typed.NewRepository[AppConfig](store, core.FormatYAML)

	api := &typed.Document[AppConfig]{
		Name: "app_api",
		Data: AppConfig{
			Name:     "api",
			Replicas: 3,
			Hosts:    []string{"a", "b"},
			Limits:   Limits{CPU: 0.5, Memory: "256Mi"},
		},
	}
	if err := apps.Save(ctx, api); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if api.Saver == nil {
		t.Error("Save should attach the repository as saver")
	}

	got, err := apps.Get(ctx, "app_api")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Data.Replicas != 3 || got.Data.Limits.Memory != "256Mi" || len(got.Data.Hosts) != 2 {
		t.Errorf("unexpected round trip: %+v", got.Data)
	}
	if got.Meta["format"] != "yaml" {
		t.Errorf("expected yaml format in metadata, got %v", got.Meta["format"])
	}

	// Active record style.
	got.Data.Replicas = 5
	if err := got.Save(ctx); err != nil {
		t.Fatalf("document Save failed: %v", err)
	}

	worker := &typed.Document[AppConfig]{Name: "app_worker", Data: AppConfig{Name: "worker", Replicas: 1}}
	if err := apps.Save(ctx, worker); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(ctx, "unrelated", core.Body{"x": 1}, ""); err != nil {
		t.Fatal(err)
	}

	list, err := apps.List(ctx, "app_*")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(list))
	}
	if list[0].Name != "app_api" || list[0].Data.Replicas != 5 {
		t.Errorf("unexpected first document: %+v", list[0])
	}

	removed, err := apps.Delete(ctx, "app_worker", false)
	if err != nil || !removed {
		t.Fatalf("Delete failed: removed=%v err=%v", removed, err)
	}
	if _, err := apps.Get(ctx, "app_worker"); err == nil {
		t.Error("expected not found after delete")
	}
}

func TestTypedRepository_DecodeError(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, "app_bad", core.Body{"replicas": "many"}, ""); err != nil {
		t.Fatal(err)
	}

	apps := typed.NewRepository[AppConfig](store, "")
	if _, err := apps.Get(ctx, "app_bad"); err == nil {
		t.Error("expected decode error for mismatched type")
	}
}

func TestTypedRepository_Watch(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	apps := typed.NewRepository[AppConfig](store, "")

	if err := apps.Save(ctx, &typed.Document[AppConfig]{Name: "app_api", Data: AppConfig{Replicas: 1}}); err != nil {
		t.Fatal(err)
	}

	changes := make(chan int, 4)
	err := apps.Watch("app_api", func(_ context.Context, doc *typed.Document[AppConfig]) error {
		changes <- doc.Data.Replicas
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Let the mtime move past the initial write.
	time.Sleep(1100 * time.Millisecond)
	if err := apps.Save(ctx, &typed.Document[AppConfig]{Name: "app_api", Data: AppConfig{Replicas: 7}}); err != nil {
		t.Fatal(err)
	}

	select {
	case replicas := <-changes:
		if replicas != 7 {
			t.Errorf("expected 7 replicas, got %d", replicas)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for typed watch")
	}
}
