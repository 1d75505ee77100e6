package group

import (
	"path/filepath"
	"testing"
)

func TestRegistryPutGetRemove(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))

	entry := RegistryEntry{GroupID: "g_000000000001", Title: "crew", Path: "/groups/g_000000000001"}
	if err := reg.Put(entry); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := reg.Get("g_000000000001")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Title != "crew" || got.CreatedAt == "" {
		t.Errorf("entry = %+v", got)
	}

	created := got.CreatedAt
	entry.Title = "renamed"
	if err := reg.Put(entry); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	got, _, _ = reg.Get("g_000000000001")
	if got.Title != "renamed" {
		t.Error("update did not stick")
	}
	if got.CreatedAt != created {
		t.Error("update must preserve created_at")
	}

	if err := reg.Remove("g_000000000001"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := reg.Get("g_000000000001"); ok {
		t.Error("entry survived removal")
	}
}

func TestRegistryDefaults(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	if err := reg.Put(RegistryEntry{GroupID: "g_1", Path: "/g1"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetDefault("s_aaaaaaaaaaaa", "g_1"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	gid, ok, err := reg.DefaultFor("s_aaaaaaaaaaaa")
	if err != nil || !ok || gid != "g_1" {
		t.Fatalf("DefaultFor = %q ok=%v err=%v", gid, ok, err)
	}

	// Removing the group clears defaults that point at it.
	if err := reg.Remove("g_1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := reg.DefaultFor("s_aaaaaaaaaaaa"); ok {
		t.Error("default survived group removal")
	}
}

func TestRegistryMissingFile(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	all, err := reg.All()
	if err != nil {
		t.Fatalf("All on missing file: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected empty registry, got %d entries", len(all))
	}
}
