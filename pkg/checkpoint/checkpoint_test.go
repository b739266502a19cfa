package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointManager(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	key := Key("user_videos", "alice")

	t.Run("CreateAndLoad", func(t *testing.T) {
		mgr, err := NewManager(key)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}

		cp, err := mgr.Create("user_videos", "alice")
		if err != nil {
			t.Fatalf("Failed to create checkpoint: %v", err)
		}
		if cp.Key != key {
			t.Errorf("Expected key %s, got %s", key, cp.Key)
		}

		loaded, err := mgr.Load()
		if err != nil {
			t.Fatalf("Failed to load checkpoint: %v", err)
		}
		if loaded == nil {
			t.Fatal("Expected checkpoint, got nil")
		}
		if loaded.Target != "alice" || loaded.Kind != "user_videos" {
			t.Errorf("Unexpected checkpoint target %s/%s", loaded.Kind, loaded.Target)
		}
	})

	t.Run("Advance", func(t *testing.T) {
		mgr, err := NewManager(key)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		cp, err := mgr.Create("user_videos", "alice")
		if err != nil {
			t.Fatalf("Failed to create checkpoint: %v", err)
		}

		if !cp.MarkWritten("v1") {
			t.Error("Expected first write of v1 to be new")
		}
		if cp.MarkWritten("v1") {
			t.Error("Expected second write of v1 to be a duplicate")
		}
		if err := mgr.Advance(cp, "cursor30", 30); err != nil {
			t.Fatalf("Failed to advance: %v", err)
		}
		if err := mgr.Advance(cp, "cursor60", 30); err != nil {
			t.Fatalf("Failed to advance: %v", err)
		}

		loaded, err := mgr.Load()
		if err != nil {
			t.Fatalf("Failed to load checkpoint: %v", err)
		}
		if loaded.Cursor != "cursor60" {
			t.Errorf("Expected cursor cursor60, got %s", loaded.Cursor)
		}
		if loaded.Pages != 2 || loaded.Items != 60 {
			t.Errorf("Expected 2 pages and 60 items, got %d and %d", loaded.Pages, loaded.Items)
		}
		if !loaded.Written["v1"] {
			t.Error("Expected v1 to be recorded as written")
		}
	})

	t.Run("DeleteAndMissing", func(t *testing.T) {
		mgr, err := NewManager(key)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		if _, err := mgr.Create("user_videos", "alice"); err != nil {
			t.Fatalf("Failed to create checkpoint: %v", err)
		}
		if !mgr.Exists() {
			t.Fatal("Expected checkpoint to exist")
		}
		if err := mgr.Delete(); err != nil {
			t.Fatalf("Failed to delete checkpoint: %v", err)
		}
		if mgr.Exists() {
			t.Error("Expected checkpoint to be deleted")
		}

		loaded, err := mgr.Load()
		if err != nil {
			t.Fatalf("Load of a missing checkpoint failed: %v", err)
		}
		if loaded != nil {
			t.Error("Expected nil checkpoint after delete")
		}
		info, err := mgr.Info()
		if err != nil || info != nil {
			t.Errorf("Expected no info, got %v (%v)", info, err)
		}
		if err := mgr.Delete(); err != nil {
			t.Errorf("Deleting a missing checkpoint should succeed: %v", err)
		}
	})
}

func TestCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManagerAt(dir, "broken")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.checkpoint.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}
	if _, err := mgr.Load(); err == nil {
		t.Error("Expected decode error for corrupt checkpoint")
	}
}

func TestKeySanitizesTarget(t *testing.T) {
	cases := map[string]string{
		"alice":          "user_videos-alice",
		"a.b_c-d":        "user_videos-a.b_c-d",
		"../etc/passwd":  "user_videos-.._etc_passwd",
		"tag with space": "user_videos-tag_with_space",
	}
	for target, want := range cases {
		if got := Key("user_videos", target); got != want {
			t.Errorf("Key(%q) = %q, want %q", target, got, want)
		}
	}
}
