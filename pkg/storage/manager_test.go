package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestManager(t *testing.T) {
	tempDir := t.TempDir()

	manager, err := NewManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	if manager.GetSavedCount() != 0 {
		t.Error("Expected initial saved count to be 0")
	}

	if manager.IsSaved("7301") {
		t.Error("Expected IsSaved to return false for non-existent file")
	}

	testData := []byte("test video data")
	if err := manager.SaveVideo(bytes.NewReader(testData), "7301"); err != nil {
		t.Fatalf("Failed to save video: %v", err)
	}

	expectedPath := filepath.Join(tempDir, "videos", "7301.mp4")
	content, err := os.ReadFile(expectedPath)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if !bytes.Equal(content, testData) {
		t.Error("File content does not match expected data")
	}

	if !manager.IsSaved("7301") {
		t.Error("Expected IsSaved to return true for existing file")
	}

	manualFile := filepath.Join(tempDir, "videos", "7302.mp4")
	if err := os.WriteFile(manualFile, []byte("manual"), 0644); err != nil {
		t.Fatalf("Failed to create manual file: %v", err)
	}

	manager2, err := NewManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create second manager: %v", err)
	}

	if manager2.GetSavedCount() != 2 {
		t.Errorf("Expected saved count to be 2 after scanning, got %d", manager2.GetSavedCount())
	}

	if err := manager2.SaveVideo(bytes.NewReader(testData), "../escape"); err == nil {
		t.Error("Expected an id with a path separator to be rejected")
	}
}

func TestAppendRecords(t *testing.T) {
	manager, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	if err := manager.AppendRecords("user_videos-alice", map[string]string{"id": "1"}, map[string]string{"id": "2"}); err != nil {
		t.Fatalf("Failed to append records: %v", err)
	}
	if err := manager.AppendRecords("user_videos-alice", map[string]string{"id": "3"}); err != nil {
		t.Fatalf("Failed to append records: %v", err)
	}

	f, err := os.Open(manager.RecordPath("user_videos-alice"))
	if err != nil {
		t.Fatalf("Failed to open record file: %v", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]string
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("Invalid JSON line %q: %v", scanner.Text(), err)
		}
		ids = append(ids, rec["id"])
	}
	if len(ids) != 3 || ids[0] != "1" || ids[2] != "3" {
		t.Errorf("Unexpected records %v", ids)
	}
}
