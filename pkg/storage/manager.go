package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const videoExt = ".mp4"

// Manager writes fetch results below an output directory: JSON lines per
// listing and one file per downloaded video, skipping videos already on disk
type Manager struct {
	outputDir string
	videoDir  string
	saved     map[string]bool
	mu        sync.RWMutex
}

// NewManager creates a new storage manager
func NewManager(outputDir string) (*Manager, error) {
	videoDir := filepath.Join(outputDir, "videos")
	if err := os.MkdirAll(videoDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	manager := &Manager{
		outputDir: outputDir,
		videoDir:  videoDir,
		saved:     make(map[string]bool),
	}

	if err := manager.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}

	return manager, nil
}

// scanExistingFiles records the videos already downloaded
func (m *Manager) scanExistingFiles() error {
	entries, err := os.ReadDir(m.videoDir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == videoExt {
			m.saved[strings.TrimSuffix(entry.Name(), videoExt)] = true
		}
	}

	return nil
}

// IsSaved checks if the video with the given id is already on disk
func (m *Manager) IsSaved(videoID string) bool {
	m.mu.RLock()
	known := m.saved[videoID]
	m.mu.RUnlock()
	if known {
		return true
	}

	if _, err := os.Stat(m.VideoPath(videoID)); err == nil {
		m.mu.Lock()
		m.saved[videoID] = true
		m.mu.Unlock()
		return true
	}
	return false
}

// VideoPath returns where the video with videoID is stored
func (m *Manager) VideoPath(videoID string) string {
	return filepath.Join(m.videoDir, videoID+videoExt)
}

// SaveVideo writes a video from r, replacing the file atomically
func (m *Manager) SaveVideo(r io.Reader, videoID string) error {
	if videoID == "" || strings.ContainsAny(videoID, `/\`) {
		return fmt.Errorf("invalid video id %q", videoID)
	}
	filename := m.VideoPath(videoID)

	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to save video data: %w", err)
	}

	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	m.mu.Lock()
	m.saved[videoID] = true
	m.mu.Unlock()

	return nil
}

// AppendRecords appends one JSON line per record to <name>.jsonl
func (m *Manager) AppendRecords(name string, records ...any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.RecordPath(name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open record file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write records: %w", err)
	}
	return f.Close()
}

// RecordPath returns the JSON lines file for name
func (m *Manager) RecordPath(name string) string {
	return filepath.Join(m.outputDir, name+".jsonl")
}

// GetOutputDir returns the output directory path
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}

// GetSavedCount returns the number of videos on disk
func (m *Manager) GetSavedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.saved)
}
