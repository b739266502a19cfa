package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"tokscraper/pkg/logger"
)

// Checkpoint is the resume state of one paginated listing
type Checkpoint struct {
	Key       string          `json:"key"`
	Kind      string          `json:"kind"`
	Target    string          `json:"target"`
	Cursor    string          `json:"cursor"`
	Pages     int             `json:"pages"`
	Items     int             `json:"items"`
	Written   map[string]bool `json:"written"` // item id -> written to output
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Version   int             `json:"version"`
}

// Manager handles checkpoint operations
type Manager struct {
	checkpointPath string
	logger         logger.Logger
}

// Key names the checkpoint of a listing
func Key(kind, target string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, target)
	return kind + "-" + clean
}

// NewManager creates a checkpoint manager in the platform data directory
func NewManager(key string) (*Manager, error) {
	dataDir, err := getDataDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}
	return NewManagerAt(filepath.Join(dataDir, "checkpoints"), key)
}

// NewManagerAt creates a checkpoint manager storing into dir
func NewManagerAt(dir, key string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	return &Manager{
		checkpointPath: filepath.Join(dir, key+".checkpoint.json"),
		logger:         logger.GetLogger(),
	}, nil
}

// Path returns the checkpoint file path
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Create starts a fresh checkpoint, replacing any existing one
func (m *Manager) Create(kind, target string) (*Checkpoint, error) {
	now := time.Now()
	checkpoint := &Checkpoint{
		Key:       strings.TrimSuffix(filepath.Base(m.checkpointPath), ".checkpoint.json"),
		Kind:      kind,
		Target:    target,
		Written:   make(map[string]bool),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	if err := m.Save(checkpoint); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.logger.InfoWithFields("Checkpoint created", map[string]interface{}{
		"kind":   kind,
		"target": target,
		"path":   m.checkpointPath,
	})

	return checkpoint, nil
}

// Load loads an existing checkpoint. It returns nil when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if checkpoint.Written == nil {
		checkpoint.Written = make(map[string]bool)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"key":        checkpoint.Key,
		"items":      checkpoint.Items,
		"cursor":     checkpoint.Cursor,
		"updated_at": checkpoint.UpdatedAt,
	})

	return &checkpoint, nil
}

// Save writes the checkpoint atomically
func (m *Manager) Save(checkpoint *Checkpoint) error {
	checkpoint.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := replaceFile(m.checkpointPath, data); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"key":    checkpoint.Key,
		"pages":  checkpoint.Pages,
		"cursor": checkpoint.Cursor,
	})
	return nil
}

// replaceFile swaps path for a synced temp file holding data
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// Advance records a finished page and the cursor of the next one
func (m *Manager) Advance(checkpoint *Checkpoint, cursor string, items int) error {
	checkpoint.Cursor = cursor
	checkpoint.Pages++
	checkpoint.Items += items
	return m.Save(checkpoint)
}

// MarkWritten records an item as written. It reports false when the item was
// already recorded. The checkpoint is saved by the next Advance.
func (checkpoint *Checkpoint) MarkWritten(id string) bool {
	if id == "" {
		return true
	}
	if checkpoint.Written[id] {
		return false
	}
	checkpoint.Written[id] = true
	return true
}

// Info returns a summary of the checkpoint, or nil when none exists
func (m *Manager) Info() (map[string]interface{}, error) {
	checkpoint, err := m.Load()
	if err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, nil
	}

	return map[string]interface{}{
		"key":        checkpoint.Key,
		"kind":       checkpoint.Kind,
		"target":     checkpoint.Target,
		"pages":      checkpoint.Pages,
		"items":      checkpoint.Items,
		"cursor":     checkpoint.Cursor,
		"created_at": checkpoint.CreatedAt,
		"updated_at": checkpoint.UpdatedAt,
		"age":        time.Since(checkpoint.UpdatedAt),
	}, nil
}

// getDataDirectory returns the data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "tokscraper")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "tokscraper")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "tokscraper")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "tokscraper")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}
