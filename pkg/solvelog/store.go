package solvelog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"tokscraper/pkg/challenge"
	"tokscraper/pkg/logger"
)

// Record is one stored solve attempt
type Record struct {
	ID        string `gorm:"primaryKey"`
	RunID     string `gorm:"index"`
	Kind      string `gorm:"index"`
	Attempt   int
	Manual    bool
	Offset    float64
	Rotation  float64
	Distance  float64
	Outcome   string `gorm:"index"`
	Reference []byte
	Live      []byte
	Verify    []byte
	Error     string
	CreatedAt time.Time
}

// Store records challenge solve attempts in sqlite
type Store struct {
	db     *gorm.DB
	runID  string
	logger logger.Logger
}

// Open opens (creating if needed) the database at path
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: NewGormLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("failed to open solve log: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate solve log: %w", err)
	}

	s := &Store{db: db, runID: uuid.NewString(), logger: log}
	logger.LogComponentStart(log, "solvelog", map[string]interface{}{
		"path":   path,
		"run_id": s.runID,
	})
	return s, nil
}

// RunID identifies the records written by this process
func (s *Store) RunID() string {
	return s.runID
}

// LogAttempt stores a solver attempt
func (s *Store) LogAttempt(ctx context.Context, a challenge.Attempt) error {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}

	rec := &Record{
		ID:        id,
		RunID:     s.runID,
		Kind:      string(a.Kind),
		Attempt:   a.Attempt,
		Manual:    a.Manual,
		Offset:    a.Offset,
		Rotation:  a.Rotation,
		Distance:  a.Distance,
		Outcome:   string(a.Outcome),
		Reference: a.Reference,
		Live:      a.Live,
		Verify:    a.Verify,
		Error:     a.Error,
		CreatedAt: at,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record solve attempt: %w", err)
	}
	return nil
}

// Recent returns the newest records first
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	q := s.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list solve attempts: %w", err)
	}
	return records, nil
}

// Outcomes counts records per kind and outcome, e.g. "slide/solved"
func (s *Store) Outcomes(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Kind    string
		Outcome string
		Count   int64
	}
	err := s.db.WithContext(ctx).Model(&Record{}).
		Select("kind, outcome, count(*) as count").
		Group("kind, outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count solve outcomes: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Kind+"/"+r.Outcome] = r.Count
	}
	return out, nil
}

// Close closes the database
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	logger.LogComponentStop(s.logger, "solvelog", "closed")
	return sqlDB.Close()
}
