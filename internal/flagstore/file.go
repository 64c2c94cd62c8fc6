package flagstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pairbot/internal/errors"
	"pairbot/internal/logging"
	"pairbot/internal/models"
)

const flagFileName = "setup_flag.json"

// FileStore persists the setup flag as a single JSON document. Reads
// always go to disk: the CLI and the daemon are separate processes over
// the same file, so a 'pairbot flag clear' must be visible to a running
// daemon on its next read.
type FileStore struct {
	path    string
	logger  zerolog.Logger
	auditor Auditor

	mu sync.Mutex
}

// NewFileStore creates a flag store backed by dataDir/setup_flag.json.
// The auditor is optional.
func NewFileStore(dataDir string, logger zerolog.Logger, auditor Auditor) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return &FileStore{
		path:    filepath.Join(dataDir, flagFileName),
		logger:  logging.WithComponent(logger, "flagstore"),
		auditor: auditor,
	}, nil
}

// IsActive reads the persisted state, failing safe to false when the
// record is missing or corrupt.
func (s *FileStore) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load()
	return rec != nil && rec.Active
}

// Record returns a copy of the current record.
func (s *FileStore) Record() (*models.SetupRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load()
	if rec == nil {
		return nil, false
	}
	cp := *rec
	cp.Metadata = copyMeta(rec.Metadata)
	return &cp, true
}

// MarkActive writes an active record durably before returning.
func (s *FileStore) MarkActive(spreadID string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.load()
	rec := &models.SetupRecord{
		Active:   true,
		SpreadID: spreadID,
		OpenedAt: time.Now(),
		Metadata: copyMeta(metadata),
	}
	// Re-activating the same spread keeps the original open time, so
	// calling MarkActive twice with the same arguments is a true no-op.
	if prev != nil && prev.Active && prev.SpreadID == spreadID {
		rec.OpenedAt = prev.OpenedAt
	}

	if err := s.write(rec); err != nil {
		return errors.Wrap(err, "persisting active flag")
	}

	logging.LogFlagTransition(s.logger, "activate", spreadID, "")
	s.audit(transition("activate", spreadID, ""))
	return nil
}

// MarkInactive clears the flag and records the reason.
func (s *FileStore) MarkInactive(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.load()
	spreadID := ""
	if prev != nil {
		spreadID = prev.SpreadID
	}

	rec := &models.SetupRecord{Active: false, SpreadID: spreadID}
	if err := s.write(rec); err != nil {
		return errors.Wrap(err, "persisting inactive flag")
	}

	logging.LogFlagTransition(s.logger, "deactivate", spreadID, reason)
	s.audit(transition("deactivate", spreadID, reason))
	return nil
}

// Clear force-resets the flag.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.load()
	spreadID := ""
	if prev != nil {
		spreadID = prev.SpreadID
	}

	if err := s.write(&models.SetupRecord{Active: false}); err != nil {
		return errors.Wrap(err, "clearing flag")
	}

	s.logger.Warn().Str("spread_id", spreadID).Msg("Setup flag force-cleared")
	s.audit(transition("clear", spreadID, "manual reset"))
	return nil
}

// Check re-reads the on-disk record and reports whether it is parseable.
func (s *FileStore) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", errors.ErrFlagUnreadable, err)
	}

	var rec models.SetupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrFlagUnreadable, err)
	}
	return nil
}

// load reads the record from disk. Corrupt or missing files read as nil
// (treated as inactive).
func (s *FileStore) load() *models.SetupRecord {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Flag record unreadable, treating as inactive")
		}
		return nil
	}

	var rec models.SetupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Flag record corrupt, treating as inactive")
		return nil
	}

	return &rec
}

// write persists the record with write-temp-then-rename so a crash mid-write
// never leaves a truncated record, then fsyncs the file.
func (s *FileStore) write(rec *models.SetupRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *FileStore) audit(t models.FlagTransition) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.RecordTransition(t); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record flag transition audit")
	}
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
