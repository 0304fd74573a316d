package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/brokerauth/internal/domain"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

// FileTokenStore keeps records in a single JSON document on local disk, or only
// in memory when no path is configured. It offers no guarantee beyond last write
// wins when several processes share the file.
type FileTokenStore struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[string]json.RawMessage
	closed  bool
}

// NewFileTokenStore returns a store backed by path. An empty path keeps records in memory.
func NewFileTokenStore(path string, logger *zap.Logger) *FileTokenStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileTokenStore{
		path:    path,
		logger:  logger.With(zap.String("store", "file")),
		now:     time.Now,
		records: map[string]json.RawMessage{},
	}
}

func (s *FileTokenStore) Save(_ context.Context, username string, record *domain.TokenRecord) error {
	if err := checkRecord(username, record); err != nil {
		return err
	}
	data, err := encodeRecord(record)
	if err != nil {
		return apperrors.NewStorageWriteError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedError()
	}

	records, err := s.readLocked()
	if err != nil {
		s.logger.Warn("discarding unreadable token file", zap.String("path", s.path), zap.Error(err))
		records = map[string]json.RawMessage{}
	}
	if record.IsValidAt(s.now()) {
		records[username] = data
	} else {
		delete(records, username)
	}
	if err := s.writeLocked(records); err != nil {
		return apperrors.NewStorageWriteError(err)
	}
	return nil
}

func (s *FileTokenStore) Load(_ context.Context, username string) (*domain.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, closedError()
	}

	records, err := s.readLocked()
	if err != nil {
		s.logger.Warn("token file unreadable; treating as cache miss", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	data, ok := records[username]
	if !ok {
		return nil, nil
	}
	record, err := decodeRecord(data)
	if err != nil {
		s.logger.Warn("token record unreadable; treating as cache miss", zap.String("username", username), zap.Error(err))
		return nil, nil
	}
	if !usable(record, username, s.now()) {
		return nil, nil
	}
	return record, nil
}

func (s *FileTokenStore) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedError()
	}

	records, err := s.readLocked()
	if err != nil {
		s.logger.Warn("discarding unreadable token file", zap.String("path", s.path), zap.Error(err))
		records = map[string]json.RawMessage{}
	}
	if _, ok := records[username]; !ok && err == nil {
		return nil
	}
	delete(records, username)
	if err := s.writeLocked(records); err != nil {
		return apperrors.NewStorageWriteError(err)
	}
	return nil
}

// Close drops in-memory records. It is safe to call more than once.
func (s *FileTokenStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}

// Ping reports whether the directory holding the token file is usable.
func (s *FileTokenStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return closedError()
	}
	if s.path == "" {
		return nil
	}
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filepath.Dir(s.path))
	}
	return nil
}

func (s *FileTokenStore) readLocked() (map[string]json.RawMessage, error) {
	if s.path == "" {
		out := make(map[string]json.RawMessage, len(s.records))
		for k, v := range s.records {
			out[k] = v
		}
		return out, nil
	}

	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	records := map[string]json.RawMessage{}
	if len(content) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(content, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return records, nil
}

func (s *FileTokenStore) writeLocked(records map[string]json.RawMessage) error {
	if s.path == "" {
		s.records = records
		return nil
	}

	content, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
