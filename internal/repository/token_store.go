package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/brokerauth/internal/domain"
	apperrors "github.com/spec-kit/brokerauth/pkg/util"
)

var (
	// ErrStoreClosed is returned by every operation on a released store.
	ErrStoreClosed = errors.New("token store closed")
	// ErrUnknownBackend is returned by the factory for unsupported backend names.
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// TokenStore persists one token record per brokerage username.
//
// Load only ever returns records that are valid at the time of the call; expired
// or unreadable records are reported as absent (nil, nil). Save overwrites any
// previous record for the username and reports failures. Delete is idempotent.
// Close releases held connections; later calls fail with ErrStoreClosed.
type TokenStore interface {
	Save(ctx context.Context, username string, record *domain.TokenRecord) error
	Load(ctx context.Context, username string) (*domain.TokenRecord, error)
	Delete(ctx context.Context, username string) error
	Close() error
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

func closedError() error {
	return apperrors.NewStorageClosedError(ErrStoreClosed)
}

func checkRecord(username string, record *domain.TokenRecord) error {
	if username == "" {
		return apperrors.NewValidationError("username is required", nil)
	}
	if record == nil {
		return apperrors.NewValidationError("token record is required", map[string]any{"username": username})
	}
	if record.Username != username {
		return apperrors.NewValidationError("token record belongs to another username", map[string]any{
			"username": username,
			"owner":    record.Username,
		})
	}
	if err := record.Validate(); err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"username": username})
	}
	return nil
}

func encodeRecord(record *domain.TokenRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode token record: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*domain.TokenRecord, error) {
	var record domain.TokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode token record: %w", err)
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("decode token record: %w", err)
	}
	return &record, nil
}

// usable applies the load-time checks shared by every backend.
func usable(record *domain.TokenRecord, username string, now time.Time) bool {
	return record != nil && record.Username == username && record.IsValidAt(now)
}
