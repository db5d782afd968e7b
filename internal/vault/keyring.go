package vault

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Keyring is one persisted, versioned record of a workspace's wrapped DEK.
// KeyVersion is monotonically increasing per workspace starting at 1 and is
// never reused once issued. Rows must stay addressable for as long as any
// ciphertext referencing their version may need decryption; rotation
// deactivates, it never deletes.
type Keyring struct {
	WorkspaceID  string
	KeyVersion   int
	EncryptedDEK []byte
	RotatedAt    time.Time
	IsActive     bool
}

// ErrKeyringNotFound is returned when no keyring row matches the request.
var ErrKeyringNotFound = errors.New("keyring not found")

// KeyringService persists Keyring rows. Backed by external storage; the
// in-memory implementation below serves development and tests.
type KeyringService interface {
	// CreateKeyring inserts a new row and deactivates the previous active
	// row of the same workspace.
	CreateKeyring(ctx context.Context, keyring Keyring) error

	// GetLatestKeyring returns the row with the highest version.
	GetLatestKeyring(ctx context.Context, workspaceID string) (Keyring, error)

	// GetKeyringByVersion returns the exact version's row.
	GetKeyringByVersion(ctx context.Context, workspaceID string, version int) (Keyring, error)

	// GetLatestKeyVersion returns the highest issued version, or 0 when the
	// workspace has no keyring yet.
	GetLatestKeyVersion(ctx context.Context, workspaceID string) (int, error)
}

// MemoryKeyringStore is the in-memory KeyringService.
type MemoryKeyringStore struct {
	mu   sync.RWMutex
	rows map[string][]Keyring // workspaceID → rows sorted by version
}

// NewMemoryKeyringStore builds an empty in-memory store.
func NewMemoryKeyringStore() *MemoryKeyringStore {
	return &MemoryKeyringStore{rows: make(map[string][]Keyring)}
}

// CreateKeyring implements KeyringService.
func (s *MemoryKeyringStore) CreateKeyring(ctx context.Context, keyring Keyring) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[keyring.WorkspaceID]
	for i := range rows {
		if rows[i].KeyVersion == keyring.KeyVersion {
			return errors.New("keyring version already exists")
		}
	}
	for i := range rows {
		rows[i].IsActive = false
	}
	rows = append(rows, keyring)
	sort.Slice(rows, func(i, j int) bool { return rows[i].KeyVersion < rows[j].KeyVersion })
	s.rows[keyring.WorkspaceID] = rows
	return nil
}

// GetLatestKeyring implements KeyringService.
func (s *MemoryKeyringStore) GetLatestKeyring(ctx context.Context, workspaceID string) (Keyring, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.rows[workspaceID]
	if len(rows) == 0 {
		return Keyring{}, ErrKeyringNotFound
	}
	return rows[len(rows)-1], nil
}

// GetKeyringByVersion implements KeyringService.
func (s *MemoryKeyringStore) GetKeyringByVersion(ctx context.Context, workspaceID string, version int) (Keyring, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows[workspaceID] {
		if row.KeyVersion == version {
			return row, nil
		}
	}
	return Keyring{}, ErrKeyringNotFound
}

// GetLatestKeyVersion implements KeyringService.
func (s *MemoryKeyringStore) GetLatestKeyVersion(ctx context.Context, workspaceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.rows[workspaceID]
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[len(rows)-1].KeyVersion, nil
}
