// Package keyringsql persists workspace keyrings in a relational database.
// PostgreSQL and MySQL are supported through their standard drivers.
package keyringsql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Import common SQL drivers
	_ "github.com/go-sql-driver/mysql" // MySQL
	_ "github.com/lib/pq"              // PostgreSQL

	"github.com/plumwheel/ragnos-vault/internal/vault"
)

// Dialect selects the placeholder style for queries.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

var driverMap = map[string]Dialect{
	"postgresql": DialectPostgres,
	"postgres":   DialectPostgres,
	"mysql":      DialectMySQL,
	"mariadb":    DialectMySQL,
}

// DialectFor maps a configured database type to its Dialect.
func DialectFor(dbType string) (Dialect, error) {
	d, ok := driverMap[strings.ToLower(dbType)]
	if !ok {
		return "", fmt.Errorf("unsupported database type: %s", dbType)
	}
	return d, nil
}

// Store implements vault.KeyringService over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// rebind converts ? placeholders to the dialect's style.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateKeyring inserts a new row and deactivates the workspace's previous
// active row in the same transaction.
func (s *Store) CreateKeyring(ctx context.Context, keyring vault.Keyring) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin keyring transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		s.rebind(`UPDATE keyrings SET is_active = FALSE WHERE workspace_id = ? AND is_active = TRUE`),
		keyring.WorkspaceID)
	if err != nil {
		return fmt.Errorf("deactivate previous keyring: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO keyrings (workspace_id, key_version, encrypted_dek, rotated_at, is_active) VALUES (?, ?, ?, ?, ?)`),
		keyring.WorkspaceID, keyring.KeyVersion, keyring.EncryptedDEK, keyring.RotatedAt, keyring.IsActive)
	if err != nil {
		return fmt.Errorf("insert keyring: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit keyring: %w", err)
	}
	return nil
}

// GetLatestKeyring returns the workspace's highest-version row.
func (s *Store) GetLatestKeyring(ctx context.Context, workspaceID string) (vault.Keyring, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT workspace_id, key_version, encrypted_dek, rotated_at, is_active FROM keyrings WHERE workspace_id = ? ORDER BY key_version DESC LIMIT 1`),
		workspaceID)
	return scanKeyring(row)
}

// GetKeyringByVersion returns the exact version's row.
func (s *Store) GetKeyringByVersion(ctx context.Context, workspaceID string, version int) (vault.Keyring, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT workspace_id, key_version, encrypted_dek, rotated_at, is_active FROM keyrings WHERE workspace_id = ? AND key_version = ?`),
		workspaceID, version)
	return scanKeyring(row)
}

// GetLatestKeyVersion returns the highest issued version, or 0 when the
// workspace has no keyring.
func (s *Store) GetLatestKeyVersion(ctx context.Context, workspaceID string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT MAX(key_version) FROM keyrings WHERE workspace_id = ?`),
		workspaceID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query latest key version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

func scanKeyring(row *sql.Row) (vault.Keyring, error) {
	var k vault.Keyring
	err := row.Scan(&k.WorkspaceID, &k.KeyVersion, &k.EncryptedDEK, &k.RotatedAt, &k.IsActive)
	if err == sql.ErrNoRows {
		return vault.Keyring{}, vault.ErrKeyringNotFound
	}
	if err != nil {
		return vault.Keyring{}, fmt.Errorf("scan keyring: %w", err)
	}
	return k, nil
}
