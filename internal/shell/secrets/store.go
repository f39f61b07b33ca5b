package secrets

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/berth/internal/core/addon"
	"github.com/artpar/berth/internal/core/crypto"
	"github.com/artpar/berth/internal/core/env"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	accessReadWrite = "readwrite"
	accessReadOnly  = "readonly"

	// passwordBytes is the entropy of generated passwords (hex-encoded).
	passwordBytes = 16
)

// =============================================================================
// Store
// =============================================================================

// Store is the SQLite-backed secrets store. Values are AES-256-GCM
// encrypted with a key derived from the operator's master secret and a
// per-database salt.
type Store struct {
	db  *sqlx.DB
	key []byte
}

// Open opens (creating if needed) the secrets database and derives the
// encryption key from the master secret.
func Open(dsn, masterSecret string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("Open", "", "", "failed to open database", ErrConnectionFailed)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("Open", "", "", "failed to ping database", ErrConnectionFailed)
	}
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("Open", "", "", err.Error(), ErrMigrationFailed)
	}

	salt, err := loadOrCreateSalt(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, key: crypto.DeriveKey(masterSecret, salt)}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// loadOrCreateSalt reads the key-derivation salt, generating it on first
// open so every secrets database derives a distinct key.
func loadOrCreateSalt(db *sqlx.DB) ([]byte, error) {
	var encoded string
	err := db.Get(&encoded, `SELECT salt FROM meta WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		salt, err := crypto.NewSalt()
		if err != nil {
			return nil, NewStoreError("Open", "", "", "failed to generate salt", ErrEncryptionFailed)
		}
		_, err = db.Exec(`INSERT INTO meta (id, salt, created_at) VALUES (1, ?, ?)`,
			hex.EncodeToString(salt), time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return nil, NewStoreError("Open", "", "", "failed to store salt", ErrConnectionFailed)
		}
		return salt, nil
	}
	if err != nil {
		return nil, NewStoreError("Open", "", "", "failed to load salt", ErrConnectionFailed)
	}
	salt, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, NewStoreError("Open", "", "", "stored salt is corrupt", ErrEncryptionFailed)
	}
	return salt, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Credential Operations
// =============================================================================

// credentialRow represents a credential row in the database.
type credentialRow struct {
	TypeID       string `db:"type_id"`
	InstanceName string `db:"instance_name"`
	Access       string `db:"access"`
	Field        string `db:"field"`
	Value        string `db:"value"`
	CreatedAt    string `db:"created_at"`
}

// Get reads the credential bundle for an instance. Returns ErrNotFound when
// no read-write bundle exists (secrets not yet synced).
func (s *Store) Get(ctx context.Context, typeID, instanceName string) (env.Credentials, error) {
	var rows []credentialRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT type_id, instance_name, access, field, value, created_at
		   FROM credentials
		  WHERE type_id = ? AND instance_name = ?
		  ORDER BY access, field`,
		typeID, instanceName)
	if err != nil {
		return env.Credentials{}, NewStoreError("Get", typeID, instanceName, err.Error(), ErrConnectionFailed)
	}

	creds := env.Credentials{}
	for _, row := range rows {
		plain, err := crypto.DecryptFromBase64(row.Value, s.key)
		if err != nil {
			return env.Credentials{}, NewStoreError("Get", typeID, instanceName,
				fmt.Sprintf("cannot decrypt field %q (wrong master secret?)", row.Field), ErrEncryptionFailed)
		}
		switch row.Access {
		case accessReadWrite:
			if creds.Fields == nil {
				creds.Fields = map[string]string{}
			}
			creds.Fields[row.Field] = string(plain)
		case accessReadOnly:
			if creds.ReadOnly == nil {
				creds.ReadOnly = map[string]string{}
			}
			creds.ReadOnly[row.Field] = string(plain)
		}
	}

	if creds.Fields == nil {
		return env.Credentials{}, NewStoreError("Get", typeID, instanceName,
			"no credential bundle in secrets store", ErrNotFound)
	}
	return creds, nil
}

// Ensure returns the instance's credential bundle, generating it on first
// call. Generation happens exactly once per instance; repeated calls return
// the stored bundle unchanged.
func (s *Store) Ensure(ctx context.Context, t addon.AddonType, instanceName string) (env.Credentials, error) {
	creds, err := s.Get(ctx, t.TypeID, instanceName)
	if err == nil {
		return creds, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return env.Credentials{}, err
	}

	generated, err := generateBundle(t, instanceName)
	if err != nil {
		return env.Credentials{}, NewStoreError("Ensure", t.TypeID, instanceName, err.Error(), ErrEncryptionFailed)
	}

	if err := s.insertBundle(ctx, t.TypeID, instanceName, generated); err != nil {
		return env.Credentials{}, err
	}
	return generated, nil
}

// Put stores an externally supplied credential bundle, replacing any
// existing rows. Used to import credentials for managed services, typically
// with a pinned HOST field.
func (s *Store) Put(ctx context.Context, typeID, instanceName string, creds env.Credentials) error {
	if len(creds.Fields) == 0 {
		return NewStoreError("Put", typeID, instanceName, "bundle must carry at least one field", ErrEncryptionFailed)
	}
	if err := s.Delete(ctx, typeID, instanceName); err != nil {
		return err
	}
	return s.insertBundle(ctx, typeID, instanceName, creds)
}

// Delete removes an instance's credential bundle, e.g. after a gc pass.
func (s *Store) Delete(ctx context.Context, typeID, instanceName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE type_id = ? AND instance_name = ?`,
		typeID, instanceName)
	if err != nil {
		return NewStoreError("Delete", typeID, instanceName, err.Error(), ErrConnectionFailed)
	}
	return nil
}

func (s *Store) insertBundle(ctx context.Context, typeID, instanceName string, creds env.Credentials) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("Ensure", typeID, instanceName, err.Error(), ErrConnectionFailed)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	insert := func(access string, fields map[string]string) error {
		for field, value := range fields {
			encrypted, err := crypto.EncryptToBase64([]byte(value), s.key)
			if err != nil {
				return NewStoreError("Ensure", typeID, instanceName, err.Error(), ErrEncryptionFailed)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO credentials (type_id, instance_name, access, field, value, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				typeID, instanceName, access, field, encrypted, now)
			if err != nil {
				return NewStoreError("Ensure", typeID, instanceName, err.Error(), ErrConnectionFailed)
			}
		}
		return nil
	}

	if err := insert(accessReadWrite, creds.Fields); err != nil {
		return err
	}
	if creds.ReadOnly != nil {
		if err := insert(accessReadOnly, creds.ReadOnly); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("Ensure", typeID, instanceName, err.Error(), ErrConnectionFailed)
	}
	return nil
}

// =============================================================================
// Bundle Generation
// =============================================================================

// generateBundle creates the initial credential values for an instance,
// covering every credential field the type's env template references. The
// read-only pair is a distinct user and password, not a masked form of the
// read-write credentials.
func generateBundle(t addon.AddonType, instanceName string) (env.Credentials, error) {
	creds := env.Credentials{Fields: map[string]string{}}

	for _, entry := range t.Env {
		if entry.From != addon.FromCredential {
			continue
		}
		field := entry.CredentialField()
		if _, done := creds.Fields[field]; done {
			continue
		}
		value, err := defaultFieldValue(field, instanceName)
		if err != nil {
			return env.Credentials{}, err
		}
		creds.Fields[field] = value
	}

	if t.SupportsReadOnly {
		roPassword, err := crypto.RandomPassword(passwordBytes)
		if err != nil {
			return env.Credentials{}, err
		}
		creds.ReadOnly = map[string]string{
			"USER":     instanceName + "_ro",
			"PASSWORD": roPassword,
		}
	}

	return creds, nil
}

func defaultFieldValue(field, instanceName string) (string, error) {
	switch field {
	case "USER":
		return instanceName, nil
	case "DATABASE":
		return instanceName, nil
	case "VHOST":
		return "/" + instanceName, nil
	default:
		// PASSWORD and any type-specific secret field get random values.
		return crypto.RandomPassword(passwordBytes)
	}
}
