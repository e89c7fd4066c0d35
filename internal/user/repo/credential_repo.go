package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

var (
	ErrNotFound  = errors.New("credential not found")
	ErrDuplicate = errors.New("credential already exists")
)

const columns = `id, username, email, phone_number, password_hash, password_algo, full_name,
	role, is_active, email_verified, created_at, updated_at, password_updated_at`

// CredentialRepo provides data access for the credentials table using sqlx.
// Queries use ? placeholders and are rebound for the connected driver.
type CredentialRepo struct {
	db *sqlx.DB
}

func NewCredentialRepo(db *sqlx.DB) *CredentialRepo { return &CredentialRepo{db: db} }

// EnsureTable creates the credentials table if not exists (idempotent).
// Uniqueness only binds active credentials.
func (r *CredentialRepo) EnsureTable(ctx context.Context) error {
	timestamp := "TIMESTAMPTZ"
	if r.db.DriverName() == "sqlite" {
		timestamp = "TIMESTAMP"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS credentials (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL,
  email TEXT NOT NULL,
  phone_number TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  password_algo TEXT NOT NULL,
  full_name TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'user',
  is_active BOOLEAN NOT NULL DEFAULT true,
  email_verified BOOLEAN NOT NULL DEFAULT false,
  created_at %[1]s NOT NULL,
  updated_at %[1]s NOT NULL,
  password_updated_at %[1]s
)`, timestamp),
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_credentials_username ON credentials(username) WHERE is_active`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_credentials_email ON credentials(email) WHERE is_active`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_credentials_phone_number ON credentials(phone_number) WHERE is_active`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts a new credential row. A uniqueness violation is reported as
// ErrDuplicate.
func (r *CredentialRepo) Create(ctx context.Context, c *entity.Credential) error {
	q := r.db.Rebind(`INSERT INTO credentials (` + columns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.Username, c.Email, c.PhoneNumber, c.PasswordHash, c.PasswordAlgo, c.FullName,
		c.Role, c.IsActive, c.EmailVerified, c.CreatedAt, c.UpdatedAt, c.PasswordUpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		return err
	}
	return nil
}

// FindConflict reports whether an active credential already uses any of the
// given username, email or phone number. Matching is exact.
func (r *CredentialRepo) FindConflict(ctx context.Context, username, email, phoneNumber string) (bool, error) {
	q := r.db.Rebind(`SELECT COUNT(*) FROM credentials
	  WHERE is_active = ? AND (username = ? OR email = ? OR phone_number = ?)`)
	var n int
	if err := r.db.GetContext(ctx, &n, q, true, username, email, phoneNumber); err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetByEmail returns the active credential with email or ErrNotFound.
func (r *CredentialRepo) GetByEmail(ctx context.Context, email string) (*entity.Credential, error) {
	return r.getActive(ctx, "email", email)
}

// GetByUsername returns the active credential with username or ErrNotFound.
func (r *CredentialRepo) GetByUsername(ctx context.Context, username string) (*entity.Credential, error) {
	return r.getActive(ctx, "username", username)
}

// GetByID fetches a credential regardless of its state.
func (r *CredentialRepo) GetByID(ctx context.Context, id string) (*entity.Credential, error) {
	q := r.db.Rebind(`SELECT ` + columns + ` FROM credentials WHERE id = ?`)
	return r.get(ctx, q, id)
}

func (r *CredentialRepo) getActive(ctx context.Context, column, value string) (*entity.Credential, error) {
	q := r.db.Rebind(`SELECT ` + columns + ` FROM credentials WHERE ` + column + ` = ? AND is_active = ?`)
	return r.get(ctx, q, value, true)
}

func (r *CredentialRepo) get(ctx context.Context, q string, args ...any) (*entity.Credential, error) {
	var c entity.Credential
	if err := r.db.GetContext(ctx, &c, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpdatePassword replaces the password hash and stamps the change.
func (r *CredentialRepo) UpdatePassword(ctx context.Context, id, hash, algo string, at time.Time) error {
	q := r.db.Rebind(`UPDATE credentials SET password_hash = ?, password_algo = ?, password_updated_at = ?, updated_at = ? WHERE id = ?`)
	return r.exec(ctx, q, hash, algo, at, at, id)
}

// MarkEmailVerified flags the email address of id as confirmed.
func (r *CredentialRepo) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	q := r.db.Rebind(`UPDATE credentials SET email_verified = ?, updated_at = ? WHERE id = ?`)
	return r.exec(ctx, q, true, at, id)
}

func (r *CredentialRepo) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
