package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/skorotkiewicz/gg-retro/internal/storage/migrations"
)

// Open opens the SQLite database at path and applies any pending
// schema migrations before returning.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("storage: migration driver: %w", err)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("storage: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("storage: migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migrate up: %w", err)
	}
	return nil
}

// SQLUserRepository implements UserRepository against a SQLite
// database.
type SQLUserRepository struct {
	db *sql.DB
}

// NewSQLUserRepository wraps db as a UserRepository.
func NewSQLUserRepository(db *sql.DB) *SQLUserRepository {
	return &SQLUserRepository{db: db}
}

func (r *SQLUserRepository) Create(ctx context.Context, name, email, password string) (*User, error) {
	var uin uint32
	for {
		candidate, err := randomUIN()
		if err != nil {
			return nil, err
		}
		exists, err := r.Exists(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !exists {
			uin = candidate
			break
		}
	}

	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (uin, name, email, password, created_at) VALUES (?, ?, ?, ?, ?)`,
		uin, name, email, password, now.Unix())
	if err != nil {
		if isUniqueConstraintErr(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("storage: create user: %w", err)
	}

	return &User{UIN: uin, Name: name, Email: email, Password: password, CreatedAt: now}, nil
}

func (r *SQLUserRepository) FindByUIN(ctx context.Context, uin uint32) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT uin, name, email, password, created_at FROM users WHERE uin = ?`, uin)
	return scanUser(row)
}

func (r *SQLUserRepository) Exists(ctx context.Context, uin uint32) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE uin = ?`, uin).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: exists user: %w", err)
	}
	return true, nil
}

func (r *SQLUserRepository) FindByUINs(ctx context.Context, uins []uint32) ([]*User, error) {
	if len(uins) == 0 {
		return nil, nil
	}

	query := `SELECT uin, name, email, password, created_at FROM users WHERE uin IN (` + placeholders(len(uins)) + `)`
	args := make([]interface{}, len(uins))
	for i, u := range uins {
		args[i] = u
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: find users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *SQLUserRepository) UpdatePassword(ctx context.Context, uin uint32, password string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password = ? WHERE uin = ?`, password, uin)
	if err != nil {
		return fmt.Errorf("storage: update password: %w", err)
	}
	return affectedOrNotFound(res)
}

func (r *SQLUserRepository) Delete(ctx context.Context, uin uint32) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE uin = ?`, uin)
	if err != nil {
		return fmt.Errorf("storage: delete user: %w", err)
	}
	return affectedOrNotFound(res)
}

// row is satisfied by both *sql.Row and *sql.Rows.
type row interface {
	Scan(dest ...interface{}) error
}

func scanUser(r row) (*User, error) {
	var u User
	var createdAt int64
	if err := r.Scan(&u.UIN, &u.Name, &u.Email, &u.Password, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: scan user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

func isUniqueConstraintErr(err error) bool {
	// mattn/go-sqlite3 reports constraint violations with this
	// substring; avoids importing the driver's internal error type.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// SQLMessageRepository implements MessageRepository against a SQLite
// database.
type SQLMessageRepository struct {
	db *sql.DB
}

// NewSQLMessageRepository wraps db as a MessageRepository.
func NewSQLMessageRepository(db *sql.DB) *SQLMessageRepository {
	return &SQLMessageRepository{db: db}
}

func (r *SQLMessageRepository) Store(ctx context.Context, recipient uint32, msg *QueuedMessage) (*QueuedMessage, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (recipient_uin, sender_uin, seq, time, class, message, formatting, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		recipient, msg.SenderUIN, msg.Seq, msg.Time, msg.Class, msg.Message, msg.Formatting, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("storage: store message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("storage: store message id: %w", err)
	}

	stored := *msg
	stored.ID = id
	stored.RecipientUIN = recipient
	stored.CreatedAt = now
	stored.DeliveredAt = nil
	return &stored, nil
}

func (r *SQLMessageRepository) FindPending(ctx context.Context, recipient uint32) ([]*QueuedMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, recipient_uin, sender_uin, seq, time, class, message, formatting, created_at, delivered_at
		 FROM messages WHERE recipient_uin = ? AND delivered_at IS NULL
		 ORDER BY time ASC, id ASC LIMIT ?`,
		recipient, maxPendingBatch)
	if err != nil {
		return nil, fmt.Errorf("storage: find pending: %w", err)
	}
	defer rows.Close()

	var out []*QueuedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLMessageRepository) FindOnePending(ctx context.Context, id int64) (*QueuedMessage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, recipient_uin, sender_uin, seq, time, class, message, formatting, created_at, delivered_at
		 FROM messages WHERE id = ? AND delivered_at IS NULL`, id)
	return scanMessage(row)
}

func (r *SQLMessageRepository) MarkDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids)+1)
	args[0] = time.Now().Unix()
	for i, id := range ids {
		args[i+1] = id
	}
	query := `UPDATE messages SET delivered_at = ? WHERE id IN (` + placeholders(len(ids)) + `) AND delivered_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("storage: mark delivered: %w", err)
	}
	return nil
}

func (r *SQLMessageRepository) MarkSingleDelivered(ctx context.Context, id int64) error {
	return r.MarkDelivered(ctx, []int64{id})
}

func (r *SQLMessageRepository) CleanupOldDelivered(ctx context.Context, minutes int) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute).Unix()
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE delivered_at IS NOT NULL AND delivered_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup delivered: %w", err)
	}
	return res.RowsAffected()
}

func scanMessage(r row) (*QueuedMessage, error) {
	var m QueuedMessage
	var createdAt int64
	var deliveredAt sql.NullInt64
	if err := r.Scan(&m.ID, &m.RecipientUIN, &m.SenderUIN, &m.Seq, &m.Time, &m.Class,
		&m.Message, &m.Formatting, &createdAt, &deliveredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: scan message: %w", err)
	}
	m.CreatedAt = time.Unix(createdAt, 0)
	if deliveredAt.Valid {
		t := time.Unix(deliveredAt.Int64, 0)
		m.DeliveredAt = &t
	}
	return &m, nil
}

// SQLTokenRepository implements the HTTP account-token store (spec
// §3.1 "tokens") used by the registration/login surface.
type SQLTokenRepository struct {
	db *sql.DB
}

// NewSQLTokenRepository wraps db as a token store.
func NewSQLTokenRepository(db *sql.DB) *SQLTokenRepository {
	return &SQLTokenRepository{db: db}
}

// Store records a newly issued token's hash.
func (r *SQLTokenRepository) Store(ctx context.Context, id string, uin uint32, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (id, uin, token_hash, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		id, uin, tokenHash, time.Now().Unix(), expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("storage: store token: %w", err)
	}
	return nil
}

// Revoke marks a token as revoked, making it unusable even if not
// expired.
func (r *SQLTokenRepository) Revoke(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("storage: revoke token: %w", err)
	}
	return affectedOrNotFound(res)
}

// IsValid reports whether the token id is unexpired and unrevoked.
func (r *SQLTokenRepository) IsValid(ctx context.Context, id string) (bool, error) {
	var expiresAt int64
	var revokedAt sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT expires_at, revoked_at FROM tokens WHERE id = ?`, id).Scan(&expiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: check token: %w", err)
	}
	if revokedAt.Valid {
		return false, nil
	}
	return time.Now().Unix() < expiresAt, nil
}
