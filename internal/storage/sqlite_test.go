package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *SQLUserRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLUserRepository(db)
}

func TestOpenRunsMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'users'`).Scan(&name)
	if err != nil {
		t.Fatalf("users table missing after migration: %v", err)
	}
}

func TestSQLUserRepository_CreateAndFind(t *testing.T) {
	repo := openTestDB(t)

	u, err := repo.Create(context.Background(), "jan", "jan@example.com", "secret")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	found, err := repo.FindByUIN(context.Background(), u.UIN)
	if err != nil {
		t.Fatalf("FindByUIN failed: %v", err)
	}
	if found.Email != "jan@example.com" || found.Name != "jan" {
		t.Errorf("unexpected user: %+v", found)
	}
}

func TestSQLUserRepository_DuplicateEmail(t *testing.T) {
	repo := openTestDB(t)

	if _, err := repo.Create(context.Background(), "a", "dup@example.com", "pw"); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := repo.Create(context.Background(), "b", "dup@example.com", "pw2")
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("got err %v, want ErrEmailTaken", err)
	}
}

func TestSQLUserRepository_UpdatePasswordNotFound(t *testing.T) {
	repo := openTestDB(t)
	err := repo.UpdatePassword(context.Background(), 1, "new")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got err %v, want ErrNotFound", err)
	}
}

func TestSQLMessageRepository_StoreAndDeliver(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "messages.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
	repo := NewSQLMessageRepository(db)

	stored, err := repo.Store(context.Background(), 42, &QueuedMessage{SenderUIN: 7, Seq: 1, Time: 100, Message: "hello"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	pending, err := repo.FindPending(context.Background(), 42)
	if err != nil {
		t.Fatalf("FindPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != stored.ID {
		t.Fatalf("unexpected pending set: %+v", pending)
	}

	if err := repo.MarkSingleDelivered(context.Background(), stored.ID); err != nil {
		t.Fatalf("MarkSingleDelivered failed: %v", err)
	}

	pending, err = repo.FindPending(context.Background(), 42)
	if err != nil {
		t.Fatalf("FindPending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending after delivery, got %d", len(pending))
	}
}

func TestSQLTokenRepository_StoreRevokeIsValid(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tokens.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
	repo := NewSQLTokenRepository(db)

	future := time.Now().Add(time.Hour)
	if err := repo.Store(context.Background(), "tok-1", 100, "hashedvalue", future); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	valid, err := repo.IsValid(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("IsValid failed: %v", err)
	}
	if !valid {
		t.Error("expected token to be valid")
	}

	if err := repo.Revoke(context.Background(), "tok-1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	valid, err = repo.IsValid(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("IsValid failed: %v", err)
	}
	if valid {
		t.Error("expected token to be invalid after revoke")
	}
}
