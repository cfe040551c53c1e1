// Package storage implements the durable lookup and queue operations
// the core session/dispatcher layer consumes (spec §4.2): a
// UserRepository and a MessageRepository, each with an in-memory
// implementation (for tests and an embedded run mode) and a SQLite
// implementation backing a real deployment.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("storage: not found")

// ErrEmailTaken is returned by UserRepository.Create when the email is already
// registered.
var ErrEmailTaken = errors.New("storage: email already registered")

// User is the durable account record (spec §3 "User record").
type User struct {
	UIN       uint32
	Name      string
	Email     string
	Password  string // plaintext input to the GG login hash, per the wire contract
	CreatedAt time.Time
}

// QueuedMessage is a durably stored relay message (spec §3
// "QueuedMessage (durable)").
type QueuedMessage struct {
	ID            int64
	RecipientUIN  uint32
	SenderUIN     uint32
	Seq           uint32
	Time          uint32
	Class         uint32
	Message       string
	Formatting    []byte // opaque rich-text encoder bytes, or nil
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

// UserRepository is the durable user-account store the session
// controller authenticates against.
type UserRepository interface {
	Create(ctx context.Context, name, email, password string) (*User, error)
	FindByUIN(ctx context.Context, uin uint32) (*User, error)
	Exists(ctx context.Context, uin uint32) (bool, error)
	FindByUINs(ctx context.Context, uins []uint32) ([]*User, error)
	UpdatePassword(ctx context.Context, uin uint32, password string) error
	Delete(ctx context.Context, uin uint32) error
}

// MessageRepository is the durable offline-message queue the
// dispatcher persists through and sessions drain on login.
type MessageRepository interface {
	Store(ctx context.Context, recipient uint32, msg *QueuedMessage) (*QueuedMessage, error)
	FindPending(ctx context.Context, recipient uint32) ([]*QueuedMessage, error)
	FindOnePending(ctx context.Context, id int64) (*QueuedMessage, error)
	MarkDelivered(ctx context.Context, ids []int64) error
	MarkSingleDelivered(ctx context.Context, id int64) error
	CleanupOldDelivered(ctx context.Context, minutes int) (int64, error)
}

// maxPendingBatch bounds FindPending per spec §4.2 ("up to 100 oldest
// undelivered messages").
const maxPendingBatch = 100

// TokenRepository is the durable HTTP bearer-token store (spec §3
// "Token (durable, used by HTTP only; not core)"). Neither the
// session controller nor the dispatcher ever reference it.
type TokenRepository interface {
	Store(ctx context.Context, id string, uin uint32, tokenHash string, expiresAt time.Time) error
	Revoke(ctx context.Context, id string) error
	IsValid(ctx context.Context, id string) (bool, error)
}
