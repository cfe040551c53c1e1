package storage

import (
	"context"
	"crypto/rand"
	"math/big"
	"sort"
	"sync"
	"time"
)

// MemoryUserRepository implements UserRepository in memory, in the
// same sync.RWMutex-guarded-map shape as the teacher's MemoryStore.
// It backs unit tests and an embedded, non-durable run mode.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	byUIN map[uint32]*User
	byEmail map[string]uint32
}

// NewMemoryUserRepository creates an empty in-memory user store.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byUIN:   make(map[uint32]*User),
		byEmail: make(map[string]uint32),
	}
}

const (
	uinRangeMin = 10_000_000
	uinRangeMax = 16_777_215 // largest 8-digit UIN that fits in 24 bits
)

func randomUIN() (uint32, error) {
	span := big.NewInt(uinRangeMax - uinRangeMin + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return uint32(n.Int64() + uinRangeMin), nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, name, email, password string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[email]; exists {
		return nil, ErrEmailTaken
	}

	var uin uint32
	for {
		candidate, err := randomUIN()
		if err != nil {
			return nil, err
		}
		if _, taken := r.byUIN[candidate]; !taken {
			uin = candidate
			break
		}
	}

	u := &User{UIN: uin, Name: name, Email: email, Password: password, CreatedAt: time.Now()}
	r.byUIN[uin] = u
	r.byEmail[email] = uin
	return u, nil
}

func (r *MemoryUserRepository) FindByUIN(ctx context.Context, uin uint32) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byUIN[uin]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *MemoryUserRepository) Exists(ctx context.Context, uin uint32) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUIN[uin]
	return ok, nil
}

func (r *MemoryUserRepository) FindByUINs(ctx context.Context, uins []uint32) ([]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*User
	for _, uin := range uins {
		if u, ok := r.byUIN[uin]; ok {
			copied := *u
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *MemoryUserRepository) UpdatePassword(ctx context.Context, uin uint32, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byUIN[uin]
	if !ok {
		return ErrNotFound
	}
	u.Password = password
	return nil
}

func (r *MemoryUserRepository) Delete(ctx context.Context, uin uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byUIN[uin]
	if !ok {
		return ErrNotFound
	}
	delete(r.byEmail, u.Email)
	delete(r.byUIN, uin)
	return nil
}

// MemoryMessageRepository implements MessageRepository in memory.
type MemoryMessageRepository struct {
	mu       sync.Mutex
	messages map[int64]*QueuedMessage
	nextID   int64
}

// NewMemoryMessageRepository creates an empty in-memory message queue.
func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: make(map[int64]*QueuedMessage)}
}

func (r *MemoryMessageRepository) Store(ctx context.Context, recipient uint32, msg *QueuedMessage) (*QueuedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	stored := *msg
	stored.ID = r.nextID
	stored.RecipientUIN = recipient
	stored.CreatedAt = time.Now()
	stored.DeliveredAt = nil
	r.messages[stored.ID] = &stored

	copied := stored
	return &copied, nil
}

func (r *MemoryMessageRepository) FindPending(ctx context.Context, recipient uint32) ([]*QueuedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*QueuedMessage
	for _, m := range r.messages {
		if m.RecipientUIN == recipient && m.DeliveredAt == nil {
			copied := *m
			pending = append(pending, &copied)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Time != pending[j].Time {
			return pending[i].Time < pending[j].Time
		}
		return pending[i].ID < pending[j].ID
	})
	if len(pending) > maxPendingBatch {
		pending = pending[:maxPendingBatch]
	}
	return pending, nil
}

func (r *MemoryMessageRepository) FindOnePending(ctx context.Context, id int64) (*QueuedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[id]
	if !ok || m.DeliveredAt != nil {
		return nil, ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *MemoryMessageRepository) MarkDelivered(ctx context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		if m, ok := r.messages[id]; ok && m.DeliveredAt == nil {
			m.DeliveredAt = &now
		}
	}
	return nil
}

func (r *MemoryMessageRepository) MarkSingleDelivered(ctx context.Context, id int64) error {
	return r.MarkDelivered(ctx, []int64{id})
}

func (r *MemoryMessageRepository) CleanupOldDelivered(ctx context.Context, minutes int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)
	var removed int64
	for id, m := range r.messages {
		if m.DeliveredAt != nil && m.DeliveredAt.Before(cutoff) {
			delete(r.messages, id)
			removed++
		}
	}
	return removed, nil
}

type memoryToken struct {
	uin       uint32
	hash      string
	expiresAt time.Time
	revoked   bool
}

// MemoryTokenRepository implements TokenRepository in memory, backing
// the embedded non-durable run mode's HTTP surface.
type MemoryTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*memoryToken
}

// NewMemoryTokenRepository creates an empty in-memory token store.
func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{tokens: make(map[string]*memoryToken)}
}

func (r *MemoryTokenRepository) Store(ctx context.Context, id string, uin uint32, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[id] = &memoryToken{uin: uin, hash: tokenHash, expiresAt: expiresAt}
	return nil
}

func (r *MemoryTokenRepository) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.revoked = true
	return nil
}

func (r *MemoryTokenRepository) IsValid(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok || t.revoked {
		return false, nil
	}
	return time.Now().Before(t.expiresAt), nil
}
