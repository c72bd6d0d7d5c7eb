package identity

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Store persists the server id. LoadServerID reports ok=false when no id has
// been stored yet.
type Store interface {
	LoadServerID(ctx context.Context) (id uuid.UUID, ok bool, err error)
	StoreServerID(ctx context.Context, id uuid.UUID) error
}

// Cache resolves the server id once per process. The first Get loads it from
// the store, generating and persisting a new one if the store is empty; later
// calls return the cached value.
type Cache struct {
	store Store
	log   *log.Logger

	mu     sync.Mutex
	id     uuid.UUID
	loaded bool
}

func NewCache(store Store, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Cache{store: store, log: logger}
}

func (c *Cache) Get(ctx context.Context) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.id, nil
	}
	if c.store != nil {
		id, ok, err := c.store.LoadServerID(ctx)
		if err != nil {
			return uuid.Nil, fmt.Errorf("load server id: %w", err)
		}
		if ok && id != uuid.Nil {
			c.id, c.loaded = id, true
			return id, nil
		}
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate server id: %w", err)
	}
	if err := c.persist(ctx, id); err != nil {
		return uuid.Nil, err
	}
	c.log.Printf("new server id %s", id)
	c.id, c.loaded = id, true
	return id, nil
}

// Set replaces the server id. The cache only changes once the store accepted it.
func (c *Cache) Set(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("set server id: nil uuid")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.persist(ctx, id); err != nil {
		return err
	}
	c.id, c.loaded = id, true
	return nil
}

func (c *Cache) persist(ctx context.Context, id uuid.UUID) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.StoreServerID(ctx, id); err != nil {
		return fmt.Errorf("store server id: %w", err)
	}
	return nil
}

// MemoryStore keeps the id in process memory.
type MemoryStore struct {
	mu sync.Mutex
	id uuid.UUID
	ok bool

	Loads  int
	Stores int
}

func (m *MemoryStore) LoadServerID(context.Context) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Loads++
	return m.id, m.ok, nil
}

func (m *MemoryStore) StoreServerID(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stores++
	m.id, m.ok = id, true
	return nil
}
