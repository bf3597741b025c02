package voter

import (
	"context"
	"sync"
	"time"

	"votechain.org/internal/identity"
)

// MemoryStore is an in-process Directory and ContactStore used by tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[identity.Key]Record
	contacts map[identity.Key]Contact
}

var (
	_ Directory    = (*MemoryStore)(nil)
	_ ContactStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates a store seeded with records.
func NewMemoryStore(records ...Record) *MemoryStore {
	s := &MemoryStore{
		records:  make(map[identity.Key]Record, len(records)),
		contacts: make(map[identity.Key]Contact),
	}
	for _, r := range records {
		s.records[r.Key()] = r
	}
	return s
}

func (s *MemoryStore) FindIdentity(ctx context.Context, key identity.Key) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) FindByQRToken(ctx context.Context, token string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if token != "" && r.QRToken == token {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

func (s *MemoryStore) ContactByEmail(ctx context.Context, email string) (Contact, error) {
	email = NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contacts {
		if NormalizeEmail(c.Email) == email {
			return c, nil
		}
	}
	return Contact{}, ErrNotFound
}

func (s *MemoryStore) ContactByKey(ctx context.Context, key identity.Key) (Contact, error) {
	if c, ok := s.Contact(key); ok {
		return c, nil
	}
	return Contact{}, ErrNotFound
}

func (s *MemoryStore) UpsertContact(ctx context.Context, c Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := NormalizeEmail(c.Email)
	for key, existing := range s.contacts {
		if key != c.IdentityKey && NormalizeEmail(existing.Email) == email {
			return ErrEmailTaken
		}
	}
	c.Email = email
	c.UpdatedAt = time.Now().UTC()
	s.contacts[c.IdentityKey] = c
	return nil
}

// Contact returns the stored contact for key.
func (s *MemoryStore) Contact(key identity.Key) (Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[key]
	return c, ok
}
