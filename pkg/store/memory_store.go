package store

import (
	"context"
	"sort"
	"sync"

	"storyweave/pkg/domain"
)

// MemoryStore keeps all rows in-process. Used by tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	email    map[string]string      // email -> user ID
	books    map[string]domain.Book
	chapters map[string][]domain.Chapter // key: book ID, insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		books:    make(map[string]domain.Book),
		chapters: make(map[string][]domain.Chapter),
	}
}

// SaveUser registers a user.
func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveBook stores a book record.
func (m *MemoryStore) SaveBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
	return nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooksByOwner returns the owner's books, newest first.
func (m *MemoryStore) ListBooksByOwner(_ context.Context, ownerID string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0)
	for _, b := range m.books {
		if b.OwnerID == ownerID {
			res = append(res, b)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// SaveChapter appends a chapter to its book.
func (m *MemoryStore) SaveChapter(_ context.Context, c domain.Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chapters[c.BookID] = append(m.chapters[c.BookID], c)
	return nil
}

// ListChapters returns chapters ordered by (idx asc, createdAt asc),
// regardless of insertion order.
func (m *MemoryStore) ListChapters(_ context.Context, bookID string) ([]domain.Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Chapter, len(m.chapters[bookID]))
	copy(res, m.chapters[bookID])
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Idx != res[j].Idx {
			return res[i].Idx < res[j].Idx
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}
