package market

import (
	"errors"
	"sync"
)

// ErrNoBook is returned when no snapshot exists for a token.
var ErrNoBook = errors.New("no book for token")

// BookStore keeps the latest orderbook snapshot per token. Writers are the
// market-data adapters; readers are the execution layer's depth checks.
type BookStore struct {
	mu    sync.RWMutex
	books map[string]Book
}

func NewBookStore() *BookStore {
	return &BookStore{books: make(map[string]Book)}
}

// Set stores a snapshot unless an equal-or-newer sequence is already held.
func (s *BookStore) Set(b Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.books[b.TokenID]; ok && cur.Seq >= b.Seq {
		return
	}
	s.books[b.TokenID] = b
}

// Get returns the latest snapshot for the token.
func (s *BookStore) Get(tokenID string) (Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[tokenID]
	if !ok {
		return Book{}, ErrNoBook
	}
	return b, nil
}
