package api

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"prism-board/domain"
)

// memStore persists boards as JSON documents with an integer version.
type memStore struct {
	mu       sync.Mutex
	docs     map[string][]byte
	versions map[string]int

	saveErr      error
	alwaysBehind bool
}

func newMemStore() *memStore {
	return &memStore{docs: map[string][]byte{}, versions: map[string]int{}}
}

func (s *memStore) LoadBoard(ctx context.Context, id string) (*domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrBoardNotFound
	}
	var b domain.Board
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	b.Version = strconv.Itoa(s.versions[id])
	return &b, nil
}

func (s *memStore) SaveBoard(ctx context.Context, b *domain.Board) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return "", s.saveErr
	}
	current, ok := s.versions[b.ID]
	if !ok {
		return "", domain.ErrBoardNotFound
	}
	if s.alwaysBehind || strconv.Itoa(current) != b.Version {
		return "", domain.ErrConcurrentModification
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	s.docs[b.ID] = raw
	s.versions[b.ID] = current + 1
	return strconv.Itoa(current + 1), nil
}

func (s *memStore) CreateBoard(ctx context.Context, b *domain.Board) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	s.docs[b.ID] = raw
	s.versions[b.ID] = 1
	return "1", nil
}

func (s *memStore) DeleteBoard(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return domain.ErrBoardNotFound
	}
	delete(s.docs, id)
	delete(s.versions, id)
	return nil
}
