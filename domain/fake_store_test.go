package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
)

// fakeStore keeps boards as JSON documents with an integer version, the same
// shape the real stores persist.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[string][]byte
	versions map[string]int

	// conflicts makes the next N saves fail as if another writer got there first.
	conflicts int
	saveErr   error
	loadErr   error
	// onSave runs before a save is applied, with the lock released.
	onSave func(b *Board)

	loads int
	saves int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: map[string][]byte{}, versions: map[string]int{}}
}

func (f *fakeStore) put(b *Board) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, _ := json.Marshal(b)
	f.docs[b.ID] = raw
	f.versions[b.ID]++
}

func (f *fakeStore) get(id string) *Board {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.docs[id]
	if !ok {
		return nil
	}
	var b Board
	_ = json.Unmarshal(raw, &b)
	b.Version = strconv.Itoa(f.versions[id])
	return &b
}

func (f *fakeStore) LoadBoard(ctx context.Context, id string) (*Board, error) {
	f.mu.Lock()
	f.loads++
	loadErr := f.loadErr
	f.mu.Unlock()
	if loadErr != nil {
		return nil, loadErr
	}
	b := f.get(id)
	if b == nil {
		return nil, ErrBoardNotFound
	}
	return b, nil
}

func (f *fakeStore) SaveBoard(ctx context.Context, b *Board) (string, error) {
	if f.onSave != nil {
		f.onSave(b)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return "", f.saveErr
	}
	if _, ok := f.docs[b.ID]; !ok {
		return "", ErrBoardNotFound
	}
	if f.conflicts > 0 {
		f.conflicts--
		f.versions[b.ID]++
		return "", ErrConcurrentModification
	}
	if strconv.Itoa(f.versions[b.ID]) != b.Version {
		return "", ErrConcurrentModification
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	f.docs[b.ID] = raw
	f.versions[b.ID]++
	return strconv.Itoa(f.versions[b.ID]), nil
}

func (f *fakeStore) CreateBoard(ctx context.Context, b *Board) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[b.ID]; ok {
		return "", errors.New("board exists")
	}
	raw, _ := json.Marshal(b)
	f.docs[b.ID] = raw
	f.versions[b.ID] = 1
	return "1", nil
}

func (f *fakeStore) DeleteBoard(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return ErrBoardNotFound
	}
	delete(f.docs, id)
	delete(f.versions, id)
	return nil
}

// fakeSink records dispatched effects.
type fakeSink struct {
	mu  sync.Mutex
	got []Effects
}

func (s *fakeSink) Dispatch(ctx context.Context, fx Effects) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, fx)
}

func (s *fakeSink) activities() []Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Activity
	for _, fx := range s.got {
		out = append(out, fx.Activities...)
	}
	return out
}

func (s *fakeSink) notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, fx := range s.got {
		out = append(out, fx.Notifications...)
	}
	return out
}

type fakeRecorder struct {
	err error
	got []Activity
}

func (r *fakeRecorder) Record(ctx context.Context, a Activity) error {
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, a)
	return nil
}

type fakeNotifier struct {
	err error
	got []Notification
}

func (n *fakeNotifier) Notify(ctx context.Context, msg Notification) error {
	if n.err != nil {
		return n.err
	}
	n.got = append(n.got, msg)
	return nil
}
