package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[int64]*Item
	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[int64]*Item), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == 0 {
		s.nextID++
		item.ID = s.nextID
		if item.CreatedAt.IsZero() {
			item.CreatedAt = s.now()
		}
	} else if _, ok := s.items[item.ID]; !ok {
		return ErrNotFound
	}
	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id int64) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *MemoryStore) Query(_ context.Context, status Status, limit int) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Item
	for _, item := range s.sorted() {
		if item.Status != status {
			continue
		}
		out = append(out, cloneItem(item))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Item
	items := s.sorted()
	for i := len(items) - 1; i >= 0; i-- {
		if opts.Status != nil && items[i].Status != *opts.Status {
			continue
		}
		matched = append(matched, items[i])
	}

	if opts.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*Item, len(matched))
	for i, item := range matched {
		out[i] = cloneItem(item)
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, days int, status Status) (int64, error) {
	if err := CheckRetentionStatus(status); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	limit := cutoff(s.now(), days)
	var n int64
	for id, item := range s.items {
		if item.Status == status && !item.CreatedAt.After(limit) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }

// sorted returns items in ascending id order. Caller holds mu.
func (s *MemoryStore) sorted() []*Item {
	out := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneItem(item *Item) *Item {
	c := *item
	if item.SentAt != nil {
		t := *item.SentAt
		c.SentAt = &t
	}
	return &c
}
