package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and single-node setups.
// Writes are serialized by a mutex, which makes last-write-wins trivial;
// notifications are fanned out asynchronously so a slow subscriber never
// blocks a writer.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]interface{}
	subs map[*subscription]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]interface{}),
		subs: make(map[*subscription]struct{}),
	}
}

// subscription pumps changes to a single subscriber through an unbounded
// queue, preserving at-least-once delivery without blocking publishers.
type subscription struct {
	target     string // document path, or collection path when collection is true
	collection bool

	mu     sync.Mutex
	queue  []Change
	wake   chan struct{}
	done   chan struct{}
	closed bool
	ch     chan Change
}

func newSubscription(target string, collection bool) *subscription {
	s := &subscription{
		target:     target,
		collection: collection,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		ch:         make(chan Change),
	}
	go s.pump()
	return s
}

func (s *subscription) push(c Change) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pump() {
	defer close(s.ch)
	for range s.wake {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			// A cancelled subscriber may stop draining with the queue
			// non-empty; never stay blocked on the send.
			select {
			case s.ch <- next:
			case <-s.done:
				return
			}
		}
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	close(s.wake)
	close(s.done)
}

func (s *subscription) wants(path string) bool {
	if s.collection {
		return Collection(path) == s.target
	}
	return path == s.target
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, path string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{Path: path, Fields: cloneFields(fields)}, nil
}

// Set implements Store. A merge write keeps fields absent from the payload.
func (m *MemoryStore) Set(_ context.Context, path string, fields map[string]interface{}, merge bool) error {
	m.mu.Lock()
	current, exists := m.docs[path]
	var next map[string]interface{}
	if merge && exists {
		next = cloneFields(current)
	} else {
		next = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		next[k] = v
	}
	m.docs[path] = next
	doc := &Document{Path: path, Fields: cloneFields(next)}
	subs := m.matchingSubs(path)
	m.mu.Unlock()

	for _, s := range subs {
		s.push(Change{Path: path, Doc: doc})
	}
	return nil
}

// Delete implements Store. Deleting a missing document is a no-op.
func (m *MemoryStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	_, exists := m.docs[path]
	delete(m.docs, path)
	var subs []*subscription
	if exists {
		subs = m.matchingSubs(path)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.push(Change{Path: path, Doc: nil})
	}
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, q Query) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := q.Collection + "/"
	var out []*Document
	for path, fields := range m.docs {
		if !strings.HasPrefix(path, prefix) || Collection(path) != q.Collection {
			continue
		}
		doc := &Document{Path: path, Fields: cloneFields(fields)}
		if !matches(doc, q.Where) {
			continue
		}
		out = append(out, doc)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// Subscribe implements Store.
func (m *MemoryStore) Subscribe(_ context.Context, path string) (<-chan Change, func(), error) {
	sub := newSubscription(path, false)

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	if fields, ok := m.docs[path]; ok {
		sub.push(Change{Path: path, Doc: &Document{Path: path, Fields: cloneFields(fields)}})
	} else {
		sub.push(Change{Path: path, Doc: nil})
	}
	m.mu.Unlock()

	return sub.ch, func() { m.unsubscribe(sub) }, nil
}

// SubscribeCollection implements Store.
func (m *MemoryStore) SubscribeCollection(_ context.Context, collection string) (<-chan Change, func(), error) {
	sub := newSubscription(collection, true)

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	prefix := collection + "/"
	for path, fields := range m.docs {
		if strings.HasPrefix(path, prefix) && Collection(path) == collection {
			sub.push(Change{Path: path, Doc: &Document{Path: path, Fields: cloneFields(fields)}})
		}
	}
	m.mu.Unlock()

	return sub.ch, func() { m.unsubscribe(sub) }, nil
}

func (m *MemoryStore) unsubscribe(sub *subscription) {
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
	sub.close()
}

// matchingSubs must be called with m.mu held.
func (m *MemoryStore) matchingSubs(path string) []*subscription {
	var out []*subscription
	for s := range m.subs {
		if s.wants(path) {
			out = append(out, s)
		}
	}
	return out
}

func cloneFields(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
