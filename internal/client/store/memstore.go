package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"couplesync/internal/common"
	"couplesync/internal/models"
)

// MemStore is an in-memory Store and Session used by tests and offline
// development. Versioning and the conditional update are enforced under a
// single mutex, so it is safe for concurrent callers.
type MemStore struct {
	mu        sync.Mutex
	docs      map[string]map[string]*Document // collection -> id -> doc
	subs      map[int64]*memSub
	nextSub   int64
	identity  *models.Identity
	failure   error // when set, every store call fails with it
	now       func() time.Time
}

type memSub struct {
	collections map[string]bool
	onEvent     EventHandler
	onError     ErrorHandler
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		docs: make(map[string]map[string]*Document),
		subs: make(map[int64]*memSub),
		now:  time.Now,
	}
}

// SetIdentity sets the identity reported by CurrentIdentity. Pass nil to
// simulate a signed-out session.
func (m *MemStore) SetIdentity(id *models.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = id
}

// SetFailure makes every subsequent store call fail with err. Pass nil to
// restore normal operation. Used to simulate offline conditions.
func (m *MemStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *MemStore) CurrentIdentity(ctx context.Context) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil, nil
	}
	cp := *m.identity
	return &cp, nil
}

func (m *MemStore) SignOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = nil
	return nil
}

func (m *MemStore) CreateDocument(ctx context.Context, collection string, fields map[string]any) (*Document, error) {
	m.mu.Lock()
	if m.failure != nil {
		defer m.mu.Unlock()
		return nil, m.failure
	}
	col, ok := m.docs[collection]
	if !ok {
		col = make(map[string]*Document)
		m.docs[collection] = col
	}
	now := m.now()
	doc := &Document{
		ID:         uuid.New().String(),
		Collection: collection,
		Version:    1,
		Fields:     copyFields(fields),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	col[doc.ID] = doc
	out := cloneDoc(doc)
	ev := eventFor(doc, models.EventCreated)
	handlers := m.handlersFor(collection)
	m.mu.Unlock()

	dispatch(handlers, ev)
	return out, nil
}

func (m *MemStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, m.failure
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, common.ErrNotFound)
	}
	return cloneDoc(doc), nil
}

func (m *MemStore) UpdateDocument(ctx context.Context, collection, id string, expectedVersion int64, patch map[string]any) (*Document, error) {
	m.mu.Lock()
	if m.failure != nil {
		defer m.mu.Unlock()
		return nil, m.failure
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, common.ErrNotFound)
	}
	if doc.Version != expectedVersion {
		m.mu.Unlock()
		return nil, fmt.Errorf("update %s/%s: stale version %d: %w", collection, id, expectedVersion, common.ErrConflict)
	}
	for k, v := range patch {
		doc.Fields[k] = v
	}
	doc.Version++
	doc.UpdatedAt = m.now()
	out := cloneDoc(doc)
	ev := eventFor(doc, models.EventUpdated)
	handlers := m.handlersFor(collection)
	m.mu.Unlock()

	dispatch(handlers, ev)
	return out, nil
}

func (m *MemStore) DeleteDocument(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	if m.failure != nil {
		defer m.mu.Unlock()
		return m.failure
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("delete %s/%s: %w", collection, id, common.ErrNotFound)
	}
	delete(m.docs[collection], id)
	ev := eventFor(doc, models.EventDeleted)
	handlers := m.handlersFor(collection)
	m.mu.Unlock()

	dispatch(handlers, ev)
	return nil
}

func (m *MemStore) ListDocuments(ctx context.Context, collection string, filters []Filter, order *Order) ([]*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, m.failure
	}
	var out []*Document
	for _, doc := range m.docs[collection] {
		if matches(doc, filters) {
			out = append(out, cloneDoc(doc))
		}
	}
	if order != nil {
		sort.SliceStable(out, func(i, j int) bool {
			a := fmt.Sprint(out[i].Fields[order.Field])
			b := fmt.Sprint(out[j].Fields[order.Field])
			if order.Desc {
				return a > b
			}
			return a < b
		})
	}
	return out, nil
}

func (m *MemStore) Subscribe(ctx context.Context, collections []string, onEvent EventHandler, onError ErrorHandler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, m.failure
	}
	id := m.nextSub
	m.nextSub++
	sub := &memSub{collections: make(map[string]bool), onEvent: onEvent, onError: onError}
	for _, c := range collections {
		sub.collections[c] = true
	}
	m.subs[id] = sub
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}, nil
}

// SubscriberCount reports the number of live subscriptions, for leak
// assertions in tests.
func (m *MemStore) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// FailSubscribers delivers err to every live subscription's error
// handler, simulating a transport drop.
func (m *MemStore) FailSubscribers(err error) {
	m.mu.Lock()
	var handlers []ErrorHandler
	for _, sub := range m.subs {
		if sub.onError != nil {
			handlers = append(handlers, sub.onError)
		}
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

func (m *MemStore) handlersFor(collection string) []EventHandler {
	var out []EventHandler
	for _, sub := range m.subs {
		if sub.collections[collection] {
			out = append(out, sub.onEvent)
		}
	}
	return out
}

func dispatch(handlers []EventHandler, ev models.ChangeEvent) {
	for _, h := range handlers {
		h(ev)
	}
}

func eventFor(doc *Document, eventType string) models.ChangeEvent {
	return models.ChangeEvent{
		Collection: doc.Collection,
		DocumentID: doc.ID,
		EventType:  eventType,
		Payload:    copyFields(doc.Fields),
	}
}

func matches(doc *Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc.Fields[f.Field]
		if !ok {
			return false
		}
		switch f.Op {
		case OpEqual:
			if fmt.Sprint(v) != fmt.Sprint(f.Value) {
				return false
			}
		case OpContains:
			if !sliceContains(v, f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func sliceContains(v, want any) bool {
	switch items := v.(type) {
	case []string:
		for _, it := range items {
			if it == fmt.Sprint(want) {
				return true
			}
		}
	case []any:
		for _, it := range items {
			if fmt.Sprint(it) == fmt.Sprint(want) {
				return true
			}
		}
	}
	return false
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if s, ok := v.([]string); ok {
			out[k] = append([]string(nil), s...)
			continue
		}
		out[k] = v
	}
	return out
}

func cloneDoc(doc *Document) *Document {
	cp := *doc
	cp.Fields = copyFields(doc.Fields)
	return &cp
}
