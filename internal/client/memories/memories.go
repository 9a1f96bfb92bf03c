// Package memories is the read/write surface for shared timeline items.
// Reads go through the local cache: online fetches replace the snapshot,
// offline or failed fetches fall back to the last-known-good copy and
// never surface a network error. Writes invalidate the snapshot so the
// next read goes authoritative.
package memories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"couplesync/internal/client/cache"
	"couplesync/internal/client/pairing"
	"couplesync/internal/client/store"
	"couplesync/internal/common"
	"couplesync/internal/milestone"
	"couplesync/internal/models"
)

// ContentRemover invalidates the binary content a memory references.
// *blob.Store satisfies it.
type ContentRemover interface {
	Delete(ctx context.Context, url string) error
}

// Store is the memories façade over the document store and local cache.
type Store struct {
	docs    store.Store
	cache   *cache.Store
	pairs   *pairing.Service
	content ContentRemover  // optional
	online  func() bool     // device connectivity probe
	now     func() time.Time
	log     zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithContentRemover wires blob invalidation into memory deletion.
func WithContentRemover(r ContentRemover) Option {
	return func(s *Store) { s.content = r }
}

// WithOnlineProbe overrides the connectivity probe. The default assumes
// online; the probe short-circuits to the cached snapshot when false.
func WithOnlineProbe(probe func() bool) Option {
	return func(s *Store) { s.online = probe }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a memories store.
func NewStore(docs store.Store, localCache *cache.Store, pairs *pairing.Service, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		docs:   docs,
		cache:  localCache,
		pairs:  pairs,
		online: func() bool { return true },
		now:    time.Now,
		log:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetMemories returns the user's shared memories, newest first. Offline
// or on fetch failure it returns the cached snapshot (or an empty list),
// never a network error.
func (s *Store) GetMemories(ctx context.Context, userID string) ([]models.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("get memories: %w", common.ErrAuthRequired)
	}
	key := cache.MemoriesKey(userID)

	if !s.online() {
		return s.cachedOrEmpty(ctx, key), nil
	}

	pair, err := s.pairs.GetPair(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		return []models.Memory{}, nil
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("Pair lookup failed, serving cached memories")
		return s.cachedOrEmpty(ctx, key), nil
	}

	docs, err := s.docs.ListDocuments(ctx, models.CollectionMemories,
		[]store.Filter{store.Equal("pair_id", pair.ID)},
		&store.Order{Field: "date", Desc: true})
	if err != nil {
		s.log.Warn().Err(err).Msg("Memories fetch failed, serving cached snapshot")
		return s.cachedOrEmpty(ctx, key), nil
	}

	out := make([]models.Memory, 0, len(docs))
	for _, doc := range docs {
		mem, err := memoryFromDocument(doc)
		if err != nil {
			s.log.Warn().Err(err).Str("memory_id", doc.ID).Msg("Skipping undecodable memory")
			continue
		}
		out = append(out, *mem)
	}

	if err := cache.SetJSON(ctx, s.cache, key, out); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache memories snapshot")
	}
	return out, nil
}

// AddMemoryRequest carries the fields of a new memory.
type AddMemoryRequest struct {
	Content string // content reference, e.g. an uploaded photo URL
	Note    string
}

// AddMemory creates a memory authored by userID in their pair, stamping
// the current day count. The cached snapshot is invalidated so the next
// read refetches.
func (s *Store) AddMemory(ctx context.Context, userID string, req AddMemoryRequest) (*models.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("add memory: %w", common.ErrAuthRequired)
	}
	pair, err := s.pairs.GetPair(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}

	now := s.now()
	dayCount := 0
	if start, err := models.ParseDate(pair.StartDate); err == nil {
		dayCount = milestone.DaysTogether(start, now)
	}

	doc, err := s.docs.CreateDocument(ctx, models.CollectionMemories, map[string]any{
		"pair_id":           pair.ID,
		"date":              now.Format(time.RFC3339),
		"day_count":         dayCount,
		"content":           req.Content,
		"author_a":          userID,
		"note_a":            req.Note,
		"is_private":        false,
		"milestone_reached": milestone.IsBigMilestone(dayCount),
	})
	if err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}

	s.invalidate(ctx, userID)
	s.log.Info().Str("memory_id", doc.ID).Int("day_count", dayCount).Msg("Memory added")
	return memoryFromDocument(doc)
}

// Annotate sets the partner's note on a memory. It may happen at most
// once, and only by a participant other than the creator.
func (s *Store) Annotate(ctx context.Context, userID, memoryID, note string) (*models.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("annotate memory: %w", common.ErrAuthRequired)
	}
	doc, err := s.docs.GetDocument(ctx, models.CollectionMemories, memoryID)
	if err != nil {
		return nil, fmt.Errorf("annotate memory: %w", err)
	}
	mem, err := memoryFromDocument(doc)
	if err != nil {
		return nil, err
	}
	if mem.AuthorA == userID {
		return nil, fmt.Errorf("annotate memory: creator cannot partner-annotate: %w", common.ErrConflict)
	}
	if mem.AuthorB != "" {
		return nil, fmt.Errorf("annotate memory: already annotated: %w", common.ErrConflict)
	}

	updated, err := s.docs.UpdateDocument(ctx, models.CollectionMemories, memoryID, mem.Version, map[string]any{
		"note_b":   note,
		"author_b": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("annotate memory: %w", err)
	}

	s.invalidate(ctx, userID)
	return memoryFromDocument(updated)
}

// EditNote updates the creator's own note.
func (s *Store) EditNote(ctx context.Context, userID, memoryID, note string) (*models.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("edit note: %w", common.ErrAuthRequired)
	}
	doc, err := s.docs.GetDocument(ctx, models.CollectionMemories, memoryID)
	if err != nil {
		return nil, fmt.Errorf("edit note: %w", err)
	}
	mem, err := memoryFromDocument(doc)
	if err != nil {
		return nil, err
	}
	if mem.AuthorA != userID {
		return nil, fmt.Errorf("edit note: only the creator may edit: %w", common.ErrConflict)
	}

	updated, err := s.docs.UpdateDocument(ctx, models.CollectionMemories, memoryID, mem.Version, map[string]any{
		"note_a": note,
	})
	if err != nil {
		return nil, fmt.Errorf("edit note: %w", err)
	}

	s.invalidate(ctx, userID)
	return memoryFromDocument(updated)
}

// DeleteMemory removes a memory. Only the creator may delete; the
// associated content object is invalidated best-effort first.
func (s *Store) DeleteMemory(ctx context.Context, userID, memoryID string) error {
	if userID == "" {
		return fmt.Errorf("delete memory: %w", common.ErrAuthRequired)
	}
	doc, err := s.docs.GetDocument(ctx, models.CollectionMemories, memoryID)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	mem, err := memoryFromDocument(doc)
	if err != nil {
		return err
	}
	if mem.AuthorA != userID {
		return fmt.Errorf("delete memory: only the creator may delete: %w", common.ErrConflict)
	}

	if s.content != nil && mem.Content != "" {
		if err := s.content.Delete(ctx, mem.Content); err != nil {
			s.log.Warn().Err(err).Str("memory_id", memoryID).Msg("Failed to delete memory content")
		}
	}

	if err := s.docs.DeleteDocument(ctx, models.CollectionMemories, memoryID); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}

	s.invalidate(ctx, userID)
	s.log.Info().Str("memory_id", memoryID).Msg("Memory deleted")
	return nil
}

// invalidate drops the user's cached snapshot after a mutation so the
// next read is forced to go authoritative.
func (s *Store) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Remove(ctx, cache.MemoriesKey(userID)); err != nil {
		s.log.Warn().Err(err).Msg("Failed to invalidate memories cache")
	}
}

func (s *Store) cachedOrEmpty(ctx context.Context, key string) []models.Memory {
	cached, ok, err := cache.GetJSON[[]models.Memory](ctx, s.cache, key)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read cached memories")
	}
	if !ok || cached == nil {
		return []models.Memory{}
	}
	return cached
}

func memoryFromDocument(doc *store.Document) (*models.Memory, error) {
	data, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", doc.ID, err)
	}
	var mem models.Memory
	if err := json.Unmarshal(data, &mem); err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", doc.ID, err)
	}
	mem.ID = doc.ID
	mem.Version = doc.Version
	return &mem, nil
}
