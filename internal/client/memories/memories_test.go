package memories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"couplesync/internal/client/blob"
	"couplesync/internal/client/cache"
	"couplesync/internal/client/pairing"
	"couplesync/internal/client/store"
	"couplesync/internal/common"
)

// *blob.Store is the content remover in production wiring.
var _ ContentRemover = (*blob.Store)(nil)

type fixture struct {
	mem    *store.MemStore
	cache  *cache.Store
	pairs  *pairing.Service
	store  *Store
	online bool
}

type recordingRemover struct {
	deleted []string
}

func (r *recordingRemover) Delete(ctx context.Context, url string) error {
	r.deleted = append(r.deleted, url)
	return nil
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mem := store.NewMemStore()
	local, err := cache.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	f := &fixture{mem: mem, cache: local, online: true}
	f.pairs = pairing.NewService(mem, zerolog.Nop())

	now := time.Date(2024, time.June, 11, 15, 0, 0, 0, time.Local)
	opts = append([]Option{
		WithOnlineProbe(func() bool { return f.online }),
		WithClock(func() time.Time { return now }),
	}, opts...)
	f.store = NewStore(mem, local, f.pairs, zerolog.Nop(), opts...)
	return f
}

func (f *fixture) pairUp(t *testing.T) {
	t.Helper()
	pair, err := f.pairs.CreatePair(context.Background(), "alice", "2024-06-01")
	require.NoError(t, err)
	_, err = f.pairs.JoinPair(context.Background(), "bob", pair.InviteCode)
	require.NoError(t, err)
}

func TestGetMemoriesRequiresAuth(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.GetMemories(context.Background(), "")
	require.ErrorIs(t, err, common.ErrAuthRequired)
}

func TestGetMemoriesWithoutPairIsEmpty(t *testing.T) {
	f := newFixture(t)
	got, err := f.store.GetMemories(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestAddMemoryStampsDayCount(t *testing.T) {
	f := newFixture(t)
	f.pairUp(t)

	mem, err := f.store.AddMemory(context.Background(), "alice", AddMemoryRequest{
		Content: "s3://bucket/p/1.jpg",
		Note:    "our picnic",
	})
	require.NoError(t, err)
	// Start 2024-06-01, clock 2024-06-11: ten days in.
	require.Equal(t, 10, mem.DayCount)
	require.Equal(t, "alice", mem.AuthorA)
	require.Equal(t, "our picnic", mem.NoteA)
	require.False(t, mem.MilestoneReached)
}

func TestGetMemoriesNewestFirstAndCached(t *testing.T) {
	f := newFixture(t)
	f.pairUp(t)
	ctx := context.Background()

	_, err := f.store.AddMemory(ctx, "alice", AddMemoryRequest{Note: "first"})
	require.NoError(t, err)
	_, err = f.store.AddMemory(ctx, "bob", AddMemoryRequest{Note: "second"})
	require.NoError(t, err)

	got, err := f.store.GetMemories(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// The fetch populated the snapshot.
	cached, ok, err := cache.GetJSON[[]interface{}](ctx, f.cache, cache.MemoriesKey("alice"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cached, 2)
}

func TestGetMemoriesOfflineFallback(t *testing.T) {
	f := newFixture(t)
	f.pairUp(t)
	ctx := context.Background()

	_, err := f.store.AddMemory(ctx, "alice", AddMemoryRequest{Note: "keep me"})
	require.NoError(t, err)

	fresh, err := f.store.GetMemories(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	// Device goes offline: serve the snapshot, unchanged, no error.
	f.online = false
	got, err := f.store.GetMemories(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, fresh, got)
}

func TestGetMemoriesNetworkFailureFallback(t *testing.T) {
	f := newFixture(t)
	f.pairUp(t)
	ctx := context.Background()

	_, err := f.store.AddMemory(ctx, "alice", AddMemoryRequest{Note: "keep me"})
	require.NoError(t, err)
	fresh, err := f.store.GetMemories(ctx, "alice")
	require.NoError(t, err)

	// Still "online" per the probe, but every store call fails.
	f.mem.SetFailure(fmt.Errorf("dial tcp: %w", common.ErrNetwork))
	got, err := f.store.GetMemories(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, fresh, got)
}

func TestGetMemoriesNetworkFailureNoCacheIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.pairUp(t)

	f.mem.SetFailure(fmt.Errorf("dial tcp: %w", common.ErrNetwork))
	got, err := f.store.GetMemories(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestAnnotateOnceByPartnerOnly(t *testing.T) {
	f := newFixture(t)
	f.pairUp(t)
	ctx := context.Background()

	mem, err := f.store.AddMemory(ctx, "alice", AddMemoryRequest{Note: "mine"})
	require.NoError(t, err)

	// The creator cannot partner-annotate their own memory.
	_, err = f.store.Annotate(ctx, "alice", mem.ID, "nope")
	require.ErrorIs(t, err, common.ErrConflict)

	annotated, err := f.store.Annotate(ctx, "bob", mem.ID, "lovely")
	require.NoError(t, err)
	require.Equal(t, "bob", annotated.AuthorB)
	require.Equal(t, "lovely", annotated.NoteB)

	// Second annotation is rejected.
	_, err = f.store.Annotate(ctx, "bob", mem.ID, "again")
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestEditNoteOnlyByCreator(t *testing.T) {
	f := newFixture(t)
	f.pairUp(t)
	ctx := context.Background()

	mem, err := f.store.AddMemory(ctx, "alice", AddMemoryRequest{Note: "draft"})
	require.NoError(t, err)

	_, err = f.store.EditNote(ctx, "bob", mem.ID, "hijack")
	require.ErrorIs(t, err, common.ErrConflict)

	edited, err := f.store.EditNote(ctx, "alice", mem.ID, "final")
	require.NoError(t, err)
	require.Equal(t, "final", edited.NoteA)
}

func TestDeleteMemoryInvalidatesCacheAndContent(t *testing.T) {
	remover := &recordingRemover{}
	f := newFixture(t, WithContentRemover(remover))
	f.pairUp(t)
	ctx := context.Background()

	mem, err := f.store.AddMemory(ctx, "alice", AddMemoryRequest{Content: "s3://bucket/p/1.jpg"})
	require.NoError(t, err)
	_, err = f.store.GetMemories(ctx, "alice")
	require.NoError(t, err)

	// Only the creator may delete.
	err = f.store.DeleteMemory(ctx, "bob", mem.ID)
	require.ErrorIs(t, err, common.ErrConflict)

	require.NoError(t, f.store.DeleteMemory(ctx, "alice", mem.ID))
	require.Equal(t, []string{"s3://bucket/p/1.jpg"}, remover.deleted)

	// Snapshot was invalidated, not left stale.
	_, ok, err := cache.GetJSON[[]interface{}](ctx, f.cache, cache.MemoriesKey("alice"))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := f.store.GetMemories(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, got)
}
