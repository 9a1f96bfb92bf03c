package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"couplesync/internal/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissReturnsNil(t *testing.T) {
	s := openStore(t)
	v, err := s.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestSetGetRemove(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v1")))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	// Last write wins.
	require.NoError(t, s.Set(ctx, "k", []byte("v2")))
	v, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)

	require.NoError(t, s.Remove(ctx, "k"))
	v, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, v)

	// Removing twice is fine.
	require.NoError(t, s.Remove(ctx, "k"))
}

func TestJSONSnapshotRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	memories := []models.Memory{
		{ID: "m1", PairID: "p1", DayCount: 3, NoteA: "first"},
		{ID: "m2", PairID: "p1", DayCount: 7},
	}
	require.NoError(t, SetJSON(ctx, s, MemoriesKey("u1"), memories))

	got, ok, err := GetJSON[[]models.Memory](ctx, s, MemoriesKey("u1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, memories, got)

	_, ok, err = GetJSON[[]models.Memory](ctx, s, MemoriesKey("u2"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPerUserKeysDoNotCollide(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, s, PairKey("u1"), models.Pair{ID: "p1"}))
	require.NoError(t, SetJSON(ctx, s, PairKey("u2"), models.Pair{ID: "p2"}))

	p1, ok, err := GetJSON[models.Pair](ctx, s, PairKey("u1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "p1", p1.ID)

	p2, ok, err := GetJSON[models.Pair](ctx, s, PairKey("u2"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "p2", p2.ID)
}

func TestDurableSettings(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetString(ctx, KeyStartDate, "2024-06-01"))
	require.NoError(t, s.SetString(ctx, KeyLanguage, "en"))

	got, err := s.GetString(ctx, KeyStartDate)
	require.NoError(t, err)
	require.Equal(t, "2024-06-01", got)

	got, err = s.GetString(ctx, KeyInviteCode)
	require.NoError(t, err)
	require.Empty(t, got)
}
