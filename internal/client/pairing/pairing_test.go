package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"couplesync/internal/client/cache"
	"couplesync/internal/client/store"
	"couplesync/internal/common"
	"couplesync/internal/models"
)

func newService(t *testing.T) (*Service, *store.MemStore) {
	t.Helper()
	mem := store.NewMemStore()
	return NewService(mem, zerolog.Nop()), mem
}

func TestCreatePairRequiresAuth(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.CreatePair(context.Background(), "", "2024-06-01")
	require.ErrorIs(t, err, common.ErrAuthRequired)
}

func TestCreatePairValidatesStartDate(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.CreatePair(context.Background(), "alice", "June 1st")
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestCreatePairPending(t *testing.T) {
	svc, _ := newService(t)
	pair, err := svc.CreatePair(context.Background(), "alice", "2024-06-01")
	require.NoError(t, err)
	require.Len(t, pair.InviteCode, 8)
	require.Equal(t, pair.InviteCode, NormalizeCode(pair.InviteCode))
	require.Equal(t, models.PairStatusPending, pair.Status)
	require.Equal(t, []string{"alice"}, pair.Users)
	require.Equal(t, "2024-06-01", pair.StartDate)
}

func TestCheckInviteCodeRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	pair, err := svc.CreatePair(ctx, "alice", "2024-06-01")
	require.NoError(t, err)

	exists, err := svc.CheckInviteCode(ctx, pair.InviteCode)
	require.NoError(t, err)
	require.True(t, exists)

	// Case-insensitive lookup.
	exists, err = svc.CheckInviteCode(ctx, "  "+lower(pair.InviteCode)+" ")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = svc.CheckInviteCode(ctx, "ZZZZ9999")
	require.NoError(t, err)
	require.False(t, exists)
}

func lower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + 32
		}
	}
	return string(out)
}

func TestJoinPairActivates(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	pair, err := svc.CreatePair(ctx, "alice", "2024-06-01")
	require.NoError(t, err)

	joined, err := svc.JoinPair(ctx, "bob", lower(pair.InviteCode))
	require.NoError(t, err)
	require.Equal(t, models.PairStatusActive, joined.Status)
	require.ElementsMatch(t, []string{"alice", "bob"}, joined.Users)
}

func TestJoinPairUnknownCode(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.JoinPair(context.Background(), "bob", "NOPE1234")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestJoinPairIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	pair, err := svc.CreatePair(ctx, "alice", "2024-06-01")
	require.NoError(t, err)

	first, err := svc.JoinPair(ctx, "bob", pair.InviteCode)
	require.NoError(t, err)

	again, err := svc.JoinPair(ctx, "bob", pair.InviteCode)
	require.NoError(t, err)
	require.Equal(t, first.Users, again.Users)
	require.Len(t, again.Users, 2)

	// The creator re-joining their own pair is a no-op too.
	owner, err := svc.JoinPair(ctx, "alice", pair.InviteCode)
	require.NoError(t, err)
	require.Len(t, owner.Users, 2)
}

func TestJoinPairFull(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	pair, err := svc.CreatePair(ctx, "alice", "2024-06-01")
	require.NoError(t, err)
	_, err = svc.JoinPair(ctx, "bob", pair.InviteCode)
	require.NoError(t, err)

	_, err = svc.JoinPair(ctx, "carol", pair.InviteCode)
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestConcurrentJoinsNeverExceedTwoMembers(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	pair, err := svc.CreatePair(ctx, "owner", "2024-06-01")
	require.NoError(t, err)

	const joiners = 8
	errs := make([]error, joiners)
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.JoinPair(ctx, fmt.Sprintf("user-%d", i), pair.InviteCode)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		require.ErrorIs(t, err, common.ErrConflict)
	}
	require.Equal(t, 1, winners)

	final, err := svc.GetPair(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, final.Users, 2)
	require.Equal(t, models.PairStatusActive, final.Status)
}

func TestGetPair(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.GetPair(ctx, "alice")
	require.ErrorIs(t, err, common.ErrNotFound)

	created, err := svc.CreatePair(ctx, "alice", "2024-06-01")
	require.NoError(t, err)

	got, err := svc.GetPair(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
}

func TestSetStartDate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreatePair(ctx, "alice", "2024-06-01")
	require.NoError(t, err)

	updated, err := svc.SetStartDate(ctx, "alice", "2024-01-15")
	require.NoError(t, err)
	require.Equal(t, "2024-01-15", updated.StartDate)

	_, err = svc.SetStartDate(ctx, "alice", "not-a-date")
	require.ErrorIs(t, err, common.ErrValidation)

	// The identity guard wins over input validation.
	_, err = svc.SetStartDate(ctx, "", "not-a-date")
	require.ErrorIs(t, err, common.ErrAuthRequired)
}

func TestLeavePairIsTerminal(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	pair, err := svc.CreatePair(ctx, "alice", "2024-06-01")
	require.NoError(t, err)
	_, err = svc.JoinPair(ctx, "bob", pair.InviteCode)
	require.NoError(t, err)

	require.NoError(t, svc.LeavePair(ctx, "bob"))

	_, err = svc.GetPair(ctx, "alice")
	require.ErrorIs(t, err, common.ErrNotFound)

	exists, err := svc.CheckInviteCode(ctx, pair.InviteCode)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestGetPairServesCachedSnapshotWhenUnreachable(t *testing.T) {
	mem := store.NewMemStore()
	local, err := cache.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	svc := NewService(mem, zerolog.Nop(), WithCache(local))
	ctx := context.Background()

	created, err := svc.CreatePair(ctx, "alice", "2024-06-01")
	require.NoError(t, err)

	// The durable settings survive alongside the snapshot.
	startDate, err := local.GetString(ctx, cache.KeyStartDate)
	require.NoError(t, err)
	require.Equal(t, "2024-06-01", startDate)
	code, err := local.GetString(ctx, cache.KeyInviteCode)
	require.NoError(t, err)
	require.Equal(t, created.InviteCode, code)

	mem.SetFailure(fmt.Errorf("dial tcp: %w", common.ErrNetwork))
	got, err := svc.GetPair(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, created.InviteCode, got.InviteCode)
}

func TestLeavePairDropsCachedSnapshot(t *testing.T) {
	mem := store.NewMemStore()
	local, err := cache.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	svc := NewService(mem, zerolog.Nop(), WithCache(local))
	ctx := context.Background()

	_, err = svc.CreatePair(ctx, "alice", "2024-06-01")
	require.NoError(t, err)
	require.NoError(t, svc.LeavePair(ctx, "alice"))

	// With the snapshot gone, an unreachable store surfaces the failure
	// instead of a stale pair.
	mem.SetFailure(fmt.Errorf("dial tcp: %w", common.ErrNetwork))
	_, err = svc.GetPair(ctx, "alice")
	require.ErrorIs(t, err, common.ErrNetwork)
}

func TestJoinPairPropagatesNetworkError(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	pair, err := svc.CreatePair(ctx, "alice", "2024-06-01")
	require.NoError(t, err)

	mem.SetFailure(fmt.Errorf("dial tcp: %w", common.ErrNetwork))
	_, err = svc.JoinPair(ctx, "bob", pair.InviteCode)
	require.True(t, errors.Is(err, common.ErrNetwork))
}
