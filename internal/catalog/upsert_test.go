package catalog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"catalogsync/internal"
	"catalogsync/internal/lease"
)

func makeRecords(n int) []internal.ProductRecord {
	out := make([]internal.ProductRecord, n)
	for i := range out {
		out[i] = validRecord(fmt.Sprintf("%08d", 10000000+i), 20)
	}
	return out
}

func acquire(t *testing.T) lease.Lease {
	t.Helper()
	l, err := lease.NewLocalLocker().Acquire(context.Background(), LeaseName, time.Minute)
	require.NoError(t, err)
	return l
}

func TestCoordinatorBatchesAndReplayIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := NewCoordinator(store, 100, 4, 0, nil)
	held := acquire(t)

	res, err := c.Upsert(ctx, held, makeRecords(250))
	require.NoError(t, err)
	require.Len(t, res.Batches, 3)
	require.Equal(t, 250, res.Upserted)
	require.Equal(t, 0, res.Failed)
	require.Equal(t, []int{100, 100, 50}, []int{res.Batches[0].Size, res.Batches[1].Size, res.Batches[2].Size})
	require.Equal(t, 250, store.writes)

	again, err := c.Upsert(ctx, held, makeRecords(250))
	require.NoError(t, err)
	require.Equal(t, 0, again.Upserted)
	require.Equal(t, 250, again.Unchanged)
	require.Equal(t, 250, store.writes, "replay must not write")
}

func TestCoordinatorFailedBatchDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failCode = "10000150"
	c := NewCoordinator(store, 100, 2, 0, nil)

	res, err := c.Upsert(ctx, acquire(t), makeRecords(250))
	require.NoError(t, err)
	require.Equal(t, 150, res.Upserted)
	require.Equal(t, 100, res.Failed)
	require.True(t, res.Batches[1].Failed())
	require.Contains(t, res.Batches[1].Error, "constraint violation")
	require.False(t, res.Batches[0].Failed())
	require.False(t, res.Batches[2].Failed())
	require.Equal(t, 150, store.writes)
}

func TestCoordinatorLostLeaseFailsRemainingBatches(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := NewCoordinator(store, 100, 1, 0, nil)

	// one check before the first batch and one inside its transaction
	res, err := c.Upsert(ctx, &lostLease{validFor: 2}, makeRecords(300))
	require.NoError(t, err)
	require.Equal(t, 100, res.Upserted)
	require.Equal(t, 200, res.Failed)
	require.Equal(t, lease.ErrLeaseLost.Error(), res.Batches[1].Error)
	require.Equal(t, lease.ErrLeaseLost.Error(), res.Batches[2].Error)
}

func TestCoordinatorRechecksLeaseBeforeCommit(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := NewCoordinator(store, 100, 1, 0, nil)

	res, err := c.Upsert(ctx, &lostLease{validFor: 1}, makeRecords(10))
	require.NoError(t, err)
	require.Equal(t, 0, res.Upserted)
	require.Equal(t, 10, res.Failed)
	require.Contains(t, res.Batches[0].Error, lease.ErrLeaseLost.Error())
	require.Equal(t, 0, store.writes)
}

func TestCoordinatorStaleRunCannotOverwriteNewerRun(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.delays = []time.Duration{300 * time.Millisecond}

	old := validRecord("10000000", 20)
	old.NetPrice = decimal.NewFromInt(1000)
	stalled := &unreachableLease{deadline: time.Now().Add(100 * time.Millisecond)}

	done := make(chan UpsertResult, 1)
	go func() {
		res, _ := NewCoordinator(store, 10, 1, 0, nil).Upsert(ctx, stalled, []internal.ProductRecord{old})
		done <- res
	}()

	time.Sleep(150 * time.Millisecond)
	newer := validRecord("10000000", 20)
	newer.NetPrice = decimal.NewFromInt(2000)
	res2, err := NewCoordinator(store, 10, 1, 0, nil).Upsert(ctx, acquire(t), []internal.ProductRecord{newer})
	require.NoError(t, err)
	require.Equal(t, 1, res2.Upserted)

	res1 := <-done
	require.Equal(t, 0, res1.Upserted)
	require.Equal(t, 1, res1.Failed)
	require.Contains(t, res1.Batches[0].Error, lease.ErrLeaseLost.Error())
	require.True(t, store.get("10000000").NetPrice.Equal(decimal.NewFromInt(2000)))
}

func TestCoordinatorRenewsLeaseDuringSlowBatch(t *testing.T) {
	ctx := context.Background()
	locker := lease.NewLocalLocker()
	held, err := locker.Acquire(ctx, LeaseName, 90*time.Millisecond)
	require.NoError(t, err)

	store := newMemStore()
	store.delays = []time.Duration{250 * time.Millisecond}

	done := make(chan UpsertResult, 1)
	go func() {
		res, _ := NewCoordinator(store, 10, 1, 0, nil).Upsert(ctx, held, makeRecords(3))
		done <- res
	}()

	time.Sleep(150 * time.Millisecond)
	_, err = locker.Acquire(ctx, LeaseName, time.Minute)
	require.ErrorIs(t, err, lease.ErrLeaseHeld)

	res := <-done
	require.Equal(t, 3, res.Upserted)
	require.Equal(t, 0, res.Failed)
}

func TestCoordinatorWriteTimeout(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.delays = []time.Duration{time.Second}

	res, err := NewCoordinator(store, 10, 1, 50*time.Millisecond, nil).Upsert(ctx, acquire(t), makeRecords(2))
	require.NoError(t, err)
	require.Equal(t, 2, res.Failed)
	require.Contains(t, res.Batches[0].Error, context.DeadlineExceeded.Error())
	require.Equal(t, 0, store.writes)
}

func TestCoordinatorRequiresLease(t *testing.T) {
	_, err := NewCoordinator(newMemStore(), 10, 1, 0, nil).Upsert(context.Background(), nil, makeRecords(1))
	require.Error(t, err)
}

func TestCoordinatorMergeKeepsDescriptiveFields(t *testing.T) {
	ctx := context.Background()
	img := "/img/10000000.jpg"
	stored := validRecord("10000000", 20)
	stored.Color = "Bronce"
	stored.CostPrice = decimal.NewFromInt(9000)
	stored.HasImage = true
	stored.ImagePath = &img
	store := newMemStore(stored)

	incoming := validRecord("10000000", 4)
	incoming.Name = ""
	incoming.NetPrice = decimal.NewFromInt(15000)

	res, err := NewCoordinator(store, 10, 1, 0, nil).Upsert(ctx, acquire(t), []internal.ProductRecord{incoming})
	require.NoError(t, err)
	require.Equal(t, 1, res.Upserted)

	got := store.get("10000000")
	require.Equal(t, "Plancha 10000000", got.Name)
	require.Equal(t, "Bronce", got.Color)
	require.True(t, got.CostPrice.Equal(decimal.NewFromInt(9000)))
	require.Equal(t, &img, got.ImagePath)
	require.Equal(t, 4, got.Stock)
	require.True(t, got.NetPrice.Equal(decimal.NewFromInt(15000)))
}

func TestDedupeByCodeLaterWins(t *testing.T) {
	a := validRecord("10000000", 1)
	b := validRecord("10000001", 2)
	a2 := validRecord("10000000", 30)

	out, dupes := DedupeByCode([]internal.ProductRecord{a, b, a2})
	require.Equal(t, 1, dupes)
	require.Len(t, out, 2)
	require.Equal(t, "10000000", out[0].Code)
	require.Equal(t, 30, out[0].Stock)
}

func TestSameRecordIgnoresUpdatedAtAndNilReasons(t *testing.T) {
	a := validRecord("10000000", 1)
	b := a
	b.UpdatedAt = a.UpdatedAt.Add(time.Hour)
	b.FailureReasons = []string{}
	require.True(t, SameRecord(a, b))

	b.PriceWithTax = decimal.NewFromInt(1)
	require.False(t, SameRecord(a, b))
}
