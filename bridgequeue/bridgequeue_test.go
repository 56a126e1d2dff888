package bridgequeue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New()

	_, err := r.Register(1, Info{Name: "br0"})
	require.NoError(t, err)

	_, err = r.Register(1, Info{Name: "br0"})
	assert.Equal(t, ErrAlreadyExists, err)
}

func TestLookupIncrementsRefcount(t *testing.T) {
	r := New()
	r.Register(1, Info{Name: "br0"})

	e, err := r.Lookup(1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, e.Refs())
}

func TestLookupUnknownDpid(t *testing.T) {
	r := New()
	_, err := r.Lookup(99)
	assert.Equal(t, ErrNotFound, err)
}

func TestUnregisterRemovesFromSnapshot(t *testing.T) {
	r := New()
	r.Register(1, Info{Name: "br0"})
	r.Register(2, Info{Name: "br1"})

	require.NoError(t, r.Unregister(1))

	snap := r.Snapshot()
	defer ReleaseSnapshot(snap)

	assert.Len(t, snap, 1)
	assert.Equal(t, uint64(2), snap[0].Dpid)
}

func TestPutAndPollData(t *testing.T) {
	e, _ := New().Register(1, Info{Name: "br0", DataQSize: 4})

	ctx := context.Background()
	require.NoError(t, e.PutData(ctx, "pkt-1"))
	require.NoError(t, e.PutData(ctx, "pkt-2"))

	got := e.PollData(10)
	assert.Equal(t, []interface{}{"pkt-1", "pkt-2"}, got)
}

func TestPutBlocksUntilContextDone(t *testing.T) {
	e, _ := New().Register(1, Info{Name: "br0", DataQSize: 1})

	ctx := context.Background()
	require.NoError(t, e.PutData(ctx, "fill"))

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err := e.PutData(cctx, "overflow")
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestPollRespectsMaxBatch(t *testing.T) {
	e, _ := New().Register(1, Info{Name: "br0", DataQSize: 10})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e.PutData(ctx, i)
	}

	got := e.PollData(3)
	assert.Len(t, got, 3)
}

func TestMaxBatchesGetSet(t *testing.T) {
	e, _ := New().Register(1, Info{Name: "br0", MaxBatches: 7})
	assert.Equal(t, 7, e.MaxBatches())

	e.SetMaxBatches(20)
	assert.Equal(t, 20, e.MaxBatches())
}

func TestSnapshotRefcountsReleasedIndependently(t *testing.T) {
	r := New()
	e, _ := r.Register(1, Info{Name: "br0"})

	snap := r.Snapshot()
	assert.EqualValues(t, 2, e.Refs())

	ReleaseSnapshot(snap)
	assert.EqualValues(t, 1, e.Refs())
}
