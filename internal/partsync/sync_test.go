package partsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feedflow/cfp/internal/leasemgr"
	"github.com/feedflow/cfp/internal/memfeed"
	"github.com/feedflow/cfp/internal/testutil"
	"github.com/feedflow/cfp/internal/types"
)

func TestSynchronizer_CreateMissingLeases(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "p-1"}, {ID: "p-2"}, {ID: "p-3"}})

	mgr := leasemgr.New(testutil.NewMemStore(), "myproc", "host-a", time.Minute, nil, nil)
	sync := New(feed, mgr, Config{DegreeOfParallelism: 2}, nil, nil)

	require.NoError(t, sync.CreateMissingLeases(t.Context()))

	leases, err := mgr.ListAll(t.Context())
	require.NoError(t, err)
	require.Len(t, leases, 3)

	// Idempotent under concurrent/repeated calls.
	require.NoError(t, sync.CreateMissingLeases(t.Context()))
	leases, err = mgr.ListAll(t.Context())
	require.NoError(t, err)
	require.Len(t, leases, 3)
}

func TestSynchronizer_CreateMissingLeases_SeedsStartContinuation(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "p-1"}})

	mgr := leasemgr.New(testutil.NewMemStore(), "myproc", "host-a", time.Minute, nil, nil)
	sync := New(feed, mgr, Config{DegreeOfParallelism: 2, StartContinuation: "tok-42"}, nil, nil)

	require.NoError(t, sync.CreateMissingLeases(t.Context()))

	leases, err := mgr.ListAll(t.Context())
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Equal(t, "tok-42", leases[0].ContinuationToken)
}

func TestSynchronizer_CreateMissingLeases_SeedsStartTime(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "p-1"}})
	t0 := time.Unix(1000, 0)
	t1 := time.Unix(2000, 0)
	feed.AppendRecordsAt("p-1", t0, []byte("a"))
	feed.AppendRecordsAt("p-1", t1, []byte("b"))

	mgr := leasemgr.New(testutil.NewMemStore(), "myproc", "host-a", time.Minute, nil, nil)
	sync := New(feed, mgr, Config{DegreeOfParallelism: 2, StartTime: t1}, nil, nil)

	require.NoError(t, sync.CreateMissingLeases(t.Context()))

	leases, err := mgr.ListAll(t.Context())
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Equal(t, "1", leases[0].ContinuationToken)
}

func TestSynchronizer_ListPartitions_FollowsPages(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "p-1"}, {ID: "p-2"}, {ID: "p-3"}})

	mgr := leasemgr.New(testutil.NewMemStore(), "myproc", "host-a", time.Minute, nil, nil)
	sync := New(feed, mgr, Config{DegreeOfParallelism: 2, MaxBatchSize: 1}, nil, nil)

	partitions, err := sync.ListPartitions(t.Context())
	require.NoError(t, err)
	require.Len(t, partitions, 3)
}

func TestSynchronizer_SplitParent(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "parent"}})
	feed.AppendRecords("parent", []byte("a"))
	feed.TriggerSplit("parent", types.Partition{ID: "child-1"}, types.Partition{ID: "child-2"})

	mgr := leasemgr.New(testutil.NewMemStore(), "myproc", "host-a", time.Minute, nil, nil)
	sync := New(feed, mgr, Config{DegreeOfParallelism: 2}, nil, nil)

	parent := types.Lease{PartitionID: "parent", ContinuationToken: "tok-7"}
	children, err := sync.SplitParent(t.Context(), parent)
	require.NoError(t, err)
	require.Len(t, children, 2)
	for _, c := range children {
		require.Equal(t, "tok-7", c.ContinuationToken)
	}

	leases, err := mgr.ListAll(t.Context())
	require.NoError(t, err)
	require.Len(t, leases, 2)
	for _, l := range leases {
		require.Equal(t, "tok-7", l.ContinuationToken)
	}
}
