package feedproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feedflow/cfp/internal/leasemgr"
	"github.com/feedflow/cfp/internal/memfeed"
	"github.com/feedflow/cfp/internal/testutil"
	"github.com/feedflow/cfp/internal/types"
)

type recordingObserver struct {
	opened     []types.Partition
	batches    [][]types.ChangeRecord
	closedWith *types.CloseReason
	failNTimes int
	calls      int
}

func (o *recordingObserver) Open(ctx context.Context, p types.Partition) error {
	o.opened = append(o.opened, p)
	return nil
}

func (o *recordingObserver) ProcessChanges(ctx context.Context, batch types.ChangeBatch) error {
	o.calls++
	if o.calls <= o.failNTimes {
		return errors.New("observer not ready yet")
	}
	o.batches = append(o.batches, batch.Records)
	return nil
}

func (o *recordingObserver) Close(ctx context.Context, reason types.CloseReason) error {
	r := reason
	o.closedWith = &r
	return nil
}

func newTestLease(partitionID string) types.Lease {
	return types.Lease{PartitionID: partitionID, Owner: "host-a"}
}

func TestProcessor_DispatchesPublishedBatchAndAdvancesToken(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "p-1"}})

	mgr := leasemgr.New(testutil.NewMemStore(), "proc", "host-a", time.Minute, nil, nil)
	_, err := mgr.CreateIfAbsent(t.Context(), "p-1", "")
	require.NoError(t, err)
	lease, err := mgr.Acquire(t.Context(), types.Lease{PartitionID: "p-1"})
	require.NoError(t, err)

	feed.AppendRecords("p-1", []byte("one"), []byte("two"))

	proc := New(feed, mgr, Config{PollDelay: time.Millisecond, MaxItemCount: 10}, nil, nil)
	obs := &recordingObserver{}

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var runErr error
	var finalLease types.Lease
	go func() {
		finalLease, runErr = proc.Run(ctx, lease, obs)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(obs.batches) > 0
	}, time.Second, time.Millisecond)

	cancel()
	<-done

	require.ErrorIs(t, runErr, types.ErrCancelled)
	require.Len(t, obs.opened, 1)
	require.NotNil(t, obs.closedWith)
	require.Equal(t, "2", finalLease.ContinuationToken)
}

// reasonedCheckpointer wraps a Checkpointer and implements CancelReasoner,
// simulating a supervisor whose renewer has already flagged LeaseLost by
// the time Run observes ctx.Done().
type reasonedCheckpointer struct {
	Checkpointer
	reason error
}

func (c *reasonedCheckpointer) CancelReason() error { return c.reason }

func TestProcessor_CancelReasonOverridesGenericCancelled(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "p-1"}})

	mgr := leasemgr.New(testutil.NewMemStore(), "proc", "host-a", time.Minute, nil, nil)
	_, err := mgr.CreateIfAbsent(t.Context(), "p-1", "")
	require.NoError(t, err)
	lease, err := mgr.Acquire(t.Context(), types.Lease{PartitionID: "p-1"})
	require.NoError(t, err)

	checkpointer := &reasonedCheckpointer{Checkpointer: mgr, reason: types.ErrLeaseLost}
	proc := New(feed, checkpointer, Config{PollDelay: time.Millisecond, MaxItemCount: 10}, nil, nil)
	obs := &recordingObserver{}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = proc.Run(ctx, lease, obs)
	require.ErrorIs(t, err, types.ErrLeaseLost)
	require.NotNil(t, obs.closedWith)
	require.Equal(t, types.CloseLeaseLost, *obs.closedWith)
}

func TestProcessor_SplitSignalReturnsErrSplit(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "parent"}})
	feed.TriggerSplit("parent", types.Partition{ID: "child-1"})

	mgr := leasemgr.New(testutil.NewMemStore(), "proc", "host-a", time.Minute, nil, nil)
	_, err := mgr.CreateIfAbsent(t.Context(), "parent", "")
	require.NoError(t, err)
	lease, err := mgr.Acquire(t.Context(), types.Lease{PartitionID: "parent"})
	require.NoError(t, err)

	proc := New(feed, mgr, Config{PollDelay: time.Millisecond, MaxItemCount: 10}, nil, nil)
	obs := &recordingObserver{}

	_, err = proc.Run(t.Context(), lease, obs)
	require.ErrorIs(t, err, types.ErrSplit)
	require.Equal(t, types.CloseSplit, *obs.closedWith)
}

func TestProcessor_ThrottleThenData(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "p-1"}})
	feed.AppendRecords("p-1", []byte("x"))
	feed.SetThrottle("p-1", 5*time.Millisecond)

	mgr := leasemgr.New(testutil.NewMemStore(), "proc", "host-a", time.Minute, nil, nil)
	_, err := mgr.CreateIfAbsent(t.Context(), "p-1", "")
	require.NoError(t, err)
	lease, err := mgr.Acquire(t.Context(), types.Lease{PartitionID: "p-1"})
	require.NoError(t, err)

	proc := New(feed, mgr, Config{PollDelay: time.Millisecond, MaxItemCount: 10}, nil, nil)
	obs := &recordingObserver{}

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		feed.ClearThrottle("p-1")
	}()

	done := make(chan struct{})
	go func() {
		_, _ = proc.Run(ctx, lease, obs)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(obs.batches) > 0
	}, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestProcessor_ObserverFailureIsTerminal(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "p-1"}})
	feed.AppendRecords("p-1", []byte("x"))

	mgr := leasemgr.New(testutil.NewMemStore(), "proc", "host-a", time.Minute, nil, nil)
	_, err := mgr.CreateIfAbsent(t.Context(), "p-1", "")
	require.NoError(t, err)
	lease, err := mgr.Acquire(t.Context(), types.Lease{PartitionID: "p-1"})
	require.NoError(t, err)

	proc := New(feed, mgr, Config{PollDelay: time.Millisecond, MaxItemCount: 10}, nil, nil)
	obs := &recordingObserver{failNTimes: 1}

	_, err = proc.Run(t.Context(), lease, obs)
	require.ErrorIs(t, err, types.ErrObserverFailed)
	require.Equal(t, types.CloseObserverFailed, *obs.closedWith)
	require.Equal(t, 1, obs.calls)
	require.Empty(t, obs.batches)
}

func TestProcessor_CheckpointEveryNBatches(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "p-1"}})
	feed.AppendRecords("p-1", []byte("a"))
	feed.AppendRecords("p-1", []byte("b"))

	mgr := leasemgr.New(testutil.NewMemStore(), "proc", "host-a", time.Minute, nil, nil)
	_, err := mgr.CreateIfAbsent(t.Context(), "p-1", "")
	require.NoError(t, err)
	lease, err := mgr.Acquire(t.Context(), types.Lease{PartitionID: "p-1"})
	require.NoError(t, err)

	proc := New(feed, mgr, Config{
		PollDelay:           time.Millisecond,
		MaxItemCount:        1,
		CheckpointFrequency: CheckpointEveryNBatches,
		CheckpointN:         2,
	}, nil, nil)
	obs := &recordingObserver{}

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	defer cancel()

	_, err = proc.Run(ctx, lease, obs)
	require.ErrorIs(t, err, types.ErrCancelled)
	require.GreaterOrEqual(t, len(obs.batches), 1)
}
