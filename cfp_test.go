package cfp

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/feedflow/cfp/internal/memfeed"
	"github.com/feedflow/cfp/internal/testutil"
	"github.com/feedflow/cfp/internal/types"
)

// stubObserver is a no-op Observer used where tests never expect
// ProcessChanges to be called.
type stubObserver struct{}

func (stubObserver) Open(ctx context.Context, p Partition) error                 { return nil }
func (stubObserver) ProcessChanges(ctx context.Context, batch ChangeBatch) error { return nil }
func (stubObserver) Close(ctx context.Context, reason CloseReason) error         { return nil }

func stubFactory(p Partition) Observer { return stubObserver{} }

func validConfig() *Config {
	cfg := TestConfig()
	return &cfg
}

func TestNewProcessor_RequiredParameters(t *testing.T) {
	conn := &nats.Conn{}
	feed := memfeed.New()

	t.Run("nil config", func(t *testing.T) {
		proc, err := NewProcessor(nil, conn, feed, stubFactory)

		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidConfiguration)
		require.Nil(t, proc)
	})

	t.Run("nil feed client", func(t *testing.T) {
		proc, err := NewProcessor(validConfig(), conn, nil, stubFactory)

		require.Error(t, err)
		require.ErrorIs(t, err, ErrFeedClientRequired)
		require.Nil(t, proc)
	})

	t.Run("nil observer factory", func(t *testing.T) {
		proc, err := NewProcessor(validConfig(), conn, feed, nil)

		require.Error(t, err)
		require.ErrorIs(t, err, ErrObserverFactoryRequired)
		require.Nil(t, proc)
	})

	t.Run("invalid config fields", func(t *testing.T) {
		cfg := validConfig()
		cfg.LeasePrefix = ""

		proc, err := NewProcessor(cfg, conn, feed, stubFactory)

		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidConfiguration)
		require.Nil(t, proc)
	})

	t.Run("no connection and no lease store client", func(t *testing.T) {
		proc, err := NewProcessor(validConfig(), nil, feed, stubFactory)

		require.Error(t, err)
		require.ErrorIs(t, err, ErrNATSConnectionRequired)
		require.Nil(t, proc)
	})
}

func TestNewProcessor_NilSafety(t *testing.T) {
	feed := memfeed.New()

	t.Run("without optional dependencies", func(t *testing.T) {
		proc, err := NewProcessor(validConfig(), nil, feed, stubFactory, WithLeaseStoreClient(testutil.NewMemStore()))

		require.NoError(t, err)
		require.NotNil(t, proc)

		require.NotNil(t, proc.hooks)
		require.NotNil(t, proc.metrics)
		require.NotNil(t, proc.logger)
		require.NotEmpty(t, proc.owner)
	})

	t.Run("accepts optional hooks", func(t *testing.T) {
		hooks := &Hooks{}
		proc, err := NewProcessor(
			validConfig(), nil, feed, stubFactory,
			WithLeaseStoreClient(testutil.NewMemStore()),
			WithHooks(hooks),
		)

		require.NoError(t, err)
		require.NotNil(t, proc)
		require.Same(t, hooks, proc.hooks)
	})
}

func TestNewProcessor_Owner(t *testing.T) {
	feed := memfeed.New()

	t.Run("generates a default owner when none given", func(t *testing.T) {
		proc, err := NewProcessor(validConfig(), nil, feed, stubFactory, WithLeaseStoreClient(testutil.NewMemStore()))

		require.NoError(t, err)
		require.NotEmpty(t, proc.Owner())
	})

	t.Run("honors an explicit owner", func(t *testing.T) {
		proc, err := NewProcessor(
			validConfig(), nil, feed, stubFactory,
			WithLeaseStoreClient(testutil.NewMemStore()),
			WithOwner("host-a"),
		)

		require.NoError(t, err)
		require.Equal(t, "host-a", proc.Owner())
	})
}

func TestProcessor_LifecycleGuards(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "p0"}})

	proc, err := NewProcessor(validConfig(), nil, feed, stubFactory, WithLeaseStoreClient(testutil.NewMemStore()))
	require.NoError(t, err)

	t.Run("Stop before Start", func(t *testing.T) {
		err := proc.Stop(context.Background())
		require.ErrorIs(t, err, ErrNotStarted)
	})

	t.Run("TriggerSync before Start", func(t *testing.T) {
		err := proc.TriggerSync(context.Background())
		require.ErrorIs(t, err, ErrNotStarted)
	})

	t.Run("OwnedPartitionCount before Start", func(t *testing.T) {
		require.Equal(t, 0, proc.OwnedPartitionCount())
	})
}

func TestProcessor_StartStop(t *testing.T) {
	feed := memfeed.New()
	feed.Seed([]types.Partition{{ID: "p0"}, {ID: "p1"}})

	proc, err := NewProcessor(validConfig(), nil, feed, stubFactory, WithLeaseStoreClient(testutil.NewMemStore()))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, proc.Start(ctx))

	t.Run("double start rejected", func(t *testing.T) {
		require.ErrorIs(t, proc.Start(ctx), ErrAlreadyStarted)
	})

	require.NoError(t, proc.WaitForPartitionCount(2, proc.cfg.StartupTimeout))
	require.Equal(t, 2, proc.OwnedPartitionCount())

	require.NoError(t, proc.Stop(ctx))

	t.Run("double stop rejected", func(t *testing.T) {
		require.ErrorIs(t, proc.Stop(ctx), ErrNotStarted)
	})
}
