package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-extract/pkg/clients"
	"github.com/ajitpratap0/nebula-extract/pkg/connector/core"
	"github.com/ajitpratap0/nebula-extract/pkg/cursor"
	"github.com/ajitpratap0/nebula-extract/pkg/dialect"
	"github.com/ajitpratap0/nebula-extract/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-extract/pkg/querybuilder"
	"github.com/ajitpratap0/nebula-extract/pkg/testutil"
)

func TestBroadcastResolveOnce(t *testing.T) {
	ctx := testutil.TestContext(t)
	b := NewBroadcast()

	var wg sync.WaitGroup
	got := make([]cursor.Cursor, 5)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := b.Await(ctx, "job/max_value")
			assert.NoError(t, err)
			got[i] = c
		}(i)
	}

	require.NoError(t, b.Resolve("job/max_value", cursor.MustParse("42", cursor.Numeric)))
	wg.Wait()
	for _, c := range got {
		assert.Equal(t, "42", c.Raw())
	}

	assert.Error(t, b.Resolve("job/max_value", cursor.MustParse("43", cursor.Numeric)))
	assert.Error(t, b.Reject("job/max_value", errors.New("late")))

	// resolved values stay readable
	c, err := b.Await(ctx, "job/max_value")
	require.NoError(t, err)
	assert.Equal(t, "42", c.Raw())
}

func TestBroadcastReject(t *testing.T) {
	b := NewBroadcast()
	cause := errors.New("boom")
	require.NoError(t, b.Reject("k", cause))
	_, err := b.Await(context.Background(), "k")
	assert.ErrorIs(t, err, cause)
}

func TestBroadcastAwaitCancelled(t *testing.T) {
	b := NewBroadcast()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.Await(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroadcastForget(t *testing.T) {
	b := NewBroadcast()
	require.NoError(t, b.Resolve("k", cursor.MustParse("1", cursor.Numeric)))
	b.Forget("k")
	require.NoError(t, b.Resolve("k", cursor.MustParse("2", cursor.Numeric)))
}

type fixture struct {
	factory   *testutil.Factory
	broadcast *Broadcast
	coord     *BoundCoordinator
}

func newFixture(t *testing.T, query func(ctx context.Context, sql string) (core.Rows, error)) *fixture {
	factory := &testutil.Factory{OpenFunc: func(context.Context, int) (core.Conn, error) {
		return &testutil.Conn{QueryFunc: func(ctx context.Context, sql string, _ []interface{}) (core.Rows, error) {
			return query(ctx, sql)
		}}, nil
	}}
	sup := clients.NewSupervisor(factory, testutil.TestLogger(t))
	builder := querybuilder.New(dialect.NewPostgres(), querybuilder.Source{Table: "orders", TrackedColumn: "id"})
	b := NewBroadcast()
	return &fixture{
		factory:   factory,
		broadcast: b,
		coord: New(Config{Job: "orders", Domain: cursor.Numeric}, b, sup, builder, nil,
			testutil.TestLogger(t)),
	}
}

func TestSingleBoundQueryForAllPartitions(t *testing.T) {
	ctx := testutil.TestContext(t)

	var mu sync.Mutex
	var queries []string
	f := newFixture(t, func(_ context.Context, sql string) (core.Rows, error) {
		mu.Lock()
		queries = append(queries, sql)
		mu.Unlock()
		return testutil.NewRows([]string{"max_value"}, []interface{}{int64(20)}), nil
	})

	const n = 4
	var wg sync.WaitGroup
	bounds := make([]cursor.Cursor, n)
	errs := make([]error, n)
	// followers first, so they are already waiting when the leader resolves
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bounds[i], errs[i] = f.coord.Upper(ctx, i, cursor.MustParse("10", cursor.Numeric))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "20", bounds[i].Raw(), "partition %d", i)
	}
	require.Len(t, queries, 1)
	assert.Equal(t, `SELECT MAX("id") AS max_value FROM "orders" WHERE "id" >= 10`, queries[0])
	assert.Equal(t, 1, f.factory.Opens())
}

func TestEmptySourceIsUnbounded(t *testing.T) {
	f := newFixture(t, func(context.Context, string) (core.Rows, error) {
		return testutil.NewRows([]string{"max_value"}, []interface{}{nil}), nil
	})
	upper, err := f.coord.Upper(testutil.TestContext(t), 0, cursor.Unavailable(cursor.Numeric))
	require.NoError(t, err)
	assert.False(t, upper.Available())
}

func TestBoundQueryFailureIsJobFatal(t *testing.T) {
	ctx := testutil.TestContext(t)
	f := newFixture(t, func(context.Context, string) (core.Rows, error) {
		return nil, errors.New(`relation "orders" does not exist`)
	})

	_, err := f.coord.Upper(ctx, 0, cursor.MustParse("10", cursor.Numeric))
	require.Error(t, err)
	assert.True(t, nebulaerrors.IsJobFatal(err))
	assert.Contains(t, err.Error(), `SELECT MAX("id")`)
	assert.Contains(t, err.Error(), "[10]")

	_, err = f.coord.Upper(ctx, 1, cursor.MustParse("10", cursor.Numeric))
	require.Error(t, err)
	assert.True(t, nebulaerrors.IsJobFatal(err))
}

func TestUnparsableMaxValue(t *testing.T) {
	f := newFixture(t, func(context.Context, string) (core.Rows, error) {
		return testutil.NewRows([]string{"max_value"}, []interface{}{"not a number"}), nil
	})
	_, err := f.coord.Upper(testutil.TestContext(t), 0, cursor.Unavailable(cursor.Numeric))
	require.Error(t, err)
	assert.True(t, nebulaerrors.IsJobFatal(err))
	assert.True(t, nebulaerrors.IsType(err, nebulaerrors.ErrorTypeInvalidCursorFormat))
}

func TestLeaderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, func(ctx context.Context, _ string) (core.Rows, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := f.coord.Upper(ctx, 0, cursor.Unavailable(cursor.Numeric))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, nebulaerrors.IsJobFatal(err))

	_, err = f.broadcast.Await(context.Background(), Key("orders"))
	assert.True(t, strings.Contains(err.Error(), "canceled"))
}
