package download

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[Out any](ch <-chan poolResult[Out]) []poolResult[Out] {
	var out []poolResult[Out]
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func TestManagePool_ProcessesEveryItem(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	results := managePool(context.Background(), items, 2, func(ctx context.Context, n int) (int, error) {
		return n * 2, nil
	})

	out := drain(results)
	require.Len(t, out, 5)

	var sum int
	for _, r := range out {
		require.NoError(t, r.err)
		sum += r.out
	}
	assert.Equal(t, 30, sum)
}

func TestManagePool_RespectsConcurrencyCap(t *testing.T) {
	items := make([]int, 20)
	var inFlight, peak atomic.Int32

	results := managePool(context.Background(), items, 3, func(ctx context.Context, n int) (int, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return n, nil
	})

	drain(results)
	assert.LessOrEqual(t, int(peak.Load()), 3)
}

func TestManagePool_ErrorDoesNotHaltOtherItems(t *testing.T) {
	items := []int{1, 2, 3}
	results := managePool(context.Background(), items, 3, func(ctx context.Context, n int) (int, error) {
		if n == 2 {
			return 0, errors.New("boom")
		}
		return n, nil
	})

	out := drain(results)
	require.Len(t, out, 3)

	var errCount, okCount int
	for _, r := range out {
		if r.err != nil {
			errCount++
		} else {
			okCount++
		}
	}
	assert.Equal(t, 1, errCount)
	assert.Equal(t, 2, okCount)
}

func TestManagePool_StopsSubmittingAfterCancel(t *testing.T) {
	items := make([]int, 50)
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int32
	results := managePool(ctx, items, 1, func(ctx context.Context, n int) (int, error) {
		if started.Add(1) == 1 {
			cancel()
		}
		return n, nil
	})

	out := drain(results)
	assert.Less(t, len(out), len(items))
}

func TestManagePool_EmptyInput(t *testing.T) {
	results := managePool(context.Background(), []int{}, 4, func(ctx context.Context, n int) (int, error) {
		t.Fatal("should never be called")
		return 0, nil
	})
	out := drain(results)
	assert.Empty(t, out)
}
