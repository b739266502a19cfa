package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokscraper/pkg/logger"
)

func staticRead(body string, delay time.Duration, counter *int32) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		if counter != nil {
			atomic.AddInt32(counter, 1)
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return []byte(body), nil
	}
}

func TestPoolProcessesEveryJob(t *testing.T) {
	var reads int32
	pool := NewPool[string](3, time.Second, logger.NewNopLogger())
	pool.Start()

	var results []Result[string]
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := range pool.Results() {
			results = append(results, r)
		}
	}()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("req-%d", i)
		job := Job[string]{ID: id, Item: id, Read: staticRead("body-"+id, 5*time.Millisecond, &reads)}
		require.Eventually(t, func() bool { return pool.TrySubmit(job) }, time.Second, time.Millisecond)
	}

	pool.Stop()
	wg.Wait()

	require.Len(t, results, 10)
	assert.Equal(t, int32(10), atomic.LoadInt32(&reads))
	for _, r := range results {
		require.NoError(t, r.Error)
		assert.Equal(t, "body-"+r.Job.Item, string(r.Body))
	}
}

func TestPoolReadTimeout(t *testing.T) {
	pool := NewPool[int](1, 20*time.Millisecond, logger.NewNopLogger())

	res := pool.Read(context.Background(), Job[int]{ID: "slow", Read: staticRead("late", time.Second, nil)})

	require.Error(t, res.Error)
	assert.True(t, errors.Is(res.Error, context.DeadlineExceeded))
	assert.Less(t, res.Duration, 500*time.Millisecond)
}

func TestPoolTrySubmitWhenFull(t *testing.T) {
	pool := NewPool[int](1, time.Second, logger.NewNopLogger())
	// Workers are not started, so the queue fills at twice the worker count.
	assert.True(t, pool.TrySubmit(Job[int]{ID: "a", Read: staticRead("", 0, nil)}))
	assert.True(t, pool.TrySubmit(Job[int]{ID: "b", Read: staticRead("", 0, nil)}))
	assert.False(t, pool.TrySubmit(Job[int]{ID: "c", Read: staticRead("", 0, nil)}))
	assert.Len(t, pool.jobQueue, 2)
}
