package batch

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Empty(t *testing.T) {
	result := Run[int](nil, func(int) { t.Fatal("unexpected success callback") }, func(err error) { t.Fatal(err) })

	require.NotNil(t, result)
	assert.True(t, result.AllSuccessful())
	assert.Empty(t, result.Successes)
	assert.Empty(t, result.Failures)
	assert.Equal(t, 0, result.Total())
}

func TestRun_AllSucceed(t *testing.T) {
	units := []Unit[int]{
		func() (int, error) { return 1, nil },
		func() (int, error) { return 2, nil },
		func() (int, error) { return 3, nil },
	}

	var calls atomic.Int32
	result := Run(units, func(int) { calls.Add(1) }, func(err error) { t.Errorf("unexpected failure: %v", err) })

	assert.True(t, result.AllSuccessful())
	assert.Equal(t, int32(3), calls.Load())

	got := append([]int(nil), result.Successes...)
	sort.Ints(got)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	errBoom := errors.New("boom")
	units := []Unit[string]{
		func() (string, error) { return "a", nil },
		func() (string, error) { return "", errBoom },
		func() (string, error) { panic("kaboom") },
		nil,
		func() (string, error) { return "e", nil },
	}

	var (
		mu        sync.Mutex
		succeeded []string
		failed    []error
	)
	result := Run(units,
		func(v string) {
			mu.Lock()
			succeeded = append(succeeded, v)
			mu.Unlock()
		},
		func(err error) {
			mu.Lock()
			failed = append(failed, err)
			mu.Unlock()
		},
	)

	assert.False(t, result.AllSuccessful())
	assert.Equal(t, len(units), result.Total())
	assert.Len(t, result.Successes, 2)
	assert.Len(t, result.Failures, 3)
	assert.ElementsMatch(t, result.Successes, succeeded)
	assert.ElementsMatch(t, result.Failures, failed)

	var (
		sawBoom, sawNil bool
		panicErr        *PanicError
	)
	for _, err := range result.Failures {
		switch {
		case errors.Is(err, errBoom):
			sawBoom = true
		case errors.Is(err, ErrNilUnit):
			sawNil = true
		case errors.As(err, &panicErr):
			assert.Equal(t, "kaboom", panicErr.Value)
			assert.NotEmpty(t, panicErr.Stack)
		}
	}
	assert.True(t, sawBoom)
	assert.True(t, sawNil)
	require.NotNil(t, panicErr)
}

func TestRun_TotalMatchesSubmitted(t *testing.T) {
	for _, n := range []int{1, 7, 64} {
		units := make([]Unit[int], n)
		for i := range units {
			i := i
			units[i] = func() (int, error) {
				if i%3 == 0 {
					return 0, errors.New("every third fails")
				}
				return i, nil
			}
		}

		result := Run(units, nil, nil)
		assert.Equal(t, n, len(result.Successes)+len(result.Failures), "n=%d", n)
	}
}

func TestRun_UnitsRunConcurrentlyOffCallerGoroutine(t *testing.T) {
	const n = 5

	// 全ユニットが同時に待ち合わせに到達しなければ完了しないため、
	// 呼び出し元の goroutine で逐次実行されていればタイムアウトする。
	var arrived sync.WaitGroup
	arrived.Add(n)
	release := make(chan struct{})
	go func() {
		arrived.Wait()
		close(release)
	}()

	units := make([]Unit[bool], n)
	for i := range units {
		units[i] = func() (bool, error) {
			arrived.Done()
			select {
			case <-release:
				return true, nil
			case <-time.After(5 * time.Second):
				return false, errors.New("units did not run concurrently")
			}
		}
	}

	result := Run(units, nil, nil)
	assert.True(t, result.AllSuccessful(), "failures: %v", result.Failures)
	assert.Len(t, result.Successes, n)
}

func TestRun_CallbackPanicDoesNotChangeAccounting(t *testing.T) {
	units := []Unit[int]{
		func() (int, error) { return 1, nil },
		func() (int, error) { return 0, errors.New("fail") },
	}

	result := Run(units,
		func(int) { panic("success callback") },
		func(error) { panic("failure callback") },
	)

	assert.Len(t, result.Successes, 1)
	assert.Len(t, result.Failures, 1)
}

func TestResult_NilReceiver(t *testing.T) {
	var r *Result[int]
	assert.True(t, r.AllSuccessful())
	assert.Equal(t, 0, r.Total())
}
