// Package batch は独立した処理単位を並行に実行し、成否を集約する仕組みを提供します。
//
// 各ユニットは専用の goroutine で実行され、Run はすべてのユニットが完了するまで
// 呼び出し元をブロックします。あるユニットの失敗（panic を含む）が他のユニットや
// バッチ全体に波及することはありません。
package batch

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// ErrNilUnit は nil のユニットが投入された場合に失敗として記録されます。
var ErrNilUnit = errors.New("batch: nil unit")

// Unit は1件の処理を実行し、その結果を返す作業単位です。
type Unit[T any] func() (T, error)

// PanicError はユニット内で発生した panic を失敗として表現します。
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("batch: unit panicked: %v", e.Value)
}

// Result はバッチ実行の集約結果です。
// Successes / Failures は完了順に並び、投入順との対応は保証されません。
type Result[T any] struct {
	Successes []T
	Failures  []error
}

// AllSuccessful は失敗が1件もない場合に true を返します。
func (r *Result[T]) AllSuccessful() bool {
	return r == nil || len(r.Failures) == 0
}

// Total は記録されたユニット数を返します。
func (r *Result[T]) Total() int {
	if r == nil {
		return 0
	}
	return len(r.Successes) + len(r.Failures)
}

// Option は Run の挙動を調整します。
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger はコールバックの panic などを記録するロガーを指定します。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Run はすべてのユニットを並行に実行し、完了を待って結果を返します。
//
// onSuccess / onFailure は各ユニットの goroutine 上で呼ばれるため、
// 呼び出し側で並行呼び出しに対して安全にしておく必要があります。
func Run[T any](units []Unit[T], onSuccess func(T), onFailure func(error), opts ...Option) *Result[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &collector[T]{
		successes: make([]T, 0, len(units)),
	}

	var wg sync.WaitGroup
	wg.Add(len(units))
	for i, unit := range units {
		go func(index int, unit Unit[T]) {
			defer wg.Done()

			value, err := invoke(unit)
			if err != nil {
				c.addFailure(err)
				notify(o.logger, index, func() {
					if onFailure != nil {
						onFailure(err)
					}
				})
				return
			}
			c.addSuccess(value)
			notify(o.logger, index, func() {
				if onSuccess != nil {
					onSuccess(value)
				}
			})
		}(i, unit)
	}
	wg.Wait()

	return c.result()
}

func invoke[T any](unit Unit[T]) (value T, err error) {
	if unit == nil {
		return value, ErrNilUnit
	}
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value = zero
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return unit()
}

// notify はコールバックを実行し、panic した場合はログに残して握りつぶします。
func notify(logger *slog.Logger, index int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("batch callback panicked",
				slog.Int("unit", index),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

type collector[T any] struct {
	mu        sync.Mutex
	successes []T
	failures  []error
}

func (c *collector[T]) addSuccess(v T) {
	c.mu.Lock()
	c.successes = append(c.successes, v)
	c.mu.Unlock()
}

func (c *collector[T]) addFailure(err error) {
	c.mu.Lock()
	c.failures = append(c.failures, err)
	c.mu.Unlock()
}

func (c *collector[T]) result() *Result[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Result[T]{
		Successes: c.successes,
		Failures:  c.failures,
	}
}
