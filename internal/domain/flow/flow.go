// Package flow implements the push-based composition primitive the
// whiteboard is built from: a Program describes zero or more appearances
// of a value over time, each of which may later disappear. Appearances
// travel down a chain of combinators synchronously on the goroutine that
// delivers the underlying event; disappearances close, in reverse order,
// everything the appearance produced.
package flow

import "sync"

// Handle undoes the effects of an appearance or of a running program.
type Handle interface {
	Close()
}

type handleFunc func()

func (f handleFunc) Close() {
	if f != nil {
		f()
	}
}

// HandleFunc adapts a function to a Handle.
func HandleFunc(f func()) Handle { return handleFunc(f) }

// Noop is a handle that does nothing.
var Noop Handle = handleFunc(nil)

type composite []Handle

// Close releases in reverse order of acquisition.
func (c composite) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i] != nil {
			c[i].Close()
		}
	}
}

// Handles combines handles into one that closes them in reverse order.
func Handles(hs ...Handle) Handle { return composite(hs) }

// Pipe receives one appearance. The returned handle is closed when that
// appearance disappears.
type Pipe[T any] func(T) Handle

// Program is a dynamic, multi-valued computation over time. Invoking it
// starts the computation: the pipe is called once per appearance, and the
// returned handle stops the whole program.
type Program[T any] func(Pipe[T]) Handle

// Just produces a single appearance of v that lasts until the program is
// stopped.
func Just[T any](v T) Program[T] {
	return func(pipe Pipe[T]) Handle {
		return pipe(v)
	}
}

// Nothing produces no appearances.
func Nothing[T any]() Program[T] {
	return func(Pipe[T]) Handle { return Noop }
}

// Map transforms each appearance with f. The pairing between an
// appearance and its disappearance is preserved.
func Map[T, U any](p Program[T], f func(T) U) Program[U] {
	return func(pipe Pipe[U]) Handle {
		return p(func(t T) Handle {
			return pipe(f(t))
		})
	}
}

// Filter suppresses appearances failing pred. A suppressed appearance
// never emits a disappearance downstream.
func (p Program[T]) Filter(pred func(T) bool) Program[T] {
	return func(pipe Pipe[T]) Handle {
		return p(func(t T) Handle {
			if !pred(t) {
				return Noop
			}
			return pipe(t)
		})
	}
}

// FlatMap instantiates f's sub-program for each appearance of p. When
// that appearance disappears, everything the sub-program produced is torn
// down, in reverse order, before the outer disappearance completes.
func FlatMap[T, U any](p Program[T], f func(T) Program[U]) Program[U] {
	return func(pipe Pipe[U]) Handle {
		return p(func(t T) Handle {
			return f(t)(pipe)
		})
	}
}

// Effects runs side effects on each appearance and disappearance.
// onAppear runs synchronously on the delivering goroutine; a panic or
// error makes the appearance non-functional downstream and is reported
// through onError, but the matching onDisappear still fires exactly once.
// Either callback may be nil.
func (p Program[T]) Effects(onAppear func(T) error, onDisappear func(T), onError func(error)) Program[T] {
	return func(pipe Pipe[T]) Handle {
		return p(func(t T) Handle {
			if err := guard(func() error {
				if onAppear == nil {
					return nil
				}
				return onAppear(t)
			}); err != nil {
				report(onError, err)
				return HandleFunc(func() {
					closeDisappear(t, onDisappear, onError)
				})
			}
			downstream := pipe(t)
			return HandleFunc(func() {
				downstream.Close()
				closeDisappear(t, onDisappear, onError)
			})
		})
	}
}

// Ensure runs release exactly once when the program's handle is closed,
// after everything the program produced has been torn down.
func Ensure[T any](p Program[T], release func()) Program[T] {
	return func(pipe Pipe[T]) Handle {
		var once sync.Once
		h := p(pipe)
		return HandleFunc(func() {
			h.Close()
			once.Do(release)
		})
	}
}

// All runs every program concurrently under one handle. No ordering is
// guaranteed across the branches; closing tears the branches down in
// reverse order.
func All[T any](ps ...Program[T]) Program[T] {
	return func(pipe Pipe[T]) Handle {
		hs := make(composite, 0, len(ps))
		for _, p := range ps {
			hs = append(hs, p(pipe))
		}
		return hs
	}
}

// Ignore discards the program's values, keeping its lifecycle.
func Ignore[T any](p Program[T]) Program[struct{}] {
	return func(pipe Pipe[struct{}]) Handle {
		return p(func(T) Handle {
			return pipe(struct{}{})
		})
	}
}

// Run begins listening with a discarding pipe. The returned handle stops
// all live appearances innermost-first; Close is idempotent and never
// blocks on upstream completion.
func (p Program[T]) Run() Handle {
	h := p(func(T) Handle { return Noop })
	var once sync.Once
	return HandleFunc(func() {
		once.Do(h.Close)
	})
}

func closeDisappear[T any](t T, onDisappear func(T), onError func(error)) {
	if onDisappear == nil {
		return
	}
	if err := guard(func() error {
		onDisappear(t)
		return nil
	}); err != nil {
		report(onError, err)
	}
}

func report(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}
