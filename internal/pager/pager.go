// Package pager defines the single-use cursor used to walk remote result sets
// one batch at a time.
//
// A Pager returns an empty page exactly once, as its last successful call.
// Callers must not call NextPage again after that, nor after an error.
package pager

import "context"

type Pager[T any] interface {
	NextPage(ctx context.Context) ([]T, error)
}

// Func adapts a function to the Pager interface.
type Func[T any] func(ctx context.Context) ([]T, error)

func (f Func[T]) NextPage(ctx context.Context) ([]T, error) { return f(ctx) }

// Once yields items as a single page, then the terminating empty page.
func Once[T any](items []T) Pager[T] {
	return &once[T]{items: items}
}

type once[T any] struct {
	items    []T
	returned bool
}

func (o *once[T]) NextPage(context.Context) ([]T, error) {
	if o.returned {
		return nil, nil
	}
	o.returned = true
	return o.items, nil
}

// Slice yields items in pages of at most size, then the empty page.
func Slice[T any](items []T, size int) Pager[T] {
	if size <= 0 {
		size = len(items)
	}
	return &slice[T]{items: items, size: size}
}

type slice[T any] struct {
	items []T
	size  int
}

func (s *slice[T]) NextPage(context.Context) ([]T, error) {
	n := min(s.size, len(s.items))
	page := s.items[:n:n]
	s.items = s.items[n:]
	return page, nil
}

// Drain calls fn for every non-empty page until the pager is exhausted. The
// context is checked between pages so a caller can stop a long walk.
func Drain[T any](ctx context.Context, p Pager[T], fn func(page []T) error) (pages int, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			return pages, err
		}
		if len(page) == 0 {
			return pages, nil
		}
		pages++
		if err := fn(page); err != nil {
			return pages, err
		}
	}
}
