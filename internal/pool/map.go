// Package pool provides the bounded worker pool driving the batch:
// submit every unit eagerly, run at most limit jobs at once, stream the
// results back in completion order.
package pool

import (
	"context"
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map runs mapFunc over an input iterator with bounded parallelism and
// yields each result as soon as it is available. Completion order is
// unspecified and generally differs from submission order. Map is
// context aware, a canceled context stops the iteration.
//
// A panic inside one mapFunc call is recovered and surfaced as that
// call's error; sibling workers keep running.
type Map[E, D any] struct {
	parentCtx    context.Context
	cancelParent context.CancelFunc
	g            *errgroup.Group
	gctx         context.Context
	mapped       chan result[D]
	mapFunc      func(context.Context, E) (D, error)
}

// NewMap creates a pool executing mapFunc with at most limit calls in
// flight. The extra errgroup slot feeds the submissions.
func NewMap[E, D any](parentCtx context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	parentCtx, cancelParent := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(parentCtx)
	g.SetLimit(limit + 1)

	return &Map[E, D]{
		parentCtx:    parentCtx,
		cancelParent: cancelParent,
		g:            g,
		gctx:         gctx,
		mapped:       make(chan result[D], limit),
		mapFunc:      mapFunc,
	}
}

func (m *Map[E, D]) goWorkers(seq iter.Seq2[E, error]) {
	m.g.Go(func() error {
		for entry, err := range seq {
			if err != nil {
				continue
			}
			m.g.Go(func() error {
				d, mapErr := m.safeMap(m.gctx, entry)
				select {
				case m.mapped <- result[D]{d: d, e: mapErr}:
				case <-m.gctx.Done():
					return m.gctx.Err()
				}
				return nil
			})
		}
		return nil
	})
}

// safeMap shields the pool from a crashing worker: a panic becomes an
// error for this one entry only.
func (m *Map[E, D]) safeMap(ctx context.Context, entry E) (d D, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker panic: %v", p)
		}
	}()
	return m.mapFunc(ctx, entry)
}

// Iter consumes seq and returns the result iterator. Stopping the
// iteration cancels outstanding work.
func (m *Map[E, D]) Iter(seq iter.Seq2[E, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		defer m.cancelParent()
		m.goWorkers(seq)

		go func() {
			_ = m.g.Wait()
			close(m.mapped)
		}()

		for r := range m.mapped {
			if m.parentCtx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}
