package convengine

import (
	"context"
	"sync"
)

// Worker runs caller-supplied closures on a dedicated goroutine, woken
// by Notify. It is the non-real-time half of a stage's double-buffered
// IR update: the audio thread calls Notify and keeps processing with
// the previous buffer while the worker rebuilds the next one.
//
// At most one pending notification is ever coalesced (the channel has
// capacity 1), matching the audio thread's "one update in flight" rule.
type Worker struct {
	init            func()
	processOnSignal func()
	exit            func()

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}

	startOnce sync.Once
}

// NewWorker creates a worker bound to the three lifecycle closures.
// init runs once before the first wait, processOnSignal runs once per
// Notify, exit runs once after Stop is observed.
func NewWorker(init, processOnSignal, exit func()) *Worker {
	if init == nil {
		init = func() {}
	}
	if exit == nil {
		exit = func() {}
	}

	return &Worker{
		init:            init,
		processOnSignal: processOnSignal,
		exit:            exit,
		notify:          make(chan struct{}, 1),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Start launches the worker goroutine. Calling Start more than once
// has no effect.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

func (w *Worker) run() {
	defer close(w.done)

	w.init()

	for {
		select {
		case <-w.stop:
			w.exit()
			return
		case <-w.notify:
			select {
			case <-w.stop:
				w.exit()
				return
			default:
			}
			w.processOnSignal()
		}
	}
}

// Notify wakes the worker to run processOnSignal once. Non-blocking:
// if a notification is already pending, this call is a no-op.
func (w *Worker) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Stop asks the worker to exit and waits for it to do so, or for ctx
// to be done first. The returned error is ctx.Err() on timeout.
func (w *Worker) Stop(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	default:
	}

	close(w.stop)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
