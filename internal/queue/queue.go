package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrQueueClosed is returned when enqueueing after shutdown or a fatal error.
	ErrQueueClosed = errors.New("queue is closed")
	// ErrEmptySequence is returned when submitting no items.
	ErrEmptySequence = errors.New("empty sequence")
	// ErrHandlerPanic is reported for an item whose handler panicked.
	ErrHandlerPanic = errors.New("playback handler panicked")
)

// State is the worker lifecycle state.
type State int

const (
	Running State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// PlaybackHandler is called by the worker to process one item.
// Returning an error wrapped with Fatal stops the worker.
type PlaybackHandler func(ctx context.Context, item *Item) error

// IdleCallback is called when the queue has been empty for the idle timeout.
type IdleCallback func()

// CancelCallback is called by CancelAll after the queue has been purged.
// It must return promptly; it runs on the cancelling goroutine.
type CancelCallback func()

// ShutdownCallback is called once when the worker stops. err is the fatal
// error that stopped it, or nil after a requested shutdown.
type ShutdownCallback func(err error)

// ItemCompletedCallback is called after each item has been handled.
type ItemCompletedCallback func(item *Item, err error)

// Queue is an unbounded FIFO of directives drained by a single worker.
type Queue struct {
	mu       sync.Mutex
	items    []*Item
	logger   *slog.Logger
	state    State
	epoch    uint64
	speaking bool
	busy     bool
	inline   bool
	fatalErr error

	idleTimeout       time.Duration
	idleCallback      IdleCallback
	cancelCallback    CancelCallback
	shutdownCallback  ShutdownCallback
	completedCallback ItemCompletedCallback
	playbackFunc      PlaybackHandler
	cancelCurrent     context.CancelFunc

	metrics   *metrics
	wg        sync.WaitGroup
	enqueueCh chan struct{}
	doneCh    chan struct{}
}

// NewQueue creates a queue. A zero idleTimeout disables the idle callback.
func NewQueue(idleTimeout time.Duration, logger *slog.Logger) *Queue {
	q := &Queue{
		logger:      logger,
		idleTimeout: idleTimeout,
		enqueueCh:   make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}
	q.metrics = newMetrics(q, nil, logger)
	return q
}

// SetPlaybackHandler sets the function called to process each item.
func (q *Queue) SetPlaybackHandler(fn PlaybackHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.playbackFunc = fn
}

// SetIdleCallback sets the function called when the queue becomes idle.
func (q *Queue) SetIdleCallback(fn IdleCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.idleCallback = fn
}

// SetCancelCallback sets the function CancelAll uses to silence the sink.
func (q *Queue) SetCancelCallback(fn CancelCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelCallback = fn
}

// SetShutdownCallback sets the function called when the worker stops.
func (q *Queue) SetShutdownCallback(fn ShutdownCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdownCallback = fn
}

// SetItemCompletedCallback sets the function called after each item.
func (q *Queue) SetItemCompletedCallback(fn ItemCompletedCallback) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completedCallback = fn
}

// Enqueue adds a single item. See Submit.
func (q *Queue) Enqueue(item *Item) error {
	return q.Submit([]*Item{item})
}

// Submit appends a sequence atomically, so items of concurrent submissions
// never interleave. Every item is stamped with the current epoch. A sequence
// containing audio marks the queue as speaking.
//
// A sequence made only of urgent items runs inline on the caller when the
// queue is empty, nothing is in progress, nothing is speaking and the worker
// is running. Submit never blocks on the worker otherwise.
func (q *Queue) Submit(items []*Item) error {
	if len(items) == 0 {
		return ErrEmptySequence
	}

	q.mu.Lock()
	if q.state != Running {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	urgent := true
	for _, item := range items {
		item.Epoch = q.epoch
		if !item.Urgent() {
			urgent = false
		}
	}

	if urgent && len(q.items) == 0 && !q.busy && !q.speaking && q.playbackFunc != nil {
		q.busy = true
		q.inline = true
		handler := q.playbackFunc
		q.mu.Unlock()

		q.runInline(handler, items)
		return nil
	}

	if !urgent {
		q.speaking = true
	}
	q.items = append(q.items, items...)
	depth := len(q.items)
	q.mu.Unlock()

	q.logger.Debug("items enqueued",
		"submission_id", items[0].SubmissionID,
		"count", len(items),
		"queue_depth", depth,
	)
	q.signal()
	return nil
}

func (q *Queue) runInline(handler PlaybackHandler, items []*Item) {
	defer func() {
		q.mu.Lock()
		q.busy = false
		q.inline = false
		q.mu.Unlock()
		q.signal()
	}()

	for _, item := range items {
		q.logger.Debug("processing item inline", "item_id", item.ID, "kind", item.Kind())
		q.complete(item, q.dispatch(context.Background(), handler, item))
	}
}

func (q *Queue) signal() {
	select {
	case q.enqueueCh <- struct{}{}:
	default:
	}
}

// CancelAll stops speech: it clears the speaking flag, advances the epoch,
// removes every pending utterance, silence and index marker while keeping
// control items in order, cancels the in-flight item and runs the cancel
// callback. Cancelling an idle queue is a no-op.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	active := q.speaking || q.busy

	q.speaking = false
	q.epoch++

	kept := make([]*Item, 0, len(q.items))
	discarded := 0
	for _, item := range q.items {
		if item.discardable() {
			discarded++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept

	if q.cancelCurrent != nil {
		q.cancelCurrent()
	}
	cb := q.cancelCallback
	epoch := q.epoch
	q.mu.Unlock()

	if !active && discarded == 0 {
		return
	}

	q.metrics.discarded(discarded)
	q.logger.Info("queue cancelled", "items_discarded", discarded, "epoch", epoch)

	if cb != nil {
		cb()
	}
}

// IsCurrent reports whether epoch is still the queue's current epoch, that is
// no cancellation happened since an item stamped with it was enqueued.
func (q *Queue) IsCurrent(epoch uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch == epoch
}

// Epoch returns the current epoch.
func (q *Queue) Epoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

// FinishSequence clears the speaking flag when the sequence stamped with
// epoch was the last one pending.
func (q *Queue) FinishSequence(epoch uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if epoch != q.epoch {
		return
	}
	for _, item := range q.items {
		if item.endsSequence() {
			return
		}
	}
	q.speaking = false
}

// Speaking reports whether a submitted sequence is still playing.
func (q *Queue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// State returns the worker state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Err returns the fatal error that stopped the worker, if any.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fatalErr
}

// Done is closed once the worker has stopped.
func (q *Queue) Done() <-chan struct{} {
	return q.doneCh
}

// Start begins the worker goroutine.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Stop enqueues the shutdown marker behind any pending control items and
// waits for the worker to exit. Callers that want speech to end promptly
// call CancelAll first.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.state == Running {
		q.state = Draining
		q.items = append(q.items, shutdownItem())
	}
	q.mu.Unlock()

	q.signal()
	q.wg.Wait()
}

// worker is the single playback goroutine.
func (q *Queue) worker() {
	defer q.wg.Done()

	var idleTimer *time.Timer
	var idleTimerCh <-chan time.Time

	stopIdleTimer := func() {
		if idleTimer != nil {
			idleTimer.Stop()
			idleTimerCh = nil
		}
	}

	for {
		item, ctx := q.dequeue()

		if item != nil {
			stopIdleTimer()
			if item.shutdown {
				q.finish(nil)
				return
			}
			if err := q.process(ctx, item); IsFatal(err) {
				q.finish(err)
				return
			}
			continue
		}

		if idleTimerCh == nil && q.idleTimeout > 0 {
			idleTimer = time.NewTimer(q.idleTimeout)
			idleTimerCh = idleTimer.C
		}

		select {
		case <-q.enqueueCh:
			continue
		case <-idleTimerCh:
			idleTimerCh = nil

			q.mu.Lock()
			callback := q.idleCallback
			idle := len(q.items) == 0 && !q.busy
			q.mu.Unlock()

			if callback != nil && idle {
				q.logger.Info("idle timeout reached")
				callback()
			}
		}
	}
}

// dequeue removes the next item and installs its cancel function under the
// same lock, so CancelAll either purges the item or cancels it.
func (q *Queue) dequeue() (*Item, context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || q.inline {
		return nil, nil
	}

	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	ctx, cancel := context.WithCancel(context.Background())
	q.cancelCurrent = cancel
	q.busy = true
	return item, ctx
}

// process handles a single item. Errors other than fatal ones are logged
// and swallowed so one bad utterance never stalls the sequence.
func (q *Queue) process(ctx context.Context, item *Item) error {
	q.mu.Lock()
	handler := q.playbackFunc
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		if q.cancelCurrent != nil {
			q.cancelCurrent()
			q.cancelCurrent = nil
		}
		q.busy = false
		q.mu.Unlock()
	}()

	if handler == nil {
		q.logger.Warn("no playback handler set, skipping item", "item_id", item.ID)
		q.complete(item, nil)
		return nil
	}

	q.logger.Debug("processing item", "item_id", item.ID, "kind", item.Kind())

	err := q.dispatch(ctx, handler, item)
	q.complete(item, err)
	return err
}

// dispatch runs handler on item, converting a panic into ErrHandlerPanic.
func (q *Queue) dispatch(ctx context.Context, handler PlaybackHandler, item *Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("playback handler panicked",
				"item_id", item.ID,
				"kind", item.Kind(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return handler(ctx, item)
}

func (q *Queue) complete(item *Item, err error) {
	switch {
	case err == nil:
		q.metrics.processed(item)
	case IsFatal(err):
		q.metrics.failed(item)
		q.logger.Error("fatal playback error, stopping worker", "item_id", item.ID, "error", err)
	case errors.Is(err, context.Canceled):
		q.metrics.processed(item)
		q.logger.Info("item cancelled", "item_id", item.ID, "kind", item.Kind())
	default:
		q.metrics.failed(item)
		q.logger.Error("item failed", "item_id", item.ID, "kind", item.Kind(), "error", err)
	}

	q.mu.Lock()
	cb := q.completedCallback
	q.mu.Unlock()
	if cb != nil {
		cb(item, err)
	}
}

// finish moves the worker to Stopped and drops anything still queued.
func (q *Queue) finish(err error) {
	q.mu.Lock()
	q.state = Stopped
	q.fatalErr = err
	dropped := len(q.items)
	q.items = nil
	q.speaking = false
	cb := q.shutdownCallback
	q.mu.Unlock()

	q.metrics.close()
	close(q.doneCh)

	if err != nil {
		q.logger.Error("worker stopped", "error", err, "items_dropped", dropped)
	} else {
		q.logger.Info("worker stopped", "items_dropped", dropped)
	}
	if cb != nil {
		cb(err)
	}
}
