// Package workpackage implements the unit that processes one claimed segment.
//
// A WorkPackage owns its segment's claim from creation until it terminates.
// It runs on a single goroutine, handles events strictly in stream order,
// persists its token after every batch, and releases the claim exactly once.
//
// State machine:
//
//	Idle → Active → Aborting → Terminated
//	Idle → Aborting → Terminated (aborted before Start)
//	Active → Terminated (handler failure or lost claim)
package workpackage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/segpool/internal/backoff"
	"github.com/arloliu/segpool/internal/future"
	"github.com/arloliu/segpool/internal/logging"
	"github.com/arloliu/segpool/internal/metrics"
	"github.com/arloliu/segpool/routing"
	"github.com/arloliu/segpool/types"
)

// Default values applied by New for zero Config fields.
const (
	DefaultBatchSize              = 100
	DefaultPollInterval           = 200 * time.Millisecond
	DefaultClaimExtensionInterval = 3 * time.Second
	DefaultMaxQueuedEvents        = 1024
	DefaultReleaseTimeout         = 5 * time.Second
)

// Config holds everything a work package needs.
//
// Source selects the delivery mode: with a Source the package pulls events
// itself, without one it only handles events passed to ScheduleEvent.
type Config struct {
	Processor string
	Segment   types.Segment

	// Token is the token returned by the claiming FetchToken call.
	Token types.TrackingToken

	Store        types.TokenStore
	Source       types.EventSource
	Handler      types.EventHandler
	ErrorHandler types.ErrorHandler
	Hasher       routing.Hasher

	BatchSize              int
	PollInterval           time.Duration
	ClaimExtensionInterval time.Duration
	MaxQueuedEvents        int
	ReleaseTimeout         time.Duration
	StoreRetry             backoff.Policy

	Logger  types.Logger
	Metrics types.MetricsCollector

	// OnStatus receives a status snapshot whenever progress, errors, or the
	// lifecycle state change. It is called from the package goroutine.
	OnStatus func(types.TrackerStatus)

	// OnTerminated is called once after the abort future resolved and Done
	// was closed. The final Terminated status was already passed to OnStatus.
	OnTerminated func()

	Clock func() time.Time
}

// WorkPackage processes the events of one segment.
type WorkPackage struct {
	cfg   Config
	state atomic.Int32

	mu        sync.Mutex
	token     types.TrackingToken
	caughtUp  bool
	lastErr   error
	queue     []types.Event
	scheduled types.TrackingToken

	wake chan struct{}

	abortOnce  sync.Once
	abortCh    chan struct{}
	abortCause error
	stopRead   context.CancelFunc

	released *future.Future[error]
	done     chan struct{}
}

// New creates an idle work package. Call Start to begin processing.
//
// Parameters:
//   - cfg: Package configuration; Store and Handler are required
//
// Returns:
//   - *WorkPackage: Package in the Idle state
func New(cfg Config) *WorkPackage {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ClaimExtensionInterval <= 0 {
		cfg.ClaimExtensionInterval = DefaultClaimExtensionInterval
	}
	if cfg.MaxQueuedEvents <= 0 {
		cfg.MaxQueuedEvents = DefaultMaxQueuedEvents
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = DefaultReleaseTimeout
	}
	if cfg.StoreRetry.Initial == 0 {
		cfg.StoreRetry = backoff.DefaultPolicy
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = types.HaltOnError
	}
	if cfg.Hasher == nil {
		cfg.Hasher = routing.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &WorkPackage{
		cfg:       cfg,
		token:     cfg.Token,
		scheduled: cfg.Token,
		wake:      make(chan struct{}, 1),
		abortCh:   make(chan struct{}),
		released:  future.New[error](),
		done:      make(chan struct{}),
	}
}

// Segment returns the segment this package processes.
func (w *WorkPackage) Segment() types.Segment {
	return w.cfg.Segment
}

// State returns the current lifecycle state.
func (w *WorkPackage) State() types.WorkPackageState {
	return types.WorkPackageState(w.state.Load())
}

// Done is closed once the package terminated and released its claim.
func (w *WorkPackage) Done() <-chan struct{} {
	return w.done
}

// Released resolves once the package terminated, with the abort cause or the
// failure that halted it.
func (w *WorkPackage) Released() *future.Future[error] {
	return w.released
}

// Status returns a snapshot of the package's progress.
func (w *WorkPackage) Status() types.TrackerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	return types.TrackerStatus{
		Segment:   w.cfg.Segment,
		Token:     w.token,
		CaughtUp:  w.caughtUp,
		State:     w.State(),
		Owner:     w.cfg.Store.Owner(),
		Error:     w.lastErr,
		UpdatedAt: w.cfg.Clock(),
	}
}

// Scheduled returns the position up to which the package was offered events
// through ScheduleEvent. Shared readers resume from the lowest one.
func (w *WorkPackage) Scheduled() types.TrackingToken {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.scheduled
}

// Start launches the processing goroutine. It does nothing unless the
// package is Idle.
func (w *WorkPackage) Start(ctx context.Context) {
	if !w.state.CompareAndSwap(int32(types.WorkPackageIdle), int32(types.WorkPackageActive)) {
		return
	}

	readCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.stopRead = cancel
	w.mu.Unlock()

	go w.run(ctx, readCtx)
}

// ScheduleEvent offers an event from a shared reader.
//
// Events must be offered in stream order. An event is queued when it routes
// to this segment and lies beyond everything offered before. Events of other
// segments only move the scheduled position forward.
//
// When the queue is full the event is rejected and Scheduled stays before
// it. The caller must then stop offering later events until it re-reads
// from Scheduled, or the rejected event would be skipped.
//
// Returns:
//   - bool: true if the event was queued for handling
func (w *WorkPackage) ScheduleEvent(event types.Event) bool {
	if w.State() >= types.WorkPackageAborting {
		return false
	}

	w.mu.Lock()
	if types.Covers(w.scheduled, event.Token) {
		w.mu.Unlock()
		return false
	}
	if !routing.Matches(w.cfg.Hasher, w.cfg.Segment, event) {
		w.scheduled = advance(w.scheduled, event.Token)
		w.mu.Unlock()
		return false
	}
	if len(w.queue) >= w.cfg.MaxQueuedEvents {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, event)
	w.scheduled = advance(w.scheduled, event.Token)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}

	return true
}

// Abort asks the package to stop after the event it is handling.
//
// Abort is idempotent: every call returns the same future, which resolves
// with the first cause once the claim was released.
//
// Parameters:
//   - cause: Why the package is aborted (nil for a plain shutdown)
//
// Returns:
//   - *future.Future[error]: Resolves after the package terminated
func (w *WorkPackage) Abort(cause error) *future.Future[error] {
	w.abortOnce.Do(func() {
		w.abortCause = cause
		neverStarted := false
		for {
			s := w.State()
			if s == types.WorkPackageIdle {
				if w.state.CompareAndSwap(int32(s), int32(types.WorkPackageAborting)) {
					neverStarted = true
					break
				}

				continue
			}
			if s == types.WorkPackageActive && !w.state.CompareAndSwap(int32(s), int32(types.WorkPackageAborting)) {
				continue
			}

			break
		}

		close(w.abortCh)
		w.mu.Lock()
		if w.stopRead != nil {
			w.stopRead()
		}
		w.mu.Unlock()

		if neverStarted {
			go w.terminate(nil)
		}
	})

	return w.released
}

func (w *WorkPackage) aborted() bool {
	select {
	case <-w.abortCh:
		return true
	default:
		return false
	}
}

func (w *WorkPackage) run(ctx, readCtx context.Context) {
	var failure error
	defer func() { w.terminate(failure) }()

	log := w.cfg.Logger
	log.Debug("work package started", "processor", w.cfg.Processor, "segment", w.cfg.Segment.String())
	w.publish()

	lastClaim := w.cfg.Clock()
	for !w.aborted() {
		events, snapshot, err := w.next(readCtx)
		if err != nil {
			if w.aborted() {
				return
			}
			log.Warn("failed to read events", "segment", w.cfg.Segment.String(), "error", err)
			w.setError(err)
			w.sleep(w.cfg.PollInterval)

			continue
		}

		if len(events) == 0 && snapshot == nil {
			w.markCaughtUp()
			if w.cfg.Clock().Sub(lastClaim) >= w.cfg.ClaimExtensionInterval {
				if err := w.extendClaim(ctx); err != nil {
					failure = err
					return
				}
				lastClaim = w.cfg.Clock()
			}
			w.sleep(w.cfg.PollInterval)

			continue
		}

		stored, err := w.processBatch(ctx, events, snapshot)
		if stored {
			lastClaim = w.cfg.Clock()
		}
		if err != nil {
			failure = err
			return
		}
	}
}

// next returns the next batch. In shared mode it also returns the scheduled
// position the queue was drained at.
func (w *WorkPackage) next(ctx context.Context) ([]types.Event, types.TrackingToken, error) {
	if w.cfg.Source != nil {
		w.mu.Lock()
		from := w.token
		w.mu.Unlock()

		events, err := w.cfg.Source.ReadEvents(ctx, from, w.cfg.Segment, w.cfg.BatchSize)

		return events, nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) == 0 {
		if types.Covers(w.token, w.scheduled) {
			return nil, nil, nil
		}

		return nil, w.scheduled, nil
	}
	n := min(len(w.queue), w.cfg.BatchSize)
	events := w.queue[:n:n]
	w.queue = w.queue[n:]

	var snapshot types.TrackingToken
	if len(w.queue) == 0 {
		snapshot = w.scheduled
	}

	return events, snapshot, nil
}

// processBatch handles events and persists the resulting token.
//
// Returns:
//   - bool: true if a token was stored (the claim was refreshed)
//   - error: Halting error (handler failure or lost claim)
func (w *WorkPackage) processBatch(ctx context.Context, events []types.Event, snapshot types.TrackingToken) (bool, error) {
	started := w.cfg.Clock()
	seg := w.cfg.Segment

	w.mu.Lock()
	current := w.token
	w.mu.Unlock()

	next := current
	handled := 0
	completed := true

	var halt error
	for _, ev := range events {
		if w.aborted() {
			completed = false
			break
		}

		if w.shouldHandle(next, ev) {
			if r, ok := next.(types.ReplayToken); ok && r.IsReplay(ev.Token) {
				ev.Replay = true
			}
			if err := w.cfg.Handler.Handle(ctx, ev); err != nil {
				w.cfg.Metrics.RecordHandlerFailure(seg.ID)
				if herr := w.cfg.ErrorHandler(ctx, seg, ev, err); herr != nil {
					halt = fmt.Errorf("segment %d at %v: %w: %w", seg.ID, ev.Token, types.ErrHandlerFailure, herr)
					completed = false

					break
				}
				w.cfg.Logger.Warn("event handler failed, skipping event", "segment", seg.String(), "token", ev.Token, "error", err)
			}
			handled++
		}
		next = advance(next, ev.Token)
	}
	if completed && snapshot != nil {
		next = advance(next, snapshot)
	}

	stored := false
	if !types.TokensEqual(next, current) {
		if err := w.storeToken(ctx, next); err != nil {
			return false, err
		}
		stored = true
	}

	w.mu.Lock()
	w.token = next
	if halt != nil {
		w.lastErr = halt
	} else if len(events) > 0 {
		w.lastErr = nil
	}
	w.mu.Unlock()

	w.cfg.Metrics.RecordBatch(seg.ID, handled, w.cfg.Clock().Sub(started).Seconds())
	if pos, ok := types.PositionOf(next); ok {
		w.cfg.Metrics.RecordTokenPosition(seg.ID, pos)
	}
	w.publish()

	return stored, halt
}

// shouldHandle reports whether ev routes to this segment and was not
// handled under token yet. For a merged token the half the event routes to
// decides.
func (w *WorkPackage) shouldHandle(token types.TrackingToken, ev types.Event) bool {
	hash := w.cfg.Hasher.Hash(ev.PartitionKey)
	if !w.cfg.Segment.Matches(hash) {
		return false
	}

	if m, ok := types.Unwrap(token).(types.MergedToken); ok {
		lower, _, err := w.cfg.Segment.Split()
		if err != nil {
			return !m.Covers(ev.Token)
		}
		if lower.Matches(hash) {
			return !types.Covers(m.LowerSegment, ev.Token)
		}

		return !types.Covers(m.UpperSegment, ev.Token)
	}

	return !types.Covers(token, ev.Token)
}

// advance returns token after reading up to position.
func advance(token, position types.TrackingToken) types.TrackingToken {
	switch t := token.(type) {
	case nil:
		return types.Unwrap(position)
	case types.ReplayToken:
		return t.AdvancedTo(advance(t.Current, position))
	case types.MergedToken:
		return t.AdvancedTo(types.Unwrap(position))
	default:
		return types.UpperBound(t, types.Unwrap(position))
	}
}

func (w *WorkPackage) storeToken(ctx context.Context, token types.TrackingToken) error {
	err := backoff.Retry(ctx, w.cfg.StoreRetry, isTransient,
		func(attempt int, err error, delay time.Duration) {
			w.cfg.Metrics.RecordStoreRetry("store_token")
			w.cfg.Logger.Warn("retrying token store",
				"segment", w.cfg.Segment.String(), "attempt", attempt, "delay", delay, "error", err)
		},
		func(ctx context.Context) error {
			return w.cfg.Store.StoreToken(ctx, token, w.cfg.Processor, w.cfg.Segment.ID)
		})
	if err != nil {
		w.setError(err)
		return fmt.Errorf("store token of segment %d: %w", w.cfg.Segment.ID, err)
	}

	return nil
}

func (w *WorkPackage) extendClaim(ctx context.Context) error {
	err := backoff.Retry(ctx, w.cfg.StoreRetry, isTransient,
		func(int, error, time.Duration) { w.cfg.Metrics.RecordStoreRetry("extend_claim") },
		func(ctx context.Context) error {
			return w.cfg.Store.ExtendClaim(ctx, w.cfg.Processor, w.cfg.Segment.ID)
		})
	if err != nil {
		w.setError(err)
		return fmt.Errorf("extend claim of segment %d: %w", w.cfg.Segment.ID, err)
	}

	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, types.ErrStoreUnavailable)
}

// terminate releases the claim once and resolves the abort future.
func (w *WorkPackage) terminate(failure error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ReleaseTimeout)
	defer cancel()

	w.mu.Lock()
	if w.stopRead != nil {
		w.stopRead()
	}
	w.mu.Unlock()

	seg := w.cfg.Segment
	err := backoff.Retry(ctx, w.cfg.StoreRetry, isTransient, nil, func(ctx context.Context) error {
		return w.cfg.Store.ReleaseClaim(ctx, w.cfg.Processor, seg.ID)
	})
	if err != nil {
		w.cfg.Logger.Warn("failed to release claim", "segment", seg.String(), "error", err)
	}

	if failure != nil {
		w.setError(failure)
		w.cfg.Logger.Error("work package halted", "processor", w.cfg.Processor, "segment", seg.String(), "error", failure)
	}
	w.state.Store(int32(types.WorkPackageTerminated))
	w.publish()

	// A handler failure wins over an abort that arrived while releasing.
	cause := failure
	if cause == nil && w.aborted() {
		cause = w.abortCause
	}
	w.released.Complete(cause, nil)
	close(w.done)

	if w.cfg.OnTerminated != nil {
		w.cfg.OnTerminated()
	}

	w.cfg.Logger.Debug("work package terminated", "processor", w.cfg.Processor, "segment", seg.String())
}

func (w *WorkPackage) markCaughtUp() {
	w.mu.Lock()
	changed := !w.caughtUp
	w.caughtUp = true
	w.mu.Unlock()

	if changed {
		w.publish()
	}
}

func (w *WorkPackage) setError(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

func (w *WorkPackage) publish() {
	if w.cfg.OnStatus != nil {
		w.cfg.OnStatus(w.Status())
	}
}

// sleep waits for d, an abort, or a scheduled event.
func (w *WorkPackage) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-w.abortCh:
	case <-w.wake:
	}
}
